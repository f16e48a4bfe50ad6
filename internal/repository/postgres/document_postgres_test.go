package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

var docColumns = []string{
	"id", "image_key", "corners", "fingerprint", "fp_width", "fp_height",
	"label", "author", "doc_date", "description", "created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func testDocument(now time.Time) *model.Document {
	return &model.Document{
		ID:       "6f1c1c2e-7a43-4c0e-9d0c-2d7a1b1f5a10",
		ImageKey: "documents/6f1c1c2e.png",
		Corners:  model.Quad{{X: 10, Y: 20}, {X: 110, Y: 20}, {X: 110, Y: 170}, {X: 10, Y: 170}},
		Fingerprint: model.Fingerprint{
			Vector: []float32{0.5, -0.5, 0.25},
			Width:  100,
			Height: 150,
		},
		Properties: model.DocProperties{Label: "Invoice", Author: "Default author"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func documentRow(t *testing.T, d *model.Document) *sqlmock.Rows {
	t.Helper()
	corners, err := json.Marshal(d.Corners)
	require.NoError(t, err)
	return sqlmock.NewRows(docColumns).AddRow(
		d.ID, d.ImageKey, corners, pgvector.NewVector(d.Fingerprint.Vector).String(),
		d.Fingerprint.Width, d.Fingerprint.Height,
		d.Properties.Label, d.Properties.Author, d.Properties.Date, d.Properties.Description,
		d.CreatedAt, d.UpdatedAt,
	)
}

func TestDocumentPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	now := time.Now().UTC()
	doc := testDocument(now)
	corners, _ := json.Marshal(doc.Corners)

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(doc.ID, doc.ImageKey, corners, pgvector.NewVector(doc.Fingerprint.Vector),
				100, 150, "Invoice", "Default author", "", "", now, now).
			WillReturnRows(documentRow(t, doc))

		result, err := repo.Create(ctx, doc)

		require.NoError(t, err)
		assert.Equal(t, doc.ID, result.ID)
		assert.Equal(t, doc.Corners, result.Corners)
		assert.Equal(t, doc.Fingerprint, result.Fingerprint)
		assert.Equal(t, doc.Properties, result.Properties)
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WillReturnRows(sqlmock.NewRows(docColumns))

		result, err := repo.Create(ctx, doc)

		assert.ErrorIs(t, err, repository.ErrConflict)
		assert.Nil(t, result)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	doc := testDocument(time.Now().UTC())

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
			WithArgs(doc.ID).
			WillReturnRows(documentRow(t, doc))

		got, err := repo.FindByID(ctx, doc.ID)

		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, doc.Fingerprint.Vector, got.Fingerprint.Vector)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		got, err := repo.FindByID(ctx, "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, got)
	})

	t.Run("db error", func(t *testing.T) {
		boom := errors.New("connection reset")
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
			WithArgs(doc.ID).
			WillReturnError(boom)

		_, err := repo.FindByID(ctx, doc.ID)

		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), "a")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_UpdateProperties(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()
	doc := testDocument(now.Add(-time.Hour))
	doc.Properties.Author = "Ada"
	doc.UpdatedAt = now

	t.Run("partial patch", func(t *testing.T) {
		mock.ExpectQuery("UPDATE documents SET").
			WithArgs(doc.ID, nil, "Ada", nil, nil, now).
			WillReturnRows(documentRow(t, doc))

		got, err := repo.UpdateProperties(ctx, doc.ID, model.PropertiesPatch{Author: strPtr("Ada")}, now)

		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Properties.Author)
		assert.Equal(t, "Invoice", got.Properties.Label)
		assert.Equal(t, now, got.UpdatedAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		mock.ExpectQuery("UPDATE documents SET").
			WillReturnRows(sqlmock.NewRows(docColumns))

		_, err := repo.UpdateProperties(ctx, "missing", model.PropertiesPatch{Label: strPtr("x")}, now)

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_UpdateImage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	now := time.Now().UTC()
	doc := testDocument(now.Add(-time.Hour))
	upd := model.ImageUpdate{
		ImageKey:    "documents/recapture.png",
		Corners:     model.Quad{{X: 1, Y: 1}, {X: 9, Y: 1}, {X: 9, Y: 9}, {X: 1, Y: 9}},
		Fingerprint: model.Fingerprint{Vector: []float32{0.1, 0.2, 0.3}, Width: 8, Height: 8},
	}
	corners, _ := json.Marshal(upd.Corners)
	doc.ImageKey, doc.Corners, doc.Fingerprint, doc.UpdatedAt = upd.ImageKey, upd.Corners, upd.Fingerprint, now

	mock.ExpectQuery("UPDATE documents SET").
		WithArgs(doc.ID, upd.ImageKey, corners, pgvector.NewVector(upd.Fingerprint.Vector), 8, 8, now).
		WillReturnRows(documentRow(t, doc))

	got, err := repo.UpdateImage(context.Background(), doc.ID, upd, now)

	require.NoError(t, err)
	assert.Equal(t, upd.ImageKey, got.ImageKey)
	assert.Equal(t, upd.Fingerprint, got.Fingerprint)
	assert.Equal(t, "Invoice", got.Properties.Label)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mock.ExpectQuery("SELECT (.+) FROM documents ORDER BY").
			WithArgs(10, 0).
			WillReturnRows(documentRow(t, testDocument(time.Now().UTC())))

		res, err := repo.List(ctx, repository.PageQuery{Limit: 10, Offset: 0})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		assert.Len(t, res.Items, 1)
	})

	t.Run("count fails", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WillReturnError(errors.New("boom"))

		res, err := repo.List(ctx, repository.PageQuery{Limit: 10})

		assert.Error(t, err)
		assert.Nil(t, res)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Candidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()
	probe := model.Fingerprint{Vector: []float32{1, 0, 0}}

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "fingerprint", "fp_width", "fp_height", "updated_at"}).
			AddRow("a", "[1,0,0]", 10, 10, now).
			AddRow("b", "[0,1,0]", 20, 20, now)
	}

	t.Run("limited", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`SET LOCAL hnsw\.ef_search = 40$`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id, fingerprint, fp_width, fp_height, updated_at FROM documents ORDER BY fingerprint <-> (.+) LIMIT").
			WithArgs(pgvector.NewVector(probe.Vector), 5).
			WillReturnRows(rows())
		mock.ExpectCommit()

		got, err := repo.Candidates(ctx, probe, 5)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].DocumentID)
		assert.Equal(t, []float32{1, 0, 0}, got[0].Fingerprint.Vector)
		assert.Equal(t, 20, got[1].Fingerprint.Width)
	})

	t.Run("limit above default ef_search", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`SET LOCAL hnsw\.ef_search = 200$`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("LIMIT").
			WithArgs(pgvector.NewVector(probe.Vector), 200).
			WillReturnRows(rows())
		mock.ExpectCommit()

		got, err := repo.Candidates(ctx, probe, 200)

		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("set ef_search fails", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL hnsw").WillReturnError(errors.New("unrecognized configuration parameter"))
		mock.ExpectRollback()

		_, err := repo.Candidates(ctx, probe, 5)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "hnsw.ef_search")
	})

	t.Run("unlimited", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY fingerprint <-> (.+), id$").
			WithArgs(pgvector.NewVector(probe.Vector)).
			WillReturnRows(rows())

		got, err := repo.Candidates(ctx, probe, 0)

		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
