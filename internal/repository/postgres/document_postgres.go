package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository
// and repository.CandidateIndex. Fingerprints live in a pgvector column so match
// candidates can be pre-ranked by the database.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var (
	_ repository.DocumentRepository = (*DocumentPostgres)(nil)
	_ repository.CandidateIndex     = (*DocumentPostgres)(nil)
)

const documentColumns = `id, image_key, corners, fingerprint, fp_width, fp_height,
		label, author, doc_date, description, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d       model.Document
		corners []byte
		vec     pgvector.Vector
	)
	if err := row.Scan(
		&d.ID,
		&d.ImageKey,
		&corners,
		&vec,
		&d.Fingerprint.Width,
		&d.Fingerprint.Height,
		&d.Properties.Label,
		&d.Properties.Author,
		&d.Properties.Date,
		&d.Properties.Description,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(corners, &d.Corners); err != nil {
		return nil, fmt.Errorf("decode corners: %w", err)
	}
	d.Fingerprint.Vector = vec.Slice()
	return &d, nil
}

// notFound maps sql.ErrNoRows to repository.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	corners, err := json.Marshal(doc.Corners)
	if err != nil {
		return nil, fmt.Errorf("encode corners: %w", err)
	}
	q := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.ImageKey,
		corners,
		pgvector.NewVector(doc.Fingerprint.Vector),
		doc.Fingerprint.Width,
		doc.Fingerprint.Height,
		doc.Properties.Label,
		doc.Properties.Author,
		doc.Properties.Date,
		doc.Properties.Description,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	out, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrConflict
	}
	return out, err
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// Exists reports whether a document row with the given ID exists.
func (r *DocumentPostgres) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// UpdateProperties merges the non-nil patch fields in a single statement.
func (r *DocumentPostgres) UpdateProperties(ctx context.Context, id string, patch model.PropertiesPatch, at time.Time) (*model.Document, error) {
	q := `
		UPDATE documents SET
			label       = COALESCE($2, label),
			author      = COALESCE($3, author),
			doc_date    = COALESCE($4, doc_date),
			description = COALESCE($5, description),
			updated_at  = $6
		WHERE id = $1
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q, id, patch.Label, patch.Author, patch.Date, patch.Description, at)
	d, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// UpdateImage replaces image key, corners and fingerprint in a single statement.
func (r *DocumentPostgres) UpdateImage(ctx context.Context, id string, upd model.ImageUpdate, at time.Time) (*model.Document, error) {
	corners, err := json.Marshal(upd.Corners)
	if err != nil {
		return nil, fmt.Errorf("encode corners: %w", err)
	}
	q := `
		UPDATE documents SET
			image_key   = $2,
			corners     = $3,
			fingerprint = $4,
			fp_width    = $5,
			fp_height   = $6,
			updated_at  = $7
		WHERE id = $1
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q,
		id,
		upd.ImageKey,
		corners,
		pgvector.NewVector(upd.Fingerprint.Vector),
		upd.Fingerprint.Width,
		upd.Fingerprint.Height,
		at,
	)
	d, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	qList := `
		SELECT ` + documentColumns + `
		FROM documents
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// hnswMinEfSearch is pgvector's default hnsw.ef_search. An HNSW index scan
// returns at most ef_search rows, whatever the LIMIT.
const hnswMinEfSearch = 40

// hnswMaxEfSearch is the largest hnsw.ef_search pgvector accepts.
const hnswMaxEfSearch = 1000

// Candidates returns stored fingerprints ordered by L2 distance to fp.
// A positive limit lets the HNSW index answer; ef_search is raised to the
// limit for the transaction so the index scan can return that many rows.
func (r *DocumentPostgres) Candidates(ctx context.Context, fp model.Fingerprint, limit int) ([]model.Candidate, error) {
	const query = `
		SELECT id, fingerprint, fp_width, fp_height, updated_at
		FROM documents
		ORDER BY fingerprint <-> $1, id`
	vec := pgvector.NewVector(fp.Vector)

	if limit <= 0 {
		rows, err := r.db.QueryContext(ctx, query, vec)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanCandidates(rows)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	efSearch := min(max(limit, hnswMinEfSearch), hnswMaxEfSearch)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query+`
		LIMIT $2`, vec, limit)
	if err != nil {
		return nil, err
	}
	out, err := scanCandidates(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func scanCandidates(rows *sql.Rows) ([]model.Candidate, error) {
	out := make([]model.Candidate, 0)
	for rows.Next() {
		var (
			c   model.Candidate
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.DocumentID, &vec, &c.Fingerprint.Width, &c.Fingerprint.Height, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Fingerprint.Vector = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}
