package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

func strPtr(s string) *string { return &s }

func newDoc(id string, created time.Time) *model.Document {
	return &model.Document{
		ID:          id,
		ImageKey:    "documents/" + id + ".png",
		Fingerprint: model.Fingerprint{Vector: []float32{1, 0, 0}, Width: 10, Height: 20},
		Properties:  model.DocProperties{Label: "label-" + id},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestDocumentMemory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	in := newDoc("a", now)
	stored, err := repo.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ID)

	// Mutating the caller's copy does not leak into the store.
	in.Fingerprint.Vector[0] = 42

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Fingerprint.Vector[0])
	assert.Equal(t, "label-a", got.Properties.Label)

	_, err = repo.Create(ctx, newDoc("a", now))
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ok, err := repo.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentMemory_UpdateProperties(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := repo.Create(ctx, newDoc("a", created))
	require.NoError(t, err)

	later := created.Add(time.Minute)
	got, err := repo.UpdateProperties(ctx, "a", model.PropertiesPatch{Author: strPtr("Ada")}, later)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Properties.Author)
	assert.Equal(t, "label-a", got.Properties.Label)
	assert.Equal(t, later, got.UpdatedAt)
	assert.Equal(t, created, got.CreatedAt)

	_, err = repo.UpdateProperties(ctx, "missing", model.PropertiesPatch{}, later)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDocumentMemory_UpdateImage(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := repo.Create(ctx, newDoc("a", created))
	require.NoError(t, err)

	upd := model.ImageUpdate{
		ImageKey:    "documents/new.png",
		Corners:     model.Quad{{X: 1, Y: 2}, {X: 3, Y: 2}, {X: 3, Y: 4}, {X: 1, Y: 4}},
		Fingerprint: model.Fingerprint{Vector: []float32{0, 1, 0}, Width: 30, Height: 40},
	}
	got, err := repo.UpdateImage(ctx, "a", upd, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "documents/new.png", got.ImageKey)
	assert.Equal(t, upd.Corners, got.Corners)
	assert.Equal(t, upd.Fingerprint, got.Fingerprint)
	assert.Equal(t, "label-a", got.Properties.Label)

	_, err = repo.UpdateImage(ctx, "missing", upd, created)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDocumentMemory_ConcurrentPatchesKeepEveryField(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	now := time.Now().UTC()
	_, err := repo.Create(ctx, newDoc("a", now))
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		_, err := repo.UpdateProperties(ctx, "a", model.PropertiesPatch{Author: strPtr("Ada")}, now)
		return err
	})
	g.Go(func() error {
		_, err := repo.UpdateProperties(ctx, "a", model.PropertiesPatch{Date: strPtr("2024-05-01")}, now)
		return err
	})
	require.NoError(t, g.Wait())

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Properties.Author)
	assert.Equal(t, "2024-05-01", got.Properties.Date)
}

func TestDocumentMemory_List(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, newDoc(fmt.Sprintf("doc-%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	res, err := repo.List(ctx, repository.PageQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "doc-3", res.Items[0].ID)
	assert.Equal(t, "doc-2", res.Items[1].ID)

	res, err = repo.List(ctx, repository.PageQuery{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 5, res.Total)
}

func TestDocumentMemory_Candidates(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentMemory()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := repo.Create(ctx, newDoc("b", now))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newDoc("a", now.Add(time.Second)))
	require.NoError(t, err)

	got, err := repo.Candidates(ctx, model.Fingerprint{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 2, "memory store ignores limit")
	assert.Equal(t, "a", got[0].DocumentID)
	assert.Equal(t, now.Add(time.Second), got[0].UpdatedAt)
	assert.Equal(t, "b", got[1].DocumentID)
}

func TestDocumentMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewDocumentMemory()
	_, err := repo.Create(ctx, newDoc("a", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinkMemory_AddIsUndirectedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewLinkMemory()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, err := repo.Add(ctx, model.Link{Source: "a", Target: "b", CreatedAt: at})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Add(ctx, model.Link{Source: "a", Target: "b", CreatedAt: at})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = repo.Add(ctx, model.Link{Source: "b", Target: "a", CreatedAt: at})
	require.NoError(t, err)
	assert.False(t, created, "reverse pair is the same edge")

	ids, err := repo.Neighbors(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	ids, err = repo.Neighbors(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestLinkMemory_Remove(t *testing.T) {
	ctx := context.Background()
	repo := NewLinkMemory()
	_, err := repo.Add(ctx, model.Link{Source: "a", Target: "b"})
	require.NoError(t, err)
	_, err = repo.Add(ctx, model.Link{Source: "a", Target: "c"})
	require.NoError(t, err)

	removed, err := repo.Remove(ctx, "b", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Remove(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = repo.Remove(ctx, "x", "y")
	require.NoError(t, err)
	assert.False(t, removed)

	ids, err := repo.Neighbors(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)

	ids, err = repo.Neighbors(ctx, "unlinked")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLinkMemory_ConcurrentOverlappingPairs(t *testing.T) {
	ctx := context.Background()
	repo := NewLinkMemory()
	ids := []string{"a", "b", "c", "d"}

	var g errgroup.Group
	for round := 0; round < 50; round++ {
		for i := range ids {
			for j := range ids {
				if i == j {
					continue
				}
				src, dst := ids[i], ids[j]
				g.Go(func() error {
					_, err := repo.Add(ctx, model.Link{Source: src, Target: dst})
					return err
				})
			}
		}
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		got, err := repo.Neighbors(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got, len(ids)-1, "neighbors of %s", id)
	}
}
