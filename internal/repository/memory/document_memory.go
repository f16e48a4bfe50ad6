// Package memory holds in-process repository implementations used for local runs and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

type documentEntry struct {
	mu  sync.Mutex
	doc model.Document
}

// DocumentMemory is an in-memory implementation of repository.DocumentRepository
// and repository.CandidateIndex. The map lock is held only to find or insert an
// entry; record updates are serialized by the entry's own mutex.
type DocumentMemory struct {
	mu      sync.RWMutex
	entries map[string]*documentEntry
}

// NewDocumentMemory creates an empty DocumentMemory.
func NewDocumentMemory() *DocumentMemory {
	return &DocumentMemory{entries: make(map[string]*documentEntry)}
}

var (
	_ repository.DocumentRepository = (*DocumentMemory)(nil)
	_ repository.CandidateIndex     = (*DocumentMemory)(nil)
)

func cloneDocument(d model.Document) model.Document {
	d.Fingerprint.Vector = slices.Clone(d.Fingerprint.Vector)
	return d
}

func (r *DocumentMemory) entry(id string) (*documentEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Create stores a copy of doc.
func (r *DocumentMemory) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := cloneDocument(*doc)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[doc.ID]; ok {
		return nil, repository.ErrConflict
	}
	r.entries[doc.ID] = &documentEntry{doc: stored}
	out := cloneDocument(stored)
	return &out, nil
}

// FindByID returns a copy of the stored document.
func (r *DocumentMemory) FindByID(ctx context.Context, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.entry(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	e.mu.Lock()
	out := cloneDocument(e.doc)
	e.mu.Unlock()
	return &out, nil
}

// Exists reports whether id is stored.
func (r *DocumentMemory) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := r.entry(id)
	return ok, nil
}

func (r *DocumentMemory) update(ctx context.Context, id string, fn func(*model.Document)) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.entry(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.doc)
	out := cloneDocument(e.doc)
	return &out, nil
}

// UpdateProperties merges patch into the stored properties.
func (r *DocumentMemory) UpdateProperties(ctx context.Context, id string, patch model.PropertiesPatch, at time.Time) (*model.Document, error) {
	return r.update(ctx, id, func(d *model.Document) {
		d.Properties = patch.Apply(d.Properties)
		d.UpdatedAt = at
	})
}

// UpdateImage swaps image key, corners and fingerprint in one step.
func (r *DocumentMemory) UpdateImage(ctx context.Context, id string, upd model.ImageUpdate, at time.Time) (*model.Document, error) {
	fp := upd.Fingerprint
	fp.Vector = slices.Clone(fp.Vector)
	return r.update(ctx, id, func(d *model.Document) {
		d.ImageKey = upd.ImageKey
		d.Corners = upd.Corners
		d.Fingerprint = fp
		d.UpdatedAt = at
	})
}

func (r *DocumentMemory) snapshot() []*documentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*documentEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// List returns documents ordered by created_at DESC, id DESC.
func (r *DocumentMemory) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := r.snapshot()
	docs := make([]model.Document, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		docs = append(docs, cloneDocument(e.doc))
		e.mu.Unlock()
	}
	slices.SortFunc(docs, func(a, b model.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(docs)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.Document]{
		Items: docs[start:end],
		Total: total,
	}, nil
}

// Candidates returns a snapshot of every stored fingerprint ordered by id.
// The memory store does not rank, so limit is ignored.
func (r *DocumentMemory) Candidates(ctx context.Context, _ model.Fingerprint, _ int) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := r.snapshot()
	out := make([]model.Candidate, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, model.Candidate{
			DocumentID:  e.doc.ID,
			Fingerprint: e.doc.Fingerprint,
			UpdatedAt:   e.doc.UpdatedAt,
		})
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.Candidate) int { return cmp.Compare(a.DocumentID, b.DocumentID) })
	return out, nil
}
