package repository

import (
	"context"
	"time"

	"holodoc/internal/model"
)

// DocumentRepository defines data access for documents.
// No business logic here, strictly persistence operations.
// Every write is atomic per record; concurrent writes to different ids never block each other.
type DocumentRepository interface {
	// Create inserts a new document record. The caller assigns ID and timestamps.
	// Returns ErrConflict if the id is taken.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// Exists reports whether a document with the given ID is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// UpdateProperties merges the non-nil fields of patch and bumps UpdatedAt.
	UpdateProperties(ctx context.Context, id string, patch model.PropertiesPatch, at time.Time) (*model.Document, error)

	// UpdateImage replaces image key, corners and fingerprint together and bumps UpdatedAt.
	UpdateImage(ctx context.Context, id string, upd model.ImageUpdate, at time.Time) (*model.Document, error)

	// List returns a paginated list of documents and total rows count, newest first.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)
}

// CandidateIndex serves fingerprints to the match engine.
// Implementations read a consistent snapshot and never block writers for the whole scan.
type CandidateIndex interface {
	// Candidates returns up to limit stored fingerprints nearest to fp.
	// Backends that cannot rank return every stored fingerprint. A limit <= 0 means no limit.
	Candidates(ctx context.Context, fp model.Fingerprint, limit int) ([]model.Candidate, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
