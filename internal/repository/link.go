package repository

import (
	"context"

	"holodoc/internal/model"
)

// LinkRepository stores undirected edges between documents.
// (a, b) and (b, a) address the same edge. Endpoint existence is checked by the caller.
type LinkRepository interface {
	// Add stores the edge unless it already exists. created is false for a duplicate.
	Add(ctx context.Context, link model.Link) (created bool, err error)

	// Remove deletes the edge between a and b. removed is false when there was none.
	Remove(ctx context.Context, a, b string) (removed bool, err error)

	// Neighbors returns the ids linked to id, each once, in ascending order.
	Neighbors(ctx context.Context, id string) ([]string, error)
}
