package postgres

import (
	"context"
	"database/sql"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

// LinkPostgres is a PostgreSQL implementation of repository.LinkRepository.
// Each edge is stored once under its canonical (low_id, high_id) key, which
// makes duplicate and reversed inserts collide on the primary key.
type LinkPostgres struct {
	db *sql.DB
}

// NewLinkPostgres creates a new LinkPostgres repository.
func NewLinkPostgres(db *sql.DB) *LinkPostgres {
	return &LinkPostgres{db: db}
}

var _ repository.LinkRepository = (*LinkPostgres)(nil)

func canonical(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Add inserts the edge, ignoring an existing one.
func (r *LinkPostgres) Add(ctx context.Context, link model.Link) (bool, error) {
	const q = `
		INSERT INTO document_links (low_id, high_id, source_id, target_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (low_id, high_id) DO NOTHING
	`
	low, high := canonical(link.Source, link.Target)
	res, err := r.db.ExecContext(ctx, q, low, high, link.Source, link.Target, link.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove deletes the edge between a and b in either direction.
func (r *LinkPostgres) Remove(ctx context.Context, a, b string) (bool, error) {
	const q = `DELETE FROM document_links WHERE low_id = $1 AND high_id = $2`
	low, high := canonical(a, b)
	res, err := r.db.ExecContext(ctx, q, low, high)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Neighbors returns the other endpoint of every edge touching id.
func (r *LinkPostgres) Neighbors(ctx context.Context, id string) ([]string, error) {
	const q = `
		SELECT high_id AS peer FROM document_links WHERE low_id = $1
		UNION
		SELECT low_id AS peer FROM document_links WHERE high_id = $1
		ORDER BY peer
	`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, err
		}
		out = append(out, peer)
	}
	return out, rows.Err()
}
