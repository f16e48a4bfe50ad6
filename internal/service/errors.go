package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrUnknownDocument = errors.New("unknown document")
	ErrSelfLink        = errors.New("a document cannot link to itself")
	ErrLinkNotFound    = errors.New("link not found")
	ErrEmptyPatch      = errors.New("no properties to update")
	// ErrPersistence wraps storage and database failures.
	ErrPersistence = errors.New("persistence failure")
)

// persistence marks err as a backend failure while keeping it inspectable.
func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// normalizeID returns the canonical form of a document id.
// Anything that is not a UUID cannot name a stored document.
func normalizeID(id string) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return u.String(), nil
}
