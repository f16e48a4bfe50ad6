// Package repository contains data access layer abstractions.
// Implementations live in subpackages (memory, postgres) inside this directory.
package repository

import "errors"

var (
	// ErrNotFound is returned when a record with the requested id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when creating a record whose id is already taken.
	ErrConflict = errors.New("record already exists")
)
