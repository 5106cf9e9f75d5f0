// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is busy, e.g. a plan that already has an
// execution in flight.
var ErrConflict = errors.New("conflict: resource is busy")

// ErrValidation indicates malformed input supplied by a caller.
var ErrValidation = errors.New("validation failed")
