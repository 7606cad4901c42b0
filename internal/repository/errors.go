package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrActiveCaseExists is returned when a create races another create for
	// the same source and loses on the active-case unique index.
	ErrActiveCaseExists = errors.New("active case already exists")
	// ErrStaleCase is returned when a conditional case update matched no row:
	// the version or state moved underneath the caller.
	ErrStaleCase = errors.New("case was modified concurrently")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}
