// Package id generates and validates visitor identifiers.
//
// Visitor identifiers are lowercase UUIDv4 strings (36 characters including
// hyphens). Values resumed from client state are accepted only when they
// match that shape; anything else is treated as absent.
package id

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var wellFormed = regexp.MustCompile(`^[a-z0-9-]{36}$`)

// NewVisitorID returns a freshly generated visitor identifier.
func NewVisitorID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return value.String(), nil
}

// IsWellFormed reports whether value has the shape of a visitor identifier.
func IsWellFormed(value string) bool {
	return wellFormed.MatchString(value)
}
