// Package uuid provides UUID-based identifier generation.
package uuid

import "github.com/google/uuid"

// Generator issues UUIDv7 identifiers, which sort roughly by creation time.
type Generator struct{}

// New returns a UUID generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh identifier.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
