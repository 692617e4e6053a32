// Package uuid provides ID generation helpers.
package uuid

import "github.com/google/uuid"

// Generator implements scrape.IDGenerator with UUID v7 values, which sort by
// creation time and keep job listings in submission order.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// New returns a fresh UUID v7.
func (Generator) New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
