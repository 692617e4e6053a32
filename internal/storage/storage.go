// Package storage provides the blob stores that archive page artifacts
// (raw HTML, screenshots). The store contract lives in internal/scrape.
package storage

import "context"

// NoOp discards artifacts. Wired when archiving is disabled so callers can
// always hold a store.
type NoOp struct{}

// Put drops the data and returns an empty reference.
func (NoOp) Put(_ context.Context, _, _ string, _ []byte) (string, error) {
	return "", nil
}
