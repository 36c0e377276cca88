// Package storage defines where backup artifacts are kept. A Backend is
// scoped to one (connection, destination) pair.
package storage

import (
	"context"
)

// Backend stores the artifacts of one pair.
type Backend interface {
	// Publish makes the staged file at stagingPath visible under name.
	// Readers never observe a partially written artifact.
	Publish(ctx context.Context, name, stagingPath string) (int64, error)

	// Fetch makes artifact name available as a local file. The returned
	// cleanup func must be called once the file is no longer needed.
	Fetch(ctx context.Context, name, stagingDir string) (path string, cleanup func(), err error)

	// List returns the names of all objects in the pair's location.
	List(ctx context.Context) ([]string, error)

	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes name. A missing artifact yields a not found error.
	Delete(ctx context.Context, name string) error

	// Location describes where artifacts live, for logs.
	Location() string
}
