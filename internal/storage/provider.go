// Package storage defines the vault file-system abstraction.
package storage

import "context"

// Provider is the interface for read access to the vault.
type Provider interface {
	// Root returns the absolute vault root.
	Root() string
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Walk calls fn with the vault-relative path of every eligible file.
	Walk(ctx context.Context, fn func(rel string) error) error
	// Normalize turns an absolute or relative path into a vault-relative key.
	Normalize(path string) (string, error)
	// ShouldInclude reports whether rel is eligible for indexing.
	ShouldInclude(rel string, isDir bool) bool
}
