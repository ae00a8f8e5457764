// Package models defines the domain types shared by the indexing pipeline.
package models

import "time"

// ChangeKind classifies a file change notification.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota + 1
	ChangeModified
	ChangeDeleted
)

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreated, ChangeModified, ChangeDeleted:
		return true
	}
	return false
}

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single notification that a vault file changed.
// Path is either vault-relative or absolute under the vault root.
type ChangeEvent struct {
	Path       string     `json:"path"`
	Kind       ChangeKind `json:"kind"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Document is the unit written into the search index. Path is the index key.
type Document struct {
	Path        string   `json:"path"`
	Title       string   `json:"title,omitempty"`
	Body        string   `json:"body"`
	Tags        []string `json:"tags,omitempty"`
	Wikilinks   []string `json:"wikilinks,omitempty"`
	Frontmatter string   `json:"frontmatter,omitempty"`
	Checksum    string   `json:"checksum"`
}
