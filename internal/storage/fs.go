package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/susamn/obsidian-web/internal/apperr"
)

// MarkdownExt is the extension of files eligible for indexing.
const MarkdownExt = ".md"

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to vault directory
	ignore gitignore.Matcher
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. .gitignore files under the root are
// honoured by ShouldInclude.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	patterns, err := gitignore.ReadPatterns(osfs.New(abs), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: read ignore patterns: %w", err)
	}
	return &FS{root: abs, ignore: gitignore.NewMatcher(patterns)}, nil
}

// Root returns the absolute vault root.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// Normalize returns the slash-separated vault-relative form of path, which
// may be absolute (under the root) or relative.
func (f *FS) Normalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("storage: empty path")
	}
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(f.root, filepath.Clean(p))
		if err != nil {
			return "", fmt.Errorf("storage: relativize %s: %w", path, err)
		}
		p = rel
	}
	abs, err := f.safePath(p)
	if err != nil {
		return "", err
	}
	if abs == f.root {
		return "", fmt.Errorf("storage: path is the vault root: %s", path)
	}
	rel, _ := filepath.Rel(f.root, abs)
	return filepath.ToSlash(rel), nil
}

// ShouldInclude reports whether rel is eligible: no hidden segment, not
// ignored, and for files a .md extension.
func (f *FS) ShouldInclude(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return isDir
	}
	segments := strings.Split(rel, "/")
	for _, s := range segments {
		if strings.HasPrefix(s, ".") {
			return false
		}
	}
	if f.ignore != nil && f.ignore.Match(segments, isDir) {
		return false
	}
	if isDir {
		return true
	}
	return strings.EqualFold(filepath.Ext(rel), MarkdownExt)
}

// Walk visits every eligible file under the root in lexical order.
// Unreadable subdirectories are skipped; an unreadable root is an error.
func (f *FS) Walk(ctx context.Context, fn func(rel string) error) error {
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == f.root {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == f.root {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if !f.ShouldInclude(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.ShouldInclude(rel, false) {
			return nil
		}
		return fn(rel)
	})
	if err != nil {
		return fmt.Errorf("storage: walk: %w", err)
	}
	return nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(filepath.FromSlash(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w: %w", path, apperr.ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

var _ Provider = (*FS)(nil)
