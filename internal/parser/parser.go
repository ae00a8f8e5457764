// Package parser extracts frontmatter, title, tags, and wikilinks from Markdown content.
package parser

import (
	"bytes"
	"errors"
	"strings"
)

// ErrBinary is returned for content that is not text.
var ErrBinary = errors.New("parser: binary content")

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter string
	Body        string
	Links       []string
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, title, tags, and wikilinks from raw Markdown bytes.
// Frontmatter tags come before inline tags; both lists keep first-seen order.
func Parse(data []byte) (*Result, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, ErrBinary
	}

	fm, body := splitFrontmatter(string(data))
	lines := codeMaskedLines(body)

	tags := newOrderedSet()
	tags.addAll(frontmatterTags(fm))
	tags.addAll(extractTags(lines))

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(lines),
		Tags:        tags.items,
		Title:       deriveTitle(body),
	}, nil
}

// deriveTitle returns the text of the first level-1 heading outside fenced
// code, or empty string.
func deriveTitle(body string) string {
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if isFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if _, dup := s.seen[v]; dup {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) addAll(vs []string) {
	for _, v := range vs {
		s.add(v)
	}
}
