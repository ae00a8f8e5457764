package parser

import (
	"strings"
	"unicode"
)

// codeMaskedLines returns the body lines outside fenced code blocks, with
// inline code spans blanked out. Fence lines themselves are dropped.
func codeMaskedLines(body string) []string {
	var out []string
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
		out = append(out, maskInlineCode(line))
	}
	return out
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// maskInlineCode replaces every backtick span, delimiters included, with
// spaces of the same byte length. An opening run without a matching closing
// run of equal length is left as is.
func maskInlineCode(line string) string {
	if !strings.Contains(line, "`") {
		return line
	}
	b := []byte(line)
	i := 0
	for i < len(b) {
		if b[i] != '`' {
			i++
			continue
		}
		open := runLength(b, i)
		closeAt := -1
		for j := i + open; j < len(b); {
			if b[j] != '`' {
				j++
				continue
			}
			n := runLength(b, j)
			if n == open {
				closeAt = j
				break
			}
			j += n
		}
		if closeAt < 0 {
			i += open
			continue
		}
		end := closeAt + open
		for k := i; k < end; k++ {
			b[k] = ' '
		}
		i = end
	}
	return string(b)
}

func runLength(b []byte, at int) int {
	n := 0
	for at+n < len(b) && b[at+n] == '`' {
		n++
	}
	return n
}

// extractTags collects #tags. A tag starts at a # preceded by start of line,
// whitespace, ( or [, and continues over letters, digits, -, _ and /.
func extractTags(lines []string) []string {
	set := newOrderedSet()
	for _, line := range lines {
		runes := []rune(line)
		prev := rune(-1)
		for i := 0; i < len(runes); i++ {
			r := runes[i]
			if r == '#' && tagBoundary(prev) {
				j := i + 1
				for j < len(runes) && isTagRune(runes[j]) {
					j++
				}
				if j > i+1 {
					set.add(string(runes[i+1 : j]))
					prev = runes[j-1]
					i = j - 1
					continue
				}
			}
			prev = r
		}
	}
	return set.items
}

func tagBoundary(prev rune) bool {
	return prev == -1 || unicode.IsSpace(prev) || prev == '(' || prev == '['
}

func isTagRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '/'
}

// extractLinks returns deduplicated wikilink targets. Aliases and block
// references (#^id) are stripped; heading references (#Heading) are kept.
func extractLinks(lines []string) []string {
	set := newOrderedSet()
	for _, line := range lines {
		rest := line
		for {
			start := strings.Index(rest, "[[")
			if start < 0 {
				break
			}
			inner := rest[start+2:]
			end := strings.Index(inner, "]]")
			if end < 0 {
				break
			}
			set.add(linkTarget(inner[:end]))
			rest = inner[end+2:]
		}
	}
	return set.items
}

func linkTarget(raw string) string {
	target := raw
	if i := strings.Index(target, "|"); i >= 0 {
		target = target[:i]
	}
	if i := strings.Index(target, "#^"); i >= 0 {
		target = target[:i]
	}
	return strings.TrimSpace(target)
}
