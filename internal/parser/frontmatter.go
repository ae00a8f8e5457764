package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// splitFrontmatter separates the block between a leading --- line and the
// next --- line from the Markdown body. Without both delimiters the whole
// content is body.
func splitFrontmatter(text string) (string, string) {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) == 0 || trimLine(lines[0]) != frontmatterDelim {
		return "", text
	}
	for i := 1; i < len(lines); i++ {
		if trimLine(lines[i]) == frontmatterDelim {
			fm := strings.Join(lines[1:i], "")
			body := strings.Join(lines[i+1:], "")
			return strings.TrimRight(fm, "\r\n"), body
		}
	}
	return "", text
}

// frontmatterMeta is the part of the frontmatter the indexer reads.
type frontmatterMeta struct {
	Tags any `yaml:"tags"`
}

// frontmatterTags decodes the tags key as YAML, accepting a sequence or a
// comma-separated scalar. Blocks that are not valid YAML fall back to a
// line scan of the tags key.
func frontmatterTags(fm string) []string {
	if fm == "" {
		return nil
	}
	var meta frontmatterMeta
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return scanTags(fm)
	}
	switch v := meta.Tags.(type) {
	case []any:
		var out []string
		for _, item := range v {
			if item == nil {
				continue
			}
			if t := cleanTag(fmt.Sprint(item)); t != "" {
				out = append(out, t)
			}
		}
		return out
	case string:
		return inlineTagValues(v)
	case nil:
		return nil
	default:
		if t := cleanTag(fmt.Sprint(v)); t != "" {
			return []string{t}
		}
		return nil
	}
}

// scanTags reads the tags key in either inline-array form (tags: [a, b])
// or list form (following "- a" lines).
func scanTags(fm string) []string {
	lines := strings.Split(fm, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if !strings.HasPrefix(line, "tags:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "tags:"))
		if value != "" {
			return inlineTagValues(value)
		}
		return listTagValues(lines[i+1:])
	}
	return nil
}

func inlineTagValues(value string) []string {
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	var out []string
	for _, part := range strings.Split(value, ",") {
		if t := cleanTag(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// listTagValues consumes bullet lines until a non-bullet, non-blank line.
func listTagValues(lines []string) []string {
	var out []string
	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "-") {
			break
		}
		if t := cleanTag(strings.TrimPrefix(trimmed, "-")); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cleanTag(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimPrefix(s, "#")
}

func trimLine(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\r\n"))
}
