// Package mdparse splits a markdown source file into frontmatter metadata
// and body, and locates the headings a paragraph falls under.
package mdparse

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

const frontmatterDelim = "---"

// Parse splits raw markdown into frontmatter metadata and body. Absence of a
// leading frontmatter block is not an error: metadata is empty and body
// equals input verbatim.
func Parse(source string) (metadata map[string]string, body string) {
	metadata = make(map[string]string)

	lines := strings.Split(source, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return metadata, source
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			end = i
			break
		}
	}
	if end == -1 {
		// Unterminated block: treat the whole thing as body, per "no frontmatter" rule.
		return metadata, source
	}

	for _, line := range lines[1:end] {
		key, value, ok := parseFrontmatterLine(line)
		if ok {
			metadata[key] = value
		}
	}

	body = strings.Join(lines[end+1:], "\n")
	body = strings.TrimPrefix(body, "\n")
	return metadata, body
}

func parseFrontmatterLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(line[idx+1:])
	value = unquote(value)
	return key, value, true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// StripDuplicateFrontmatter removes a second leading frontmatter block from a
// source file, preserving the first-block-wins rule Parse already follows.
// It is a maintenance utility, not part of the ingestion hot path.
func StripDuplicateFrontmatter(source string) string {
	lines := strings.Split(source, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return source
	}

	firstEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			firstEnd = i
			break
		}
	}
	if firstEnd == -1 {
		return source
	}

	rest := lines[firstEnd+1:]
	// Skip blank lines between the two blocks, if any.
	skip := 0
	for skip < len(rest) && strings.TrimSpace(rest[skip]) == "" {
		skip++
	}
	if skip >= len(rest) || strings.TrimSpace(rest[skip]) != frontmatterDelim {
		return source
	}

	secondEnd := -1
	for i := skip + 1; i < len(rest); i++ {
		if strings.TrimSpace(rest[i]) == frontmatterDelim {
			secondEnd = i
			break
		}
	}
	if secondEnd == -1 {
		return source
	}

	kept := append([]string{}, lines[:firstEnd+1]...)
	kept = append(kept, rest[secondEnd+1:]...)
	return strings.Join(kept, "\n")
}

// Heading is a markdown heading with the byte offset (in the body string) at
// which its text begins, after any leading '#' marker.
type Heading struct {
	Offset int
	Level  int
	Text   string
}

// ExtractHeadings walks the body's markdown AST and returns every heading in
// document order with its byte offset, so paragraphs can be attributed to
// their nearest preceding heading.
func ExtractHeadings(body string) []Heading {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := markdown.Parse([]byte(body), p)

	var headings []Heading
	offset := 0
	remaining := body

	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		h, ok := node.(*ast.Heading)
		if !ok {
			return ast.GoToNext
		}
		text := headingText(h)
		if text == "" {
			return ast.GoToNext
		}
		idx := strings.Index(remaining, text)
		pos := offset
		if idx >= 0 {
			pos = offset + idx
			remaining = remaining[idx+len(text):]
			offset = pos + len(text)
		}
		headings = append(headings, Heading{Offset: pos, Level: h.Level, Text: text})
		return ast.GoToNext
	})

	return headings
}

func headingText(h *ast.Heading) string {
	var sb strings.Builder
	ast.WalkFunc(h, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if leaf, ok := node.(*ast.Text); ok {
			sb.Write(leaf.Literal)
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(sb.String())
}

// HeadingFor returns the text of the nearest heading at or before offset, or
// the empty string if the paragraph precedes every heading.
func HeadingFor(headings []Heading, offset int) string {
	var current string
	for _, h := range headings {
		if h.Offset > offset {
			break
		}
		current = h.Text
	}
	return current
}
