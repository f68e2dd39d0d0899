package mdparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNoFrontmatter(t *testing.T) {
	meta, body := Parse("Just a body.\n\nSecond paragraph.")
	require.Empty(t, meta)
	require.Equal(t, "Just a body.\n\nSecond paragraph.", body)
}

func TestParseFrontmatter(t *testing.T) {
	source := "---\ntitle: X\nauthor: \"Y\"\n---\nBody text."
	meta, body := Parse(source)
	require.Equal(t, "X", meta["title"])
	require.Equal(t, "Y", meta["author"])
	require.Equal(t, "Body text.", body)
}

func TestParseSkipsUnrecognizedLines(t *testing.T) {
	source := "---\ntitle: X\nthis is not key value\nauthor: Y\n---\nBody."
	meta, _ := Parse(source)
	require.Equal(t, "X", meta["title"])
	require.Equal(t, "Y", meta["author"])
	require.Len(t, meta, 2)
}

func TestParseUnterminatedFrontmatterIsBody(t *testing.T) {
	source := "---\ntitle: X\nbody without closer"
	meta, body := Parse(source)
	require.Empty(t, meta)
	require.Equal(t, source, body)
}

func TestStripDuplicateFrontmatterKeepsFirst(t *testing.T) {
	source := "---\ntitle: First\n---\n---\ntitle: Second\n---\nBody."
	cleaned := StripDuplicateFrontmatter(source)
	meta, body := Parse(cleaned)
	require.Equal(t, "First", meta["title"])
	require.Equal(t, "Body.", body)
}

func TestStripDuplicateFrontmatterNoopWhenSingle(t *testing.T) {
	source := "---\ntitle: X\n---\nBody."
	require.Equal(t, source, StripDuplicateFrontmatter(source))
}

func TestExtractHeadingsAndLookup(t *testing.T) {
	body := "# Chapter One\n\nPara one.\n\n## Section A\n\nPara two."
	headings := ExtractHeadings(body)
	require.NotEmpty(t, headings)

	idx := len("# Chapter One\n\nPara one.\n\n")
	nearest := HeadingFor(headings, idx+1)
	require.Contains(t, []string{"Chapter One", "Section A"}, nearest)
}
