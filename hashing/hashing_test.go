package hashing

import "testing"

import "github.com/stretchr/testify/require"

func TestFileHashStable(t *testing.T) {
	a := FileHash([]byte("hello world"))
	b := FileHash([]byte("hello world"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, FileHash([]byte("hello world!")))
}

func TestBodyHashStable(t *testing.T) {
	a := BodyHash([]byte("# Title\n\nBody text."))
	b := BodyHash([]byte("# Title\n\nBody text."))
	require.Equal(t, a, b)
}

func TestContentHashTrimsWhitespace(t *testing.T) {
	a := ContentHash("  Para one.  ", "doc-1")
	b := ContentHash("Para one.", "doc-1")
	require.Equal(t, a, b)
}

func TestContentHashSensitiveToContext(t *testing.T) {
	a := ContentHash("Para one.", "doc-1")
	b := ContentHash("Para one.", "doc-2")
	require.NotEqual(t, a, b)
}

func TestParagraphIDDerivedFromHash(t *testing.T) {
	hash := ContentHash("Para one.", "doc-1")
	id1 := ParagraphID("doc-1", hash)
	id2 := ParagraphID("doc-1", hash)
	require.Equal(t, id1, id2)
	require.Contains(t, id1, hash[:12])
}
