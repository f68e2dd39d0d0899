// Package hashing provides the deterministic fingerprints used throughout
// the ingestion core: whole-file hashes, body hashes, and the content hash
// that keys the embedding cache.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FileHash returns a stable hex digest of raw file bytes.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BodyHash returns a stable hex digest of a markdown body (frontmatter excluded).
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns a stable hex digest over a paragraph's text and its
// disambiguating context, trimmed before hashing so surrounding whitespace
// never changes the result.
func ContentHash(text, context string) string {
	joined := strings.TrimSpace(text) + "|||" + strings.TrimSpace(context)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// ParagraphID derives a stable per-row id from a document id and the first
// 12 hex characters of the paragraph's content hash, so ids survive
// re-segmentation as long as the words themselves are unchanged.
func ParagraphID(documentID, contentHash string) string {
	prefix := contentHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return documentID + ":" + prefix
}
