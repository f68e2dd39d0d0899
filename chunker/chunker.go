// Package chunker splits a document body into paragraph-level chunks within
// configured size bounds, preferring sentence and word boundaries over raw
// character cuts. The packing/overlap strategy is adapted from the stats
// agent's prepareChunks, generalized to operate over whole paragraphs
// instead of sentence-estimated tokens.
package chunker

import (
	"regexp"
	"strings"
)

// Options tunes the chunker. Defaults mirror the teacher's document
// preparation sizes, scaled up for library-length source documents.
type Options struct {
	MaxChunk int
	MinChunk int
	Overlap  int
}

// DefaultOptions returns the spec's default tuning.
func DefaultOptions() Options {
	return Options{MaxChunk: 1500, MinChunk: 100, Overlap: 150}
}

// Chunk is one emitted chunk with the byte offset in the body of the
// paragraph it was cut from (all pieces of a split oversized paragraph share
// that offset), used downstream to attribute a heading (see
// mdparse.HeadingFor).
type Chunk struct {
	Text   string
	Offset int
}

var paragraphSplitRE = regexp.MustCompile(`\n{2,}`)
var sentenceSplitRE = regexp.MustCompile(`([.!?])\s+`)

// Split breaks body into ordered chunks satisfying opts' size bounds.
func Split(body string, opts Options) []Chunk {
	if opts.MaxChunk <= 0 {
		opts = DefaultOptions()
	}

	var chunks []Chunk
	offset := 0
	for _, candidate := range splitParagraphs(body) {
		start := strings.Index(body[offset:], candidate.text)
		absOffset := offset
		if start >= 0 {
			absOffset = offset + start
			offset = absOffset + len(candidate.text)
		}

		trimmed := strings.TrimSpace(candidate.text)
		if len(trimmed) < opts.MinChunk {
			continue
		}

		if len(trimmed) <= opts.MaxChunk {
			chunks = append(chunks, Chunk{Text: trimmed, Offset: absOffset})
			continue
		}

		for _, piece := range splitOversized(trimmed, opts) {
			chunks = append(chunks, Chunk{Text: piece, Offset: absOffset})
		}
	}

	return chunks
}

type paragraphCandidate struct {
	text string
}

func splitParagraphs(body string) []paragraphCandidate {
	parts := paragraphSplitRE.Split(body, -1)
	candidates := make([]paragraphCandidate, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		candidates = append(candidates, paragraphCandidate{text: p})
	}
	return candidates
}

// splitOversized packs sentences greedily into chunks no larger than
// MaxChunk, carrying an overlap tail (whole-word aligned) into the next
// chunk, then hard-splits any single sentence that alone exceeds MaxChunk.
func splitOversized(text string, opts Options) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var packed []string
	var current strings.Builder
	var pendingOverlap string

	flush := func() {
		if current.Len() == 0 {
			return
		}
		finished := current.String()
		packed = append(packed, finished)
		pendingOverlap = wordAlignedTail(finished, opts.Overlap)
		current.Reset()
		if pendingOverlap != "" {
			current.WriteString(pendingOverlap)
		}
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if len(sentence) > opts.MaxChunk {
			flush()
			current.Reset() // a hard split does not carry overlap into itself
			packed = append(packed, hardSplit(sentence, opts.MaxChunk)...)
			continue
		}

		prospective := current.Len()
		if prospective > 0 {
			prospective++ // separator space
		}
		prospective += len(sentence)

		if prospective > opts.MaxChunk && current.Len() > 0 {
			flush()

			// the overlap tail just seeded into current still counts against
			// the bound; if it alone leaves no room for this sentence, drop
			// it rather than let the chunk grow past MaxChunk.
			reseeded := current.Len()
			if reseeded > 0 {
				reseeded++
			}
			reseeded += len(sentence)
			if reseeded > opts.MaxChunk && current.Len() > 0 {
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	flush()

	return packed
}

func splitSentences(text string) []string {
	marked := sentenceSplitRE.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit cuts an oversized sentence at maxChunk character boundaries,
// aligned to whole runes.
func hardSplit(sentence string, maxChunk int) []string {
	runes := []rune(sentence)
	var out []string
	for start := 0; start < len(runes); start += maxChunk {
		end := start + maxChunk
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

func wordAlignedTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	tail := s[len(s)-maxLen:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}
