// Package segmenter wraps a paragraph's text with stable per-sentence
// markers and verifies the round-trip invariant: stripping markers and
// collapsing whitespace must reproduce the original text exactly.
package segmenter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/siftertext/ingestcore/xerrors"
)

// markerRE matches any sentence or phrase marker, opening or closing.
var markerRE = regexp.MustCompile(`⁅/?(?:s|ph)\d+⁆`)

var whitespaceRE = regexp.MustCompile(`\s+`)

// LLMClient is the three-stage protocol used for scripts without explicit
// sentence-ending punctuation (Arabic, Persian). Each stage is a single
// round-trip to an external language model.
type LLMClient interface {
	// IdentifyPhraseBoundaries returns the word indices (1-based) that end a
	// phrase, given the numbered words of the paragraph.
	IdentifyPhraseBoundaries(ctx context.Context, numberedWords []string) ([]int, error)
	// IdentifySentenceBoundaries returns the phrase indices (1-based) that
	// end a sentence, given the numbered phrases.
	IdentifySentenceBoundaries(ctx context.Context, numberedPhrases []string) ([]int, error)
	// IdentifyParagraphBoundaries returns the sentence indices (1-based)
	// that start a new paragraph, given the numbered sentences of a full
	// document body. The first paragraph always starts at sentence 1.
	IdentifyParagraphBoundaries(ctx context.Context, numberedSentences []string) ([]int, error)
}

// Segmenter produces marked text for a paragraph.
type Segmenter struct {
	llm LLMClient
}

// New builds a Segmenter. llm may be nil if only English text is ever
// segmented (the English path never calls it).
func New(llm LLMClient) *Segmenter {
	return &Segmenter{llm: llm}
}

// Segment wraps each sentence of text in ⁅sN⁆...⁅/sN⁆ markers and verifies
// the round-trip invariant before returning. On a round-trip mismatch it
// returns the original, unmarked text alongside ErrValidationFailed so the
// caller can store it unmarked and flag it, per the orchestrator's
// paragraph-local failure semantics.
func (s *Segmenter) Segment(ctx context.Context, text, language string) (marked string, err error) {
	var sentences []string
	switch language {
	case "ar", "fa":
		sentences, err = s.segmentViaLLM(ctx, text)
		if err != nil {
			return text, err
		}
	default:
		sentences = segmentEnglish(text)
	}

	if len(sentences) == 0 {
		sentences = []string{text}
	}

	marked = markSentences(sentences)
	if !VerifyRoundTrip(text, marked) {
		return text, xerrors.Wrapf(xerrors.ErrValidationFailed, "sentence marker round-trip mismatch for %.40q", text)
	}
	return marked, nil
}

func segmentEnglish(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return []string{text}
	}
	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, sent := range sentences {
		trimmed := strings.TrimSpace(sent.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// segmentViaLLM runs the phrase-then-sentence protocol described in spec
// §4.E for scripts lacking explicit sentence-ending punctuation.
func (s *Segmenter) segmentViaLLM(ctx context.Context, text string) ([]string, error) {
	if s.llm == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "no LLM client configured for RTL segmentation")
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	numberedWords := make([]string, len(words))
	for i, w := range words {
		numberedWords[i] = fmt.Sprintf("%d. %s", i+1, w)
	}

	phraseBoundaries, err := s.llm.IdentifyPhraseBoundaries(ctx, numberedWords)
	if err != nil {
		return nil, xerrors.Wrap(err, "identify phrase boundaries")
	}
	phrases := groupByBoundaries(words, phraseBoundaries)

	numberedPhrases := make([]string, len(phrases))
	for i, p := range phrases {
		numberedPhrases[i] = fmt.Sprintf("%d. %s", i+1, p)
	}

	sentenceBoundaries, err := s.llm.IdentifySentenceBoundaries(ctx, numberedPhrases)
	if err != nil {
		return nil, xerrors.Wrap(err, "identify sentence boundaries")
	}
	return groupByBoundaries(phrases, sentenceBoundaries), nil
}

// GroupParagraphs implements the third stage of the LLM protocol (spec
// §4.E): given the full body of an ar/fa document, it runs the phrase- and
// sentence-boundary stages to obtain a sentence stream, then asks the model
// which sentences start a new paragraph. Used during full re-ingestion and
// resegmentation passes, where blank-line paragraph breaks in the source
// cannot be trusted for scripts without reliable paragraph punctuation.
func (s *Segmenter) GroupParagraphs(ctx context.Context, text, language string) ([]string, error) {
	if language != "ar" && language != "fa" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "paragraph grouping is only defined for ar/fa sources")
	}
	if s.llm == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "no LLM client configured for RTL segmentation")
	}

	sentences, err := s.segmentViaLLM(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, nil
	}

	numberedSentences := make([]string, len(sentences))
	for i, sent := range sentences {
		numberedSentences[i] = fmt.Sprintf("%d. %s", i+1, sent)
	}

	starts, err := s.llm.IdentifyParagraphBoundaries(ctx, numberedSentences)
	if err != nil {
		return nil, xerrors.Wrap(err, "identify paragraph boundaries")
	}
	return groupByStarts(sentences, starts), nil
}

// groupByStarts joins units into paragraphs given 1-based paragraph-start
// sentence indices, forcing the first paragraph to start at sentence 1
// regardless of what the model returned.
func groupByStarts(units []string, starts []int) []string {
	normalized := make([]int, 0, len(starts)+1)
	seen := make(map[int]bool)
	for _, st := range starts {
		if st >= 1 && st <= len(units) && !seen[st] {
			normalized = append(normalized, st)
			seen[st] = true
		}
	}
	sort.Ints(normalized)
	if len(normalized) == 0 || normalized[0] != 1 {
		normalized = append([]int{1}, normalized...)
	}

	groups := make([]string, 0, len(normalized))
	for i, start := range normalized {
		end := len(units)
		if i+1 < len(normalized) {
			end = normalized[i+1] - 1
		}
		groups = append(groups, strings.TrimSpace(strings.Join(units[start-1:end], " ")))
	}
	return groups
}

// groupByBoundaries joins units[0:boundaries[0]], units[boundaries[0]:boundaries[1]], ...
// where boundaries are 1-based inclusive end indices.
func groupByBoundaries(units []string, boundaries []int) []string {
	if len(boundaries) == 0 {
		return []string{strings.Join(units, " ")}
	}
	var groups []string
	start := 0
	for _, b := range boundaries {
		if b <= start || b > len(units) {
			continue
		}
		groups = append(groups, strings.TrimSpace(strings.Join(units[start:b], " ")))
		start = b
	}
	if start < len(units) {
		groups = append(groups, strings.TrimSpace(strings.Join(units[start:], " ")))
	}
	return groups
}

func markSentences(sentences []string) string {
	var sb strings.Builder
	for i, s := range sentences {
		n := i + 1
		sb.WriteString(fmt.Sprintf("⁅s%d⁆", n))
		sb.WriteString(s)
		sb.WriteString(fmt.Sprintf("⁅/s%d⁆", n))
		if i < len(sentences)-1 {
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// VerifyRoundTrip checks that stripping all markers from marked and
// collapsing whitespace reproduces original (after the same normalization).
func VerifyRoundTrip(original, marked string) bool {
	stripped := markerRE.ReplaceAllString(marked, "")
	return normalize(stripped) == normalize(original)
}

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
