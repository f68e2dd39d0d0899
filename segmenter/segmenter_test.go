package segmenter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentEnglishRoundTrips(t *testing.T) {
	s := New(nil)
	text := "Para one. Para two is here. And a third sentence."
	marked, err := s.Segment(context.Background(), text, "en")
	require.NoError(t, err)
	require.True(t, VerifyRoundTrip(text, marked))
	require.Contains(t, marked, "⁅s1⁆")
	require.Contains(t, marked, "⁅/s1⁆")
}

type stubLLM struct {
	phraseBoundaries    []int
	sentenceBoundaries  []int
	paragraphBoundaries []int
}

func (s stubLLM) IdentifyPhraseBoundaries(ctx context.Context, numberedWords []string) ([]int, error) {
	return s.phraseBoundaries, nil
}

func (s stubLLM) IdentifySentenceBoundaries(ctx context.Context, numberedPhrases []string) ([]int, error) {
	return s.sentenceBoundaries, nil
}

func (s stubLLM) IdentifyParagraphBoundaries(ctx context.Context, numberedSentences []string) ([]int, error) {
	return s.paragraphBoundaries, nil
}

func TestSegmentArabicViaLLMProtocol(t *testing.T) {
	text := "واحد اثنان ثلاثة اربعة"
	llm := stubLLM{
		phraseBoundaries:   []int{2, 4},
		sentenceBoundaries: []int{2},
	}
	s := New(llm)
	marked, err := s.Segment(context.Background(), text, "ar")
	require.NoError(t, err)
	require.True(t, VerifyRoundTrip(text, marked))
}

func TestSegmentWithoutLLMClientForRTLFails(t *testing.T) {
	s := New(nil)
	_, err := s.Segment(context.Background(), "متن عربی", "ar")
	require.Error(t, err)
}

func TestVerifyRoundTripDetectsMismatch(t *testing.T) {
	require.False(t, VerifyRoundTrip("Original text.", "⁅s1⁆Different text.⁅/s1⁆"))
}

func TestGroupParagraphsSplitsSentencesIntoParagraphs(t *testing.T) {
	text := "يك دو سه چهار پنج شش"
	llm := stubLLM{
		phraseBoundaries:    []int{2, 4, 6},
		sentenceBoundaries:  []int{1, 2, 3},
		paragraphBoundaries: []int{1, 3},
	}
	s := New(llm)
	paragraphs, err := s.GroupParagraphs(context.Background(), text, "fa")
	require.NoError(t, err)
	require.Len(t, paragraphs, 2)
}

func TestGroupParagraphsRejectsNonRTLLanguage(t *testing.T) {
	s := New(stubLLM{})
	_, err := s.GroupParagraphs(context.Background(), "Some English text.", "en")
	require.Error(t, err)
}

func TestGroupByStartsForcesFirstParagraphAtSentenceOne(t *testing.T) {
	units := []string{"a", "b", "c", "d"}
	groups := groupByStarts(units, []int{3})
	require.Equal(t, []string{"a b", "c d"}, groups)
}
