package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/chunker"
	"github.com/siftertext/ingestcore/embedcache"
	"github.com/siftertext/ingestcore/xerrors"
)

// fakeCatalog is an in-memory stand-in for catalog.Store, scoped to exactly
// the methods the orchestrator calls.
type fakeCatalog struct {
	docsByPath map[string]catalog.Document
	paragraphs map[string][]catalog.Paragraph // documentID -> rows
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		docsByPath: make(map[string]catalog.Document),
		paragraphs: make(map[string][]catalog.Paragraph),
	}
}

func (f *fakeCatalog) GetDocumentBySourcePath(_ context.Context, sourcePath string) (catalog.Document, error) {
	doc, ok := f.docsByPath[sourcePath]
	if !ok {
		return catalog.Document{}, xerrors.ErrNotFound
	}
	return doc, nil
}

func (f *fakeCatalog) UpsertDocument(_ context.Context, doc catalog.Document) error {
	f.docsByPath[doc.SourcePath] = doc
	return nil
}

func (f *fakeCatalog) UpdateDocumentMetadata(_ context.Context, doc catalog.Document) error {
	existing, ok := f.docsByPath[doc.SourcePath]
	if !ok {
		return xerrors.ErrNotFound
	}
	doc.ParagraphCount = existing.ParagraphCount
	doc.FileHash = existing.FileHash
	f.docsByPath[doc.SourcePath] = doc
	return nil
}

func (f *fakeCatalog) MarkUnsynced(_ context.Context, documentID string) error {
	rows := f.paragraphs[documentID]
	for i := range rows {
		rows[i].Synced = false
	}
	return nil
}

func (f *fakeCatalog) ListParagraphs(_ context.Context, documentID string) ([]catalog.Paragraph, error) {
	return append([]catalog.Paragraph{}, f.paragraphs[documentID]...), nil
}

func (f *fakeCatalog) GetCachedEmbeddings(_ context.Context, documentID string, lookups []catalog.CachedEmbeddingLookup, currentModel string) (map[int][]float32, error) {
	out := make(map[int][]float32)
	byHash := make(map[string][]float32)
	for _, p := range f.paragraphs[documentID] {
		if p.EmbeddingModel == currentModel && len(p.Embedding) > 0 {
			byHash[p.ContentHash] = p.Embedding
		}
	}
	for _, l := range lookups {
		if v, ok := byHash[l.ContentHash]; ok {
			out[l.ParagraphIndex] = v
		}
	}
	return out, nil
}

func (f *fakeCatalog) ApplyChangeSet(_ context.Context, documentID string, cs catalog.ChangeSet) error {
	rows := f.paragraphs[documentID]

	deleteSet := make(map[string]bool, len(cs.Deletes))
	for _, id := range cs.Deletes {
		deleteSet[id] = true
	}
	var kept []catalog.Paragraph
	for _, r := range rows {
		if !deleteSet[r.ID] {
			kept = append(kept, r)
		}
	}
	rows = kept

	for _, u := range cs.Updates {
		for i := range rows {
			if rows[i].ID == u.ID {
				if u.EmbeddingModel != "" {
					rows[i].Embedding = u.Embedding
					rows[i].EmbeddingModel = u.EmbeddingModel
				}
				rows[i].ParagraphIndex = u.ParagraphIndex
				rows[i].Text = u.Text
				rows[i].ContentHash = u.ContentHash
				rows[i].Heading = u.Heading
				rows[i].BlockType = u.BlockType
				rows[i].Synced = false
			}
		}
	}

	rows = append(rows, cs.Inserts...)
	f.paragraphs[documentID] = rows
	return nil
}

func (f *fakeCatalog) ReplaceParagraphs(_ context.Context, documentID string, paragraphs []catalog.Paragraph) error {
	f.paragraphs[documentID] = append([]catalog.Paragraph{}, paragraphs...)
	return nil
}

// fakeEmbedder counts how many texts Embed is asked to embed (one embedding
// per text, however many texts share a batch) and returns one deterministic
// vector per input text.
type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.calls += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0.5, 0.25}
	}
	return out, nil
}

type fakeScorer struct{}

func (fakeScorer) Score(_, _, _ string) int { return 7 }

// fakeSegmenter provides GroupParagraphs for Resegment tests; Segment just
// echoes its input unmarked since those tests don't assert on markers.
type fakeSegmenter struct {
	paragraphs []string
}

func (f fakeSegmenter) Segment(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

func (f fakeSegmenter) GroupParagraphs(_ context.Context, _, _ string) ([]string, error) {
	return f.paragraphs, nil
}

func newTestOrchestrator(t *testing.T, fc *fakeCatalog, embedder *fakeEmbedder) *Orchestrator {
	t.Helper()
	cache, err := embedcache.New(64)
	require.NoError(t, err)
	return New(fc, embedder, cache, fakeScorer{}, nil, "test-model", 0, nil)
}

const sampleFrontmatter = "---\ntitle: X\nauthor: Y\n---\n"

func testChunkOpts() chunker.Options {
	return chunker.Options{MaxChunk: 1500, MinChunk: 10, Overlap: 20}
}

func TestIngestFirstIngestionCreatesDocumentAndParagraphs(t *testing.T) {
	fc := newFakeCatalog()
	embedder := &fakeEmbedder{}
	o := newTestOrchestrator(t, fc, embedder)

	raw := []byte(sampleFrontmatter + "Para one, long enough to survive the minimum chunk size threshold check easily.\n\nPara two, also long enough to survive the minimum chunk size threshold check easily.")

	result, err := o.Ingest(context.Background(), "/docs/x.md", raw, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	require.Equal(t, StatusCreated, result.Status)
	require.Equal(t, 2, result.New)
	require.Equal(t, 0, result.Reused)
	require.Equal(t, 0, result.Deleted)
	require.Equal(t, 2, embedder.calls)
}

func TestIngestUnchangedReingestionShortCircuits(t *testing.T) {
	fc := newFakeCatalog()
	embedder := &fakeEmbedder{}
	o := newTestOrchestrator(t, fc, embedder)

	raw := []byte(sampleFrontmatter + "Para one, long enough to survive the minimum chunk size threshold check easily.\n\nPara two, also long enough to survive the minimum chunk size threshold check easily.")

	_, err := o.Ingest(context.Background(), "/docs/x.md", raw, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	embedder.calls = 0

	result, err := o.Ingest(context.Background(), "/docs/x.md", raw, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	require.Equal(t, StatusUnchanged, result.Status)
	require.Equal(t, 0, embedder.calls)
}

func TestIngestFrontmatterOnlyEditIsMetadataOnly(t *testing.T) {
	fc := newFakeCatalog()
	embedder := &fakeEmbedder{}
	o := newTestOrchestrator(t, fc, embedder)

	body := "Para one, long enough to survive the minimum chunk size threshold check easily.\n\nPara two, also long enough to survive the minimum chunk size threshold check easily."
	raw := []byte(sampleFrontmatter + body)
	_, err := o.Ingest(context.Background(), "/docs/x.md", raw, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	embedder.calls = 0

	edited := []byte("---\ntitle: X2\nauthor: Y\n---\n" + body)
	result, err := o.Ingest(context.Background(), "/docs/x.md", edited, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	require.Equal(t, StatusMetadataOnly, result.Status)
	require.Equal(t, 0, embedder.calls)
	require.Equal(t, "X2", fc.docsByPath["/docs/x.md"].Title)

	for _, p := range fc.paragraphs[fc.docsByPath["/docs/x.md"].ID] {
		require.False(t, p.Synced)
	}
}

func TestIngestReorderEditReusesBothParagraphsWithoutEmbedding(t *testing.T) {
	fc := newFakeCatalog()
	embedder := &fakeEmbedder{}
	o := newTestOrchestrator(t, fc, embedder)

	raw := []byte(sampleFrontmatter + "Para one, long enough to survive the minimum chunk size threshold check easily.\n\nPara two, also long enough to survive the minimum chunk size threshold check easily.")
	_, err := o.Ingest(context.Background(), "/docs/x.md", raw, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	embedder.calls = 0

	swapped := []byte(sampleFrontmatter + "Para two, also long enough to survive the minimum chunk size threshold check easily.\n\nPara one, long enough to survive the minimum chunk size threshold check easily.")
	result, err := o.Ingest(context.Background(), "/docs/x.md", swapped, Overrides{}, testChunkOpts())
	require.NoError(t, err)
	require.Equal(t, 2, result.Reused)
	require.Equal(t, 0, result.New)
	require.Equal(t, 0, result.Deleted)
	require.Equal(t, 0, embedder.calls)
}

func TestResegmentUsesLLMParagraphGroupingForRTL(t *testing.T) {
	fc := newFakeCatalog()
	embedder := &fakeEmbedder{}
	cache, err := embedcache.New(64)
	require.NoError(t, err)
	seg := fakeSegmenter{paragraphs: []string{
		"یک پاراگراف طولانی به اندازه کافی برای عبور از آستانه حداقل اندازه تکه.",
		"پاراگراف دوم نیز به اندازه کافی طولانی است تا از آستانه عبور کند.",
	}}
	o := New(fc, embedder, cache, fakeScorer{}, seg, "test-model", 0, nil)

	result, err := o.Resegment(context.Background(), "doc-1", "/docs/rtl.md", []byte("raw body, unused by the stub grouper"), "fa", testChunkOpts())
	require.NoError(t, err)
	require.Equal(t, StatusReingested, result.Status)
	require.Equal(t, 2, result.ParagraphCount)
	require.Equal(t, 2, result.New)
	require.Len(t, fc.paragraphs["doc-1"], 2)
	require.Equal(t, 2, embedder.calls)
}
