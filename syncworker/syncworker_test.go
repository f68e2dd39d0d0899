package syncworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/searchstore"
)

type fakeCatalog struct {
	unsynced []catalog.Paragraph
	synced   []string
}

func (f *fakeCatalog) ListUnsynced(_ context.Context, limit int) ([]catalog.Paragraph, error) {
	if limit < len(f.unsynced) {
		return f.unsynced[:limit], nil
	}
	return f.unsynced, nil
}

func (f *fakeCatalog) MarkSynced(_ context.Context, ids []string) error {
	f.synced = append(f.synced, ids...)
	return nil
}

func (f *fakeCatalog) GetDocumentBySourcePath(_ context.Context, _ string) (catalog.Document, error) {
	return catalog.Document{}, nil
}

type fakeSearch struct {
	indexed []searchstore.ParagraphDoc
	partial map[string]map[string]any
}

func (f *fakeSearch) IndexDocument(_ context.Context, _ searchstore.DocumentDoc, paragraphs []searchstore.ParagraphDoc, _ int) error {
	f.indexed = append(f.indexed, paragraphs...)
	return nil
}

func (f *fakeSearch) UpdatePartial(_ context.Context, paragraphID string, fields map[string]any) error {
	if f.partial == nil {
		f.partial = make(map[string]map[string]any)
	}
	f.partial[paragraphID] = fields
	return nil
}

func TestRunOnceSyncsAllUnsyncedRows(t *testing.T) {
	fc := &fakeCatalog{unsynced: []catalog.Paragraph{
		{ID: "p1", DocumentID: "doc-1", Text: "a"},
		{ID: "p2", DocumentID: "doc-1", Text: "b"},
		{ID: "p3", DocumentID: "doc-2", Text: "c"},
	}}
	fs := &fakeSearch{}
	resolve := func(_ context.Context, documentID string) (searchstore.DocumentDoc, error) {
		return searchstore.DocumentDoc{ID: documentID, Title: "doc"}, nil
	}

	w := New(fc, fs, resolve, 10, 0, nil)
	require.NoError(t, w.RunOnce(context.Background()))

	require.Len(t, fc.synced, 3)
	require.Len(t, fs.indexed, 3)
}

func TestRunOnceLeavesRowsUnsyncedOnDocumentLookupFailure(t *testing.T) {
	fc := &fakeCatalog{unsynced: []catalog.Paragraph{{ID: "p1", DocumentID: "doc-1", Text: "a"}}}
	resolve := func(_ context.Context, documentID string) (searchstore.DocumentDoc, error) {
		return searchstore.DocumentDoc{}, errFake
	}
	w := New(fc, &fakeSearch{}, resolve, 10, 0, nil)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, fc.synced)
}

func TestRunOnceRoutesMetadataOnlyRowsThroughUpdatePartial(t *testing.T) {
	docUpdatedAt := time.Now()
	paragraphUpdatedAt := docUpdatedAt.Add(-time.Hour)

	fc := &fakeCatalog{unsynced: []catalog.Paragraph{
		{ID: "p1", DocumentID: "doc-1", Text: "a", UpdatedAt: paragraphUpdatedAt},
		{ID: "p2", DocumentID: "doc-1", Text: "b", UpdatedAt: paragraphUpdatedAt},
	}}
	fs := &fakeSearch{}
	resolve := func(_ context.Context, documentID string) (searchstore.DocumentDoc, error) {
		return searchstore.DocumentDoc{ID: documentID, Title: "doc2", UpdatedAt: docUpdatedAt}, nil
	}

	w := New(fc, fs, resolve, 10, 0, nil)
	require.NoError(t, w.RunOnce(context.Background()))

	require.Len(t, fc.synced, 2)
	require.Empty(t, fs.indexed)
	require.Len(t, fs.partial, 2)
	require.Equal(t, "doc2", fs.partial["p1"]["title"])
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "resolve failed" }
