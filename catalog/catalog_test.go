package catalog

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParagraphHasEmbedding(t *testing.T) {
	require.False(t, Paragraph{}.HasEmbedding())
	require.True(t, Paragraph{EmbeddingModel: "text-embedding-3-large"}.HasEmbedding())
}

// openTestStore connects to a live Postgres instance for integration tests.
// It is skipped unless CATALOG_TEST_DSN is set, since this package has no
// in-memory substitute for database/sql + pgx.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CATALOG_TEST_DSN")
	if dsn == "" {
		t.Skip("CATALOG_TEST_DSN not set, skipping catalog integration test")
	}
	store, err := Open(dsn, 5, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestApplyChangeSetOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	docID := "doc-ordering-test"
	require.NoError(t, store.UpsertDocument(ctx, Document{ID: docID, SourcePath: "/tmp/ordering.md"}))
	defer store.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, docID)

	require.NoError(t, store.ApplyChangeSet(ctx, docID, ChangeSet{
		Inserts: []Paragraph{{ID: "p1", DocumentID: docID, ParagraphIndex: 0, Text: "one", ContentHash: "h1"}},
	}))

	require.NoError(t, store.ApplyChangeSet(ctx, docID, ChangeSet{
		Deletes: []string{"p1"},
		Inserts: []Paragraph{{ID: "p1", DocumentID: docID, ParagraphIndex: 0, Text: "two", ContentHash: "h2"}},
	}))

	paragraphs, err := store.ListParagraphs(ctx, docID)
	require.NoError(t, err)
	require.Len(t, paragraphs, 1)
	require.Equal(t, "two", paragraphs[0].Text)
}
