// Package syncworker drains synced=false rows from the truth store and
// pushes them into the search store, grouped by document so per-document
// ordering is preserved even though the engine itself gives no cross-document
// ordering guarantee.
package syncworker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/searchstore"
)

// CatalogStore is the subset of catalog.Store the sync worker depends on.
type CatalogStore interface {
	ListUnsynced(ctx context.Context, limit int) ([]catalog.Paragraph, error)
	MarkSynced(ctx context.Context, ids []string) error
	GetDocumentBySourcePath(ctx context.Context, sourcePath string) (catalog.Document, error)
}

// DocumentLookup resolves a document_id to the fields the search store needs
// alongside each paragraph. The worker is handed a resolver rather than a
// by-id method on CatalogStore; cmd/ingestd backs it with
// catalog.Store.GetDocumentByID.
type DocumentLookup func(ctx context.Context, documentID string) (searchstore.DocumentDoc, error)

// SearchStore is the subset of searchstore.Store the sync worker depends on.
type SearchStore interface {
	IndexDocument(ctx context.Context, doc searchstore.DocumentDoc, paragraphs []searchstore.ParagraphDoc, batchSize int) error
	UpdatePartial(ctx context.Context, paragraphID string, fields map[string]any) error
}

// Worker is the long-running synced=false drain loop.
type Worker struct {
	Catalog      CatalogStore
	Search       SearchStore
	ResolveDoc   DocumentLookup
	BatchSize    int
	PollInterval time.Duration
	Concurrency  int
	Logger       *zap.Logger
}

// New builds a Worker. logger defaults to a no-op logger when nil.
func New(catalogStore CatalogStore, search SearchStore, resolve DocumentLookup, batchSize int, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		Catalog:      catalogStore,
		Search:       search,
		ResolveDoc:   resolve,
		BatchSize:    batchSize,
		PollInterval: pollInterval,
		Concurrency:  4,
		Logger:       logger,
	}
}

// Run loops until ctx is cancelled, draining synced=false rows on each tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.Logger.Error("sync pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains at most one bounded batch of unsynced rows. Rows that fail
// to sync are left synced=false and retried on the next pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	rows, err := w.Catalog.ListUnsynced(ctx, w.BatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	groups := groupByDocument(rows)

	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for documentID, paragraphs := range groups {
		documentID, paragraphs := documentID, paragraphs
		group.Go(func() error {
			return w.syncDocument(gctx, documentID, paragraphs)
		})
	}
	return group.Wait()
}

// syncDocument pushes one document's unsynced paragraphs to the search
// store. A paragraph whose own updated_at predates its document's is a
// metadata-only row (content/embedding untouched, only denormalized document
// fields changed) and goes through the cheaper UpdatePartial path; the rest
// get a full IndexDocument upload.
func (w *Worker) syncDocument(ctx context.Context, documentID string, paragraphs []catalog.Paragraph) error {
	doc, err := w.ResolveDoc(ctx, documentID)
	if err != nil {
		w.Logger.Warn("could not resolve document for sync, leaving rows unsynced",
			zap.String("document_id", documentID), zap.Error(err))
		return nil
	}

	var metadataOnly, contentChanged []catalog.Paragraph
	for _, p := range paragraphs {
		if !doc.UpdatedAt.IsZero() && p.UpdatedAt.Before(doc.UpdatedAt) {
			metadataOnly = append(metadataOnly, p)
		} else {
			contentChanged = append(contentChanged, p)
		}
	}

	var synced []string

	metadataFields := map[string]any{
		"title": doc.Title, "author": doc.Author, "religion": doc.Religion,
		"collection": doc.Collection, "language": doc.Language, "authority": doc.Authority,
	}
	if doc.Year != nil {
		metadataFields["year"] = *doc.Year
	}
	for _, p := range metadataOnly {
		if err := w.Search.UpdatePartial(ctx, p.ID, metadataFields); err != nil {
			w.Logger.Warn("search store metadata update failed, row remains unsynced",
				zap.String("document_id", documentID), zap.String("paragraph_id", p.ID), zap.Error(err))
			continue
		}
		synced = append(synced, p.ID)
	}

	if len(contentChanged) > 0 {
		docs := make([]searchstore.ParagraphDoc, 0, len(contentChanged))
		ids := make([]string, 0, len(contentChanged))
		for _, p := range contentChanged {
			docs = append(docs, searchstore.ParagraphDoc{
				ID:             p.ID,
				DocumentID:     p.DocumentID,
				ParagraphIndex: p.ParagraphIndex,
				Text:           p.Text,
				Heading:        p.Heading,
				Title:          doc.Title,
				Author:         doc.Author,
				Religion:       doc.Religion,
				Collection:     doc.Collection,
				Language:       doc.Language,
				Year:           doc.Year,
				BlockType:      string(p.BlockType),
				Authority:      doc.Authority,
				Embedding:      p.Embedding,
			})
			ids = append(ids, p.ID)
		}

		if err := w.Search.IndexDocument(ctx, doc, docs, w.BatchSize); err != nil {
			w.Logger.Warn("search store write failed, rows remain unsynced",
				zap.String("document_id", documentID), zap.Error(err))
		} else {
			synced = append(synced, ids...)
		}
	}

	if len(synced) == 0 {
		return nil
	}
	return w.Catalog.MarkSynced(ctx, synced)
}

func groupByDocument(rows []catalog.Paragraph) map[string][]catalog.Paragraph {
	groups := make(map[string][]catalog.Paragraph)
	for _, r := range rows {
		groups[r.DocumentID] = append(groups[r.DocumentID], r)
	}
	return groups
}
