// Package orchestrator implements the incremental reconcile algorithm: the
// core of the ingestion pipeline, turning a re-ingested source file into the
// minimum set of DELETE/UPDATE/INSERT operations over the existing
// paragraph set for one document.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/siftertext/ingestcore/catalog"
	"github.com/siftertext/ingestcore/chunker"
	"github.com/siftertext/ingestcore/embedcache"
	"github.com/siftertext/ingestcore/hashing"
	"github.com/siftertext/ingestcore/langdetect"
	"github.com/siftertext/ingestcore/mdparse"
	"github.com/siftertext/ingestcore/xerrors"
)

// Status is the outcome of one ingestion call.
type Status string

const (
	StatusUnchanged    Status = "unchanged"
	StatusMetadataOnly Status = "metadata_only"
	StatusCreated      Status = "created"
	StatusReingested   Status = "reingested"
)

// Overrides are caller-supplied metadata values that take priority over
// frontmatter and path-inferred values.
type Overrides struct {
	DocumentID string
	Title      *string
	Author     *string
	Religion   *string
	Collection *string
	Language   *string
	Year       *int
}

// Result is the machine-readable completion report for one ingestion call.
type Result struct {
	DocumentID     string `json:"document_id"`
	Status         Status `json:"status"`
	ParagraphCount int    `json:"paragraph_count"`
	Reused         int    `json:"reused"`
	New            int    `json:"new"`
	Deleted        int    `json:"deleted"`
}

// Embedder is the subset of embedclient.Client the orchestrator depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// CatalogStore is the subset of catalog.Store the orchestrator depends on,
// narrowed to an interface so the reconcile algorithm can be tested against
// an in-memory double instead of a live Postgres instance.
type CatalogStore interface {
	GetDocumentBySourcePath(ctx context.Context, sourcePath string) (catalog.Document, error)
	UpsertDocument(ctx context.Context, doc catalog.Document) error
	UpdateDocumentMetadata(ctx context.Context, doc catalog.Document) error
	MarkUnsynced(ctx context.Context, documentID string) error
	ListParagraphs(ctx context.Context, documentID string) ([]catalog.Paragraph, error)
	GetCachedEmbeddings(ctx context.Context, documentID string, lookups []catalog.CachedEmbeddingLookup, currentModel string) (map[int][]float32, error)
	ApplyChangeSet(ctx context.Context, documentID string, cs catalog.ChangeSet) error
	ReplaceParagraphs(ctx context.Context, documentID string, paragraphs []catalog.Paragraph) error
}

// Scorer is the subset of authority.Scorer the orchestrator depends on.
type Scorer interface {
	Score(author, religion, collection string) int
}

// Segmenter is the subset of segmenter.Segmenter the orchestrator depends on.
type Segmenter interface {
	Segment(ctx context.Context, text, language string) (string, error)
	// GroupParagraphs implements spec §4.E's stage 3 (paragraph grouping),
	// used by Resegment rather than the incremental Ingest path.
	GroupParagraphs(ctx context.Context, text, language string) ([]string, error)
}

// Orchestrator wires every pipeline stage together and drives one
// document's reconcile pass per Ingest call.
type Orchestrator struct {
	Catalog        CatalogStore
	Embedder       Embedder
	Cache          *embedcache.Cache
	Scorer         Scorer
	Segmenter      Segmenter
	EmbeddingModel string
	Deadline       time.Duration
	Logger         *zap.Logger
}

// New builds an Orchestrator. logger defaults to a no-op logger when nil.
func New(store CatalogStore, embedder Embedder, cache *embedcache.Cache, scorer Scorer, seg Segmenter, embeddingModel string, deadline time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Catalog:        store,
		Embedder:       embedder,
		Cache:          cache,
		Scorer:         scorer,
		Segmenter:      seg,
		EmbeddingModel: embeddingModel,
		Deadline:       deadline,
		Logger:         logger,
	}
}

// Ingest performs the incremental reconcile described by spec 4.J for one
// source file.
func (o *Orchestrator) Ingest(ctx context.Context, sourcePath string, raw []byte, overrides Overrides, chunkOpts chunker.Options) (Result, error) {
	if o.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Deadline)
		defer cancel()
	}

	if len(raw) == 0 {
		return Result{}, xerrors.Wrap(xerrors.ErrInvalidInput, "empty source file")
	}

	fileHash := hashing.FileHash(raw)

	existing, err := o.Catalog.GetDocumentBySourcePath(ctx, sourcePath)
	existingFound := true
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			existingFound = false
		} else {
			return Result{}, err
		}
	}

	// Step 1: unchanged short-circuit.
	if existingFound && existing.FileHash == fileHash {
		return Result{DocumentID: existing.ID, Status: StatusUnchanged, ParagraphCount: existing.ParagraphCount}, nil
	}

	metadata, body := mdparse.Parse(string(raw))
	bodyHash := hashing.BodyHash([]byte(body))

	// Step 2: metadata_only short-circuit.
	if existingFound && existing.BodyHash == bodyHash {
		merged := mergeDocument(existing, metadata, overrides, sourcePath)
		merged.Authority = o.Scorer.Score(merged.Author, merged.Religion, merged.Collection)
		if err := o.Catalog.UpdateDocumentMetadata(ctx, merged); err != nil {
			return Result{}, err
		}
		if err := o.Catalog.MarkUnsynced(ctx, merged.ID); err != nil {
			return Result{}, err
		}
		return Result{DocumentID: merged.ID, Status: StatusMetadataOnly, ParagraphCount: existing.ParagraphCount}, nil
	}

	documentID := overrides.DocumentID
	if documentID == "" {
		if existingFound {
			documentID = existing.ID
		} else {
			documentID = hashing.FileHash([]byte(sourcePath))
		}
	}

	doc := mergeDocument(existing, metadata, overrides, sourcePath)
	doc.ID = documentID
	doc.SourcePath = sourcePath

	langResult := langdetect.ResolveLanguage(doc.Language, body)
	doc.Language = langResult.Language

	doc.Authority = o.Scorer.Score(doc.Author, doc.Religion, doc.Collection)

	chunks := chunker.Split(body, chunkOpts)
	headings := mdparse.ExtractHeadings(body)

	type candidate struct {
		text        string
		heading     string
		contentHash string
	}
	candidates := make([]candidate, 0, len(chunks))
	for _, c := range chunks {
		text := c.Text
		if o.Segmenter != nil {
			marked, segErr := o.Segmenter.Segment(ctx, text, doc.Language)
			if segErr != nil {
				o.Logger.Warn("sentence segmentation rejected, storing paragraph unmarked",
					zap.String("document_id", documentID), zap.Error(segErr))
			} else {
				text = marked
			}
		}
		heading := mdparse.HeadingFor(headings, c.Offset)
		candidates = append(candidates, candidate{
			text:        text,
			heading:     heading,
			contentHash: hashing.ContentHash(text, heading),
		})
	}

	existingParagraphs, err := o.Catalog.ListParagraphs(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	byHash := make(map[string]catalog.Paragraph, len(existingParagraphs))
	for _, p := range existingParagraphs {
		byHash[p.ContentHash] = p
	}

	cs := catalog.ChangeSet{}
	matchedOldIDs := make(map[string]bool, len(existingParagraphs))
	reusedCount := 0

	type pendingEmbed struct {
		index int
		text  string
	}
	var toEmbed []pendingEmbed
	var inserts []catalog.Paragraph
	var updates []catalog.Paragraph

	for i, c := range candidates {
		old, reused := byHash[c.contentHash]
		if reused {
			matchedOldIDs[old.ID] = true
			reusedCount++
			p := old
			p.ParagraphIndex = i
			p.Heading = c.heading
			p.BlockType = catalog.BlockParagraph
			if p.ParagraphIndex == old.ParagraphIndex && p.Heading == old.Heading {
				continue // truly unchanged row, nothing to write
			}
			p.EmbeddingModel = "" // leave embedding column untouched
			updates = append(updates, p)
			continue
		}

		vec, cacheHit := o.Cache.Get(c.contentHash)
		if !cacheHit {
			cached, cerr := o.Catalog.GetCachedEmbeddings(ctx, documentID,
				[]catalog.CachedEmbeddingLookup{{ParagraphIndex: i, ContentHash: c.contentHash}}, o.EmbeddingModel)
			if cerr != nil {
				return Result{}, cerr
			}
			if v, ok := cached[i]; ok {
				vec = embedcache.Entry{Vector: v, Model: o.EmbeddingModel}
				cacheHit = true
			}
		}

		p := catalog.Paragraph{
			ID:             hashing.ParagraphID(documentID, c.contentHash),
			DocumentID:     documentID,
			ParagraphIndex: i,
			Text:           c.text,
			ContentHash:    c.contentHash,
			Heading:        c.heading,
			BlockType:      catalog.BlockParagraph,
		}
		if cacheHit {
			p.Embedding = vec.Vector
			p.EmbeddingModel = vec.Model
			inserts = append(inserts, p)
		} else {
			toEmbed = append(toEmbed, pendingEmbed{index: len(inserts), text: c.text})
			inserts = append(inserts, p)
		}
	}

	for _, old := range existingParagraphs {
		if !matchedOldIDs[old.ID] {
			cs.Deletes = append(cs.Deletes, old.ID)
		}
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, pe := range toEmbed {
			texts[i] = pe.text
		}
		vectors, embedErr := o.Embedder.Embed(ctx, texts, o.EmbeddingModel)
		if embedErr != nil {
			return Result{}, xerrors.Wrap(embedErr, "embedding batch failed, ingestion aborted")
		}
		if len(vectors) != len(toEmbed) {
			return Result{}, xerrors.Wrap(xerrors.ErrProviderPermanent, "embedding response length mismatch")
		}
		for i, pe := range toEmbed {
			inserts[pe.index].Embedding = vectors[i]
			inserts[pe.index].EmbeddingModel = o.EmbeddingModel
			o.Cache.Put(inserts[pe.index].ContentHash, embedcache.Entry{Vector: vectors[i], Model: o.EmbeddingModel})
		}
	}

	cs.Updates = updates
	cs.Inserts = inserts

	if err := o.Catalog.ApplyChangeSet(ctx, documentID, cs); err != nil {
		return Result{}, err
	}

	doc.ParagraphCount = len(candidates)
	doc.FileHash = fileHash
	doc.BodyHash = bodyHash
	if err := o.Catalog.UpsertDocument(ctx, doc); err != nil {
		return Result{}, err
	}

	status := StatusCreated
	if existingFound {
		status = StatusReingested
	}

	return Result{
		DocumentID:     documentID,
		Status:         status,
		ParagraphCount: doc.ParagraphCount,
		Reused:         reusedCount,
		New:            len(inserts),
		Deleted:        len(cs.Deletes),
	}, nil
}

// Resegment performs a full re-ingestion pass for one document: it rebuilds
// the entire paragraph set from scratch via catalog.ReplaceParagraphs rather
// than reconciling against the existing rows, and re-embeds every paragraph
// regardless of content-hash match. For ar/fa documents it uses the
// segmenter's LLM paragraph-grouping stage (spec §4.E stage 3) to determine
// paragraph boundaries instead of trusting blank-line breaks in the source,
// since those scripts carry no reliable paragraph punctuation. Driven by the
// "resegment" job type rather than the incremental Ingest path.
func (o *Orchestrator) Resegment(ctx context.Context, documentID, sourcePath string, raw []byte, language string, chunkOpts chunker.Options) (Result, error) {
	if o.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Deadline)
		defer cancel()
	}
	if len(raw) == 0 {
		return Result{}, xerrors.Wrap(xerrors.ErrInvalidInput, "empty source file")
	}

	_, body := mdparse.Parse(string(raw))
	headings := mdparse.ExtractHeadings(body)

	var chunks []chunker.Chunk
	if (language == "ar" || language == "fa") && o.Segmenter != nil {
		paragraphTexts, err := o.Segmenter.GroupParagraphs(ctx, body, language)
		if err != nil {
			return Result{}, err
		}
		offset := 0
		for _, pt := range paragraphTexts {
			for _, c := range chunker.Split(pt, chunkOpts) {
				chunks = append(chunks, chunker.Chunk{Text: c.Text, Offset: offset + c.Offset})
			}
			offset += len(pt)
		}
	} else {
		chunks = chunker.Split(body, chunkOpts)
	}

	paragraphs := make([]catalog.Paragraph, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		text := c.Text
		if o.Segmenter != nil {
			marked, segErr := o.Segmenter.Segment(ctx, text, language)
			if segErr != nil {
				o.Logger.Warn("sentence segmentation rejected during resegment, storing paragraph unmarked",
					zap.String("document_id", documentID), zap.Error(segErr))
			} else {
				text = marked
			}
		}
		heading := mdparse.HeadingFor(headings, c.Offset)
		contentHash := hashing.ContentHash(text, heading)
		paragraphs = append(paragraphs, catalog.Paragraph{
			ID:             hashing.ParagraphID(documentID, contentHash),
			DocumentID:     documentID,
			ParagraphIndex: i,
			Text:           text,
			ContentHash:    contentHash,
			Heading:        heading,
			BlockType:      catalog.BlockParagraph,
		})
		texts = append(texts, text)
	}

	if len(texts) > 0 {
		vectors, err := o.Embedder.Embed(ctx, texts, o.EmbeddingModel)
		if err != nil {
			return Result{}, xerrors.Wrap(err, "embedding batch failed, resegment aborted")
		}
		if len(vectors) != len(texts) {
			return Result{}, xerrors.Wrap(xerrors.ErrProviderPermanent, "embedding response length mismatch")
		}
		for i := range paragraphs {
			paragraphs[i].Embedding = vectors[i]
			paragraphs[i].EmbeddingModel = o.EmbeddingModel
			o.Cache.Put(paragraphs[i].ContentHash, embedcache.Entry{Vector: vectors[i], Model: o.EmbeddingModel})
		}
	}

	if err := o.Catalog.ReplaceParagraphs(ctx, documentID, paragraphs); err != nil {
		return Result{}, err
	}

	existing, err := o.Catalog.GetDocumentBySourcePath(ctx, sourcePath)
	if err == nil {
		existing.ID = documentID
		existing.SourcePath = sourcePath
		existing.ParagraphCount = len(paragraphs)
		if err := o.Catalog.UpsertDocument(ctx, existing); err != nil {
			return Result{}, err
		}
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return Result{}, err
	}
	if err := o.Catalog.MarkUnsynced(ctx, documentID); err != nil {
		return Result{}, err
	}

	return Result{
		DocumentID:     documentID,
		Status:         StatusReingested,
		ParagraphCount: len(paragraphs),
		New:            len(paragraphs),
	}, nil
}

func mergeDocument(existing catalog.Document, metadata map[string]string, overrides Overrides, sourcePath string) catalog.Document {
	doc := existing
	if doc.SourcePath == "" {
		doc.SourcePath = sourcePath
	}

	if v, ok := metadata["title"]; ok && v != "" {
		doc.Title = v
	}
	if v, ok := metadata["author"]; ok && v != "" {
		doc.Author = v
	}
	if v, ok := metadata["religion"]; ok && v != "" {
		doc.Religion = v
	}
	if v, ok := metadata["collection"]; ok && v != "" {
		doc.Collection = v
	}
	if v, ok := metadata["language"]; ok && v != "" {
		doc.Language = v
	}
	if v, ok := metadata["description"]; ok && v != "" {
		doc.Description = v
	}
	if v, ok := metadata["year"]; ok && v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			doc.Year = &y
		}
	}

	if overrides.Title != nil {
		doc.Title = *overrides.Title
	}
	if overrides.Author != nil {
		doc.Author = *overrides.Author
	}
	if overrides.Religion != nil {
		doc.Religion = *overrides.Religion
	}
	if overrides.Collection != nil {
		doc.Collection = *overrides.Collection
	}
	if overrides.Language != nil {
		doc.Language = *overrides.Language
	}
	if overrides.Year != nil {
		doc.Year = overrides.Year
	}

	return doc
}
