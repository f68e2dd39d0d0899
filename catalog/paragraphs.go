package catalog

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/siftertext/ingestcore/xerrors"
)

// ListParagraphs returns every live paragraph for a document, ordered by
// paragraph_index.
func (s *Store) ListParagraphs(ctx context.Context, documentID string) ([]Paragraph, error) {
	const query = `
		SELECT id, document_id, paragraph_index, text, content_hash, heading, blocktype,
		       embedding, embedding_model, synced, created_at, updated_at
		FROM content WHERE document_id = $1 ORDER BY paragraph_index ASC`

	rows, err := s.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	defer rows.Close()

	var out []Paragraph
	for rows.Next() {
		p, err := scanParagraph(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParagraph(row rowScanner) (Paragraph, error) {
	var p Paragraph
	var embedding pq.Float32Array
	var embeddingModel sql.NullString
	var blockType string
	if err := row.Scan(&p.ID, &p.DocumentID, &p.ParagraphIndex, &p.Text, &p.ContentHash,
		&p.Heading, &blockType, &embedding, &embeddingModel, &p.Synced, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Paragraph{}, err
	}
	p.BlockType = BlockType(blockType)
	p.EmbeddingModel = embeddingModel.String
	if len(embedding) > 0 {
		p.Embedding = make([]float32, len(embedding))
		copy(p.Embedding, embedding)
	}
	return p, nil
}

// CachedEmbeddingLookup is one requested (paragraph_index, content_hash)
// pair to resolve against existing rows.
type CachedEmbeddingLookup struct {
	ParagraphIndex int
	ContentHash    string
}

// GetCachedEmbeddings returns {paragraph_index -> vector} for rows whose
// stored content_hash matches the requested hash and whose embedding_model
// equals currentModel. Rows failing either check are silently absent.
func (s *Store) GetCachedEmbeddings(ctx context.Context, documentID string, lookups []CachedEmbeddingLookup, currentModel string) (map[int][]float32, error) {
	result := make(map[int][]float32)
	if len(lookups) == 0 || currentModel == "" {
		return result, nil
	}

	const query = `SELECT content_hash, embedding FROM content WHERE document_id = $1 AND embedding_model = $2`
	rows, err := s.DB.QueryContext(ctx, query, documentID, currentModel)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	defer rows.Close()

	byHash := make(map[string][]float32)
	for rows.Next() {
		var hash string
		var embedding pq.Float32Array
		if err := rows.Scan(&hash, &embedding); err != nil {
			return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
		}
		if len(embedding) == 0 {
			continue
		}
		vec := make([]float32, len(embedding))
		copy(vec, embedding)
		byHash[hash] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}

	for _, lookup := range lookups {
		if vec, ok := byHash[lookup.ContentHash]; ok {
			result[lookup.ParagraphIndex] = vec
		}
	}
	return result, nil
}

// ChangeSet is the set of mutations the orchestrator applies to one
// document's paragraphs in a single transaction.
type ChangeSet struct {
	Deletes []string    // paragraph ids
	Updates []Paragraph // full rows; embedding left as-is when Paragraph.EmbeddingModel is empty
	Inserts []Paragraph
}

// ApplyChangeSet applies cs within one transaction for documentID, observing
// the DELETE -> UPDATE -> INSERT order so an evicted paragraph id cannot
// collide with a reused hash's new id. Concurrent ingestions of the same
// document serialize via an advisory lock; lock contention is retried with
// backoff up to the store's configured retry count.
func (s *Store) ApplyChangeSet(ctx context.Context, documentID string, cs ChangeSet) error {
	return s.withDocumentLock(ctx, documentID, func(tx *sql.Tx) error {
		for _, id := range cs.Deletes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM content WHERE id = $1`, id); err != nil {
				return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
			}
		}
		for _, p := range cs.Updates {
			if err := updateParagraphTx(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, p := range cs.Inserts {
			if err := insertParagraphTx(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertParagraphTx(ctx context.Context, tx *sql.Tx, p Paragraph) error {
	const query = `
		INSERT INTO content (id, document_id, paragraph_index, text, content_hash, heading,
			blocktype, embedding, embedding_model, synced, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())`

	var embeddingValue any
	if len(p.Embedding) > 0 {
		embeddingValue = pq.Float32Array(p.Embedding)
	}
	var embeddingModel sql.NullString
	if p.EmbeddingModel != "" {
		embeddingModel = sql.NullString{String: p.EmbeddingModel, Valid: true}
	}

	_, err := tx.ExecContext(ctx, query, p.ID, p.DocumentID, p.ParagraphIndex, p.Text,
		p.ContentHash, p.Heading, string(p.BlockType), embeddingValue, embeddingModel, false)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// updateParagraphTx updates an existing paragraph's derived fields and,
// optionally, its text/hash/embedding. An empty EmbeddingModel leaves the
// embedding and embedding_model columns untouched whatever Embedding holds;
// reused (cache-hit) paragraphs are passed that way.
func updateParagraphTx(ctx context.Context, tx *sql.Tx, p Paragraph) error {
	if p.EmbeddingModel == "" {
		const query = `
			UPDATE content SET paragraph_index = $2, text = $3, content_hash = $4,
				heading = $5, blocktype = $6, synced = FALSE, updated_at = NOW()
			WHERE id = $1`
		_, err := tx.ExecContext(ctx, query, p.ID, p.ParagraphIndex, p.Text, p.ContentHash,
			p.Heading, string(p.BlockType))
		if err != nil {
			return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
		}
		return nil
	}

	const query = `
		UPDATE content SET paragraph_index = $2, text = $3, content_hash = $4,
			heading = $5, blocktype = $6, embedding = $7, embedding_model = $8,
			synced = FALSE, updated_at = NOW()
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, p.ID, p.ParagraphIndex, p.Text, p.ContentHash,
		p.Heading, string(p.BlockType), pq.Float32Array(p.Embedding), p.EmbeddingModel)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// ReplaceParagraphs transactionally deletes all existing rows for a
// document and writes the new set. Used only for full rewrites, not the
// incremental reconcile path.
func (s *Store) ReplaceParagraphs(ctx context.Context, documentID string, paragraphs []Paragraph) error {
	return s.withDocumentLock(ctx, documentID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM content WHERE document_id = $1`, documentID); err != nil {
			return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
		}
		for _, p := range paragraphs {
			if err := insertParagraphTx(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkUnsynced flips synced=false for every paragraph of a document, used by
// the metadata_only reconcile path where content is untouched but search
// metadata must still be refreshed. Deliberately leaves updated_at alone: the
// sync worker tells a metadata-only row apart from a content-changing one by
// comparing a paragraph's updated_at against its document's, and a real
// content change always bumps the paragraph's own updated_at via
// ApplyChangeSet/ReplaceParagraphs.
func (s *Store) MarkUnsynced(ctx context.Context, documentID string) error {
	const query = `UPDATE content SET synced = FALSE WHERE document_id = $1`
	_, err := s.DB.ExecContext(ctx, query, documentID)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// ListUnsynced returns up to limit paragraphs with synced=false, oldest
// first, for the sync worker to ship to the search store.
func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]Paragraph, error) {
	const query = `
		SELECT id, document_id, paragraph_index, text, content_hash, heading, blocktype,
		       embedding, embedding_model, synced, created_at, updated_at
		FROM content WHERE synced = FALSE ORDER BY updated_at ASC LIMIT $1`

	rows, err := s.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	defer rows.Close()

	var out []Paragraph
	for rows.Next() {
		p, err := scanParagraph(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSynced flips synced=true for the given paragraph ids, claimed
// atomically by id so a horizontally scaled sync worker cannot double-send.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE content SET synced = TRUE WHERE id = ANY($1)`
	_, err := s.DB.ExecContext(ctx, query, pq.StringArray(ids))
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}
