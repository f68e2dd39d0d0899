package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/siftertext/ingestcore/xerrors"
)

// GetDocumentBySourcePath returns the live document at path, or
// xerrors.ErrNotFound if none exists.
func (s *Store) GetDocumentBySourcePath(ctx context.Context, sourcePath string) (Document, error) {
	const query = `
		SELECT id, title, author, religion, collection, language, year, description,
		       authority, paragraph_count, file_hash, body_hash, source_path,
		       created_at, updated_at, deleted_at
		FROM documents WHERE source_path = $1 AND deleted_at IS NULL`

	var doc Document
	var year sql.NullInt64
	var deletedAt sql.NullTime
	row := s.DB.QueryRowContext(ctx, query, sourcePath)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Author, &doc.Religion, &doc.Collection,
		&doc.Language, &year, &doc.Description, &doc.Authority, &doc.ParagraphCount,
		&doc.FileHash, &doc.BodyHash, &doc.SourcePath, &doc.CreatedAt, &doc.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, xerrors.ErrNotFound
		}
		return Document{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	if year.Valid {
		y := int(year.Int64)
		doc.Year = &y
	}
	if deletedAt.Valid {
		doc.DeletedAt = &deletedAt.Time
	}
	return doc, nil
}

// GetDocumentByID returns the live document with the given id, or
// xerrors.ErrNotFound if none exists.
func (s *Store) GetDocumentByID(ctx context.Context, documentID string) (Document, error) {
	const query = `
		SELECT id, title, author, religion, collection, language, year, description,
		       authority, paragraph_count, file_hash, body_hash, source_path,
		       created_at, updated_at, deleted_at
		FROM documents WHERE id = $1 AND deleted_at IS NULL`

	var doc Document
	var year sql.NullInt64
	var deletedAt sql.NullTime
	row := s.DB.QueryRowContext(ctx, query, documentID)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Author, &doc.Religion, &doc.Collection,
		&doc.Language, &year, &doc.Description, &doc.Authority, &doc.ParagraphCount,
		&doc.FileHash, &doc.BodyHash, &doc.SourcePath, &doc.CreatedAt, &doc.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, xerrors.ErrNotFound
		}
		return Document{}, xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	if year.Valid {
		y := int(year.Int64)
		doc.Year = &y
	}
	if deletedAt.Valid {
		doc.DeletedAt = &deletedAt.Time
	}
	return doc, nil
}

// UpsertDocument merges doc by id: created_at is filled on first write,
// updated_at is refreshed on every write.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	const query = `
		INSERT INTO documents (id, title, author, religion, collection, language, year,
			description, authority, paragraph_count, file_hash, body_hash, source_path,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			religion = EXCLUDED.religion,
			collection = EXCLUDED.collection,
			language = EXCLUDED.language,
			year = EXCLUDED.year,
			description = EXCLUDED.description,
			authority = EXCLUDED.authority,
			paragraph_count = EXCLUDED.paragraph_count,
			file_hash = EXCLUDED.file_hash,
			body_hash = EXCLUDED.body_hash,
			source_path = EXCLUDED.source_path,
			updated_at = NOW()`

	_, err := s.DB.ExecContext(ctx, query, doc.ID, doc.Title, doc.Author, doc.Religion,
		doc.Collection, doc.Language, doc.Year, doc.Description, doc.Authority,
		doc.ParagraphCount, doc.FileHash, doc.BodyHash, doc.SourcePath)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// UpdateDocumentMetadata updates only the frontmatter-derived fields and
// authority, used by the metadata_only reconcile path. paragraph_count is
// left untouched since no content changed.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, doc Document) error {
	const query = `
		UPDATE documents SET
			title = $2, author = $3, religion = $4, collection = $5,
			language = $6, year = $7, description = $8, authority = $9,
			body_hash = $10, updated_at = NOW()
		WHERE id = $1`

	res, err := s.DB.ExecContext(ctx, query, doc.ID, doc.Title, doc.Author, doc.Religion,
		doc.Collection, doc.Language, doc.Year, doc.Description, doc.Authority, doc.BodyHash)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	if rowsAffectedOrZero(res) == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// SetDocumentHashesAndCount updates file_hash, body_hash, and
// paragraph_count after a reconcile pass completes.
func (s *Store) SetDocumentHashesAndCount(ctx context.Context, documentID, fileHash, bodyHash string, paragraphCount int) error {
	const query = `
		UPDATE documents SET file_hash = $2, body_hash = $3, paragraph_count = $4, updated_at = NOW()
		WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, query, documentID, fileHash, bodyHash, paragraphCount)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

// SoftDeleteDocument marks a document deleted without removing its rows.
func (s *Store) SoftDeleteDocument(ctx context.Context, documentID string) error {
	const query = `UPDATE documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := s.DB.ExecContext(ctx, query, documentID)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	if rowsAffectedOrZero(res) == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
