// Package searchstore adapts the external full-text + vector search engine.
// It is modeled as its own Postgres database, using pgvector for the vector
// column and Postgres's built-in full-text search for the text side,
// deliberately kept structurally separate from the catalog (truth store) so
// either can be replaced independently.
package searchstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/siftertext/ingestcore/xerrors"
)

// Store is the search-store connection.
type Store struct {
	DB        *sql.DB
	dimension int
	logger    *zap.Logger
}

// Open connects to the search-store database.
func Open(dsn string, dimension int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "open search store database")
	}
	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(err, "ping search store database")
	}
	return &Store{DB: db, dimension: dimension, logger: logger}, nil
}

// EnsureIndexes idempotently configures the document and paragraph tables
// plus their searchable/filterable/sortable columns. If the configured
// vector dimension differs from what the store currently holds, the
// paragraph table is dropped and recreated.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return xerrors.Wrap(err, "create vector extension")
	}

	if _, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS document_index (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			religion TEXT NOT NULL DEFAULT '',
			collection TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			year INTEGER,
			authority INTEGER NOT NULL DEFAULT 5
		)`); err != nil {
		return xerrors.Wrap(err, "ensure document_index table")
	}

	currentDim, err := s.currentParagraphDimension(ctx)
	if err != nil {
		return err
	}
	if currentDim != 0 && currentDim != s.dimension {
		if s.logger != nil {
			s.logger.Warn("paragraph_index vector dimension changed, recreating table",
				zap.Int("previous", currentDim), zap.Int("configured", s.dimension))
		}
		if _, err := s.DB.ExecContext(ctx, `DROP TABLE IF EXISTS paragraph_index`); err != nil {
			return xerrors.Wrap(err, "drop stale paragraph_index table")
		}
	}

	createParagraphTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS paragraph_index (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			paragraph_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			heading TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			religion TEXT NOT NULL DEFAULT '',
			collection TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			year INTEGER,
			blocktype TEXT NOT NULL DEFAULT 'paragraph',
			authority INTEGER NOT NULL DEFAULT 5,
			embedding vector(%d)
		)`, s.dimension)
	if _, err := s.DB.ExecContext(ctx, createParagraphTable); err != nil {
		return xerrors.Wrap(err, "ensure paragraph_index table")
	}

	indexStmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_document ON paragraph_index(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_religion ON paragraph_index(religion)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_collection ON paragraph_index(collection)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_language ON paragraph_index(language)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_year ON paragraph_index(year)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_authority ON paragraph_index(authority)`,
		`CREATE INDEX IF NOT EXISTS idx_paragraph_index_text_fts ON paragraph_index USING GIN (to_tsvector('simple', text))`,
	}
	for _, stmt := range indexStmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(err, "ensure paragraph_index index")
		}
	}
	return nil
}

func (s *Store) currentParagraphDimension(ctx context.Context) (int, error) {
	const query = `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'paragraph_index'::regclass AND attname = 'embedding'`
	var typmod sql.NullInt64
	err := s.DB.QueryRowContext(ctx, query).Scan(&typmod)
	if err != nil {
		// Table or column does not exist yet; nothing to compare against.
		return 0, nil
	}
	return int(typmod.Int64), nil
}

// DocumentDoc mirrors the document_index row.
type DocumentDoc struct {
	ID         string
	Title      string
	Author     string
	Religion   string
	Collection string
	Language   string
	Year       *int
	Authority  int
	UpdatedAt  time.Time
}

// ParagraphDoc mirrors one paragraph_index row.
type ParagraphDoc struct {
	ID             string
	DocumentID     string
	ParagraphIndex int
	Text           string
	Heading        string
	Title          string
	Author         string
	Religion       string
	Collection     string
	Language       string
	Year           *int
	BlockType      string
	Authority      int
	Embedding      []float32
}

// IndexDocument uploads a document row and its paragraphs in batches sized
// to stay comfortably under the engine's payload cap.
func (s *Store) IndexDocument(ctx context.Context, doc DocumentDoc, paragraphs []ParagraphDoc, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 200
	}

	if err := s.upsertDocumentDoc(ctx, doc); err != nil {
		return err
	}

	for start := 0; start < len(paragraphs); start += batchSize {
		end := start + batchSize
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		if err := s.upsertParagraphBatch(ctx, paragraphs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertDocumentDoc(ctx context.Context, doc DocumentDoc) error {
	const query = `
		INSERT INTO document_index (id, title, author, religion, collection, language, year, authority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, author = EXCLUDED.author, religion = EXCLUDED.religion,
			collection = EXCLUDED.collection, language = EXCLUDED.language, year = EXCLUDED.year,
			authority = EXCLUDED.authority`
	_, err := s.DB.ExecContext(ctx, query, doc.ID, doc.Title, doc.Author, doc.Religion,
		doc.Collection, doc.Language, doc.Year, doc.Authority)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	return nil
}

func (s *Store) upsertParagraphBatch(ctx context.Context, batch []ParagraphDoc) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO paragraph_index (id, document_id, paragraph_index, text, heading, title,
			author, religion, collection, language, year, blocktype, authority, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id, paragraph_index = EXCLUDED.paragraph_index,
			text = EXCLUDED.text, heading = EXCLUDED.heading, title = EXCLUDED.title,
			author = EXCLUDED.author, religion = EXCLUDED.religion, collection = EXCLUDED.collection,
			language = EXCLUDED.language, year = EXCLUDED.year, blocktype = EXCLUDED.blocktype,
			authority = EXCLUDED.authority, embedding = EXCLUDED.embedding`

	for _, p := range batch {
		var embedding any
		if len(p.Embedding) > 0 {
			embedding = pgvector.NewVector(p.Embedding)
		}
		_, err := tx.ExecContext(ctx, query, p.ID, p.DocumentID, p.ParagraphIndex, p.Text,
			p.Heading, p.Title, p.Author, p.Religion, p.Collection, p.Language, p.Year,
			p.BlockType, p.Authority, embedding)
		if err != nil {
			return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	return nil
}

// DeleteDocument removes the document row and every paragraph row whose
// document_id matches.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM paragraph_index WHERE document_id = $1`, documentID); err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE id = $1`, documentID); err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	return nil
}

// UpdatePartial applies a metadata-only update to one paragraph row, used by
// the sync worker for metadata_only reconciliation.
func (s *Store) UpdatePartial(ctx context.Context, paragraphID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	var setClauses []string
	var args []any
	i := 1
	for col, val := range fields {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	args = append(args, paragraphID)

	query := fmt.Sprintf("UPDATE paragraph_index SET %s WHERE id = $%d", strings.Join(setClauses, ", "), i)
	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		return xerrors.Wrap(xerrors.ErrSearchFailed, err.Error())
	}
	return nil
}

var baseRankingRules = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}

// BuildRankingRules inserts "authority:desc" into the base ranking rule
// list at position (1-7, clamped), producing the rule list the engine is
// configured with.
func BuildRankingRules(position int) []string {
	if position < 1 {
		position = 1
	}
	if position > len(baseRankingRules)+1 {
		position = len(baseRankingRules) + 1
	}
	idx := position - 1

	rules := make([]string, 0, len(baseRankingRules)+1)
	rules = append(rules, baseRankingRules[:idx]...)
	rules = append(rules, "authority:desc")
	rules = append(rules, baseRankingRules[idx:]...)
	return rules
}
