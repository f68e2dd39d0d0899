// Package catalog is the durable truth store: documents, paragraphs, and
// jobs persisted over Postgres via database/sql and the pgx driver, in the
// same wiring shape as the stats agent's database.PostgresStore.
package catalog

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/siftertext/ingestcore/xerrors"
)

// Store is the truth store connection.
type Store struct {
	DB          *sql.DB
	logger      *zap.Logger
	busyRetries int
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, busyRetries int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "open catalog database")
	}
	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(err, "ping catalog database")
	}
	if busyRetries <= 0 {
		busyRetries = 5
	}
	return &Store{DB: db, logger: logger, busyRetries: busyRetries}, nil
}

// EnsureSchema creates the documents, content, and jobs tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			religion TEXT NOT NULL DEFAULT '',
			collection TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			year INTEGER,
			description TEXT NOT NULL DEFAULT '',
			authority INTEGER NOT NULL DEFAULT 5,
			paragraph_count INTEGER NOT NULL DEFAULT 0,
			file_hash TEXT NOT NULL DEFAULT '',
			body_hash TEXT NOT NULL DEFAULT '',
			source_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_source_path ON documents(source_path) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS content (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			paragraph_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			heading TEXT NOT NULL DEFAULT '',
			blocktype TEXT NOT NULL DEFAULT 'paragraph',
			embedding REAL[],
			embedding_model TEXT,
			synced BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_content_document_paragraph ON content(document_id, paragraph_index)`,
		`CREATE INDEX IF NOT EXISTS idx_content_synced ON content(synced) WHERE synced = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_content_document_hash ON content(document_id, content_hash)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			params JSONB NOT NULL DEFAULT '{}'::jsonb,
			document_id TEXT,
			progress_done INTEGER NOT NULL DEFAULT 0,
			progress_total INTEGER NOT NULL DEFAULT 0,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			worker_id TEXT,
			last_heartbeat TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority DESC, created_at ASC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(err, "ensure catalog schema")
		}
	}
	return nil
}

// withDocumentLock serializes concurrent ingestions of the same document id
// using a Postgres advisory transaction lock, and retries lock-busy errors
// with exponential backoff + jitter up to busyRetries attempts.
func (s *Store) withDocumentLock(ctx context.Context, documentID string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.busyRetries; attempt++ {
		err := s.runLockedTx(ctx, documentID, fn)
		if err == nil {
			return nil
		}
		if !xerrors.IsStoreBusy(err) {
			return err
		}
		lastErr = err
		sleepBackoff(attempt)
	}
	return xerrors.Wrapf(xerrors.ErrStoreBusy, "document %s: exhausted lock retries: %v", documentID, lastErr)
}

func (s *Store) runLockedTx(ctx context.Context, documentID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, documentID); err != nil {
		return xerrors.Wrap(xerrors.ErrStoreBusy, err.Error())
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.ErrStoreFailed, err.Error())
	}
	return nil
}

func sleepBackoff(attempt int) {
	base := time.Second
	d := base * time.Duration(1<<attempt)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	time.Sleep(d - jitter)
}

func rowsAffectedOrZero(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
