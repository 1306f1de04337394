// Package postgres provides the Postgres-backed search index.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openscripture/helpserver/internal/resource"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for index documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store upserts index documents into Postgres.
//
// Expected schema:
//
//	CREATE TABLE search_documents (
//		archive_key TEXT NOT NULL,
//		file_path   TEXT NOT NULL,
//		entry_id    TEXT NOT NULL,
//		resource    TEXT NOT NULL,
//		language    TEXT NOT NULL,
//		reference   TEXT NOT NULL DEFAULT '',
//		body        TEXT NOT NULL,
//		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		PRIMARY KEY (archive_key, file_path, entry_id)
//	);
type Store struct {
	pool  pgxPool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "search_documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "search_documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes the batch inside one transaction, so a failed indexing
// attempt leaves prior documents untouched.
func (s *Store) Upsert(ctx context.Context, docs []resource.IndexDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
INSERT INTO %s (archive_key, file_path, entry_id, resource, language, reference, body, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (archive_key, file_path, entry_id)
DO UPDATE SET resource = EXCLUDED.resource,
	language = EXCLUDED.language,
	reference = EXCLUDED.reference,
	body = EXCLUDED.body,
	updated_at = NOW()`, s.table)

	for _, doc := range docs {
		if _, err := tx.Exec(ctx, query,
			doc.ArchiveKey,
			doc.FilePath,
			doc.EntryID,
			doc.Resource,
			doc.Language,
			doc.Reference,
			doc.Text,
		); err != nil {
			return fmt.Errorf("upsert document %s/%s/%s: %w", doc.ArchiveKey, doc.FilePath, doc.EntryID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// DeleteByFile removes every document derived from one extracted file.
func (s *Store) DeleteByFile(ctx context.Context, archiveKey, filePath string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE archive_key = $1 AND file_path = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, archiveKey, filePath); err != nil {
		return fmt.Errorf("delete documents for %s/%s: %w", archiveKey, filePath, err)
	}
	return nil
}

// Count reports the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Search matches body text case-insensitively, ordered by identity.
func (s *Store) Search(ctx context.Context, queryText string, limit int) ([]resource.IndexDocument, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT archive_key, file_path, entry_id, resource, language, reference, body
FROM %s
WHERE body ILIKE '%%' || $1 || '%%'
ORDER BY archive_key, file_path, entry_id
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, queryText, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []resource.IndexDocument
	for rows.Next() {
		var doc resource.IndexDocument
		if err := rows.Scan(
			&doc.ArchiveKey,
			&doc.FilePath,
			&doc.EntryID,
			&doc.Resource,
			&doc.Language,
			&doc.Reference,
			&doc.Text,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
