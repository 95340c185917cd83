package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// PostgresStore is the durable Store backend for `memory_entries`, per
// spec.md §6's persisted state layout.
type PostgresStore struct {
	db *sql.DB
}

const memorySchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	entry_id        TEXT PRIMARY KEY,
	domain          TEXT NOT NULL,
	memory_type     TEXT NOT NULL,
	content         JSONB NOT NULL,
	tags            JSONB NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	access_count    INTEGER NOT NULL DEFAULT 0,
	relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	signature       TEXT,
	metadata        JSONB
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_domain_type ON memory_entries(domain, memory_type);
`

// OpenPostgresStore opens dsn and migrates the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, memorySchema); err != nil {
		return nil, fmt.Errorf("memory: migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB without running
// the schema migration, so tests can inject a sqlmock connection.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Put(ctx context.Context, entry contracts.MemoryEntry) error {
	content, _ := json.Marshal(entry.Content)
	tags, _ := json.Marshal(entry.Tags)
	metadata, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (entry_id, domain, memory_type, content, tags, timestamp, access_count, relevance_score, signature, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (entry_id) DO UPDATE SET access_count=$7, relevance_score=$8`,
		entry.EntryID, entry.Domain, string(entry.MemoryType), content, tags, entry.Timestamp,
		entry.AccessCount, entry.RelevanceScore, entry.Signature, metadata)
	return err
}

func (s *PostgresStore) Query(ctx context.Context, domain string, memoryType contracts.MemoryType) ([]contracts.MemoryEntry, error) {
	return s.query(ctx, `SELECT entry_id, domain, memory_type, content, tags, timestamp, access_count, relevance_score, signature, metadata
		FROM memory_entries WHERE domain=$1 AND memory_type=$2`, domain, string(memoryType))
}

func (s *PostgresStore) QueryAllDomains(ctx context.Context, memoryType contracts.MemoryType, excludeDomain string) ([]contracts.MemoryEntry, error) {
	return s.query(ctx, `SELECT entry_id, domain, memory_type, content, tags, timestamp, access_count, relevance_score, signature, metadata
		FROM memory_entries WHERE domain<>$1 AND memory_type=$2`, excludeDomain, string(memoryType))
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]contracts.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.MemoryEntry
	for rows.Next() {
		var e contracts.MemoryEntry
		var memType string
		var content, tags, metadata []byte
		if err := rows.Scan(&e.EntryID, &e.Domain, &memType, &content, &tags, &e.Timestamp, &e.AccessCount,
			&e.RelevanceScore, &e.Signature, &metadata); err != nil {
			return nil, err
		}
		e.MemoryType = contracts.MemoryType(memType)
		_ = json.Unmarshal(content, &e.Content)
		_ = json.Unmarshal(tags, &e.Tags)
		_ = json.Unmarshal(metadata, &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) BumpAccessCount(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET access_count = access_count + 1 WHERE entry_id=$1`, entryID)
	return err
}
