package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// SQLiteLedger is the durable default for cmd/grace, grounded on the
// teacher's SQLLedger (database/sql over a driver-agnostic schema).
// modernc.org/sqlite avoids a cgo dependency for the single-process
// log file.
type SQLiteLedger struct {
	db       *sql.DB
	signer   crypto.Signer
	verifier crypto.Verifier
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS log_entries (
	seq           INTEGER PRIMARY KEY,
	timestamp     TIMESTAMP NOT NULL,
	actor         TEXT NOT NULL,
	action        TEXT NOT NULL,
	resource      TEXT NOT NULL,
	subsystem     TEXT NOT NULL,
	payload_hash  TEXT NOT NULL,
	payload       BLOB NOT NULL,
	result        TEXT NOT NULL,
	signature     TEXT NOT NULL,
	prev_seq_hash TEXT NOT NULL,
	chain_hash    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_entries_actor ON log_entries(actor);
CREATE INDEX IF NOT EXISTS idx_log_entries_action ON log_entries(action);
CREATE INDEX IF NOT EXISTS idx_log_entries_subsystem ON log_entries(subsystem);
`

// OpenSQLiteLedger opens (creating if absent) the ledger database at path.
func OpenSQLiteLedger(ctx context.Context, path string, signer crypto.Signer) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("ledger: migrate schema: %w", err)
	}

	return &SQLiteLedger{db: db, signer: signer, verifier: crypto.DefaultVerifier{}}, nil
}

func (s *SQLiteLedger) Close() error { return s.db.Close() }

func (s *SQLiteLedger) Append(ctx context.Context, entry contracts.LogEntry) (contracts.LogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	var prevHash string
	row := tx.QueryRowContext(ctx, `SELECT seq, chain_hash FROM log_entries ORDER BY seq DESC LIMIT 1`)
	switch err := row.Scan(&seq, &prevHash); {
	case errors.Is(err, sql.ErrNoRows):
		seq, prevHash = 0, genesisHash
	case err != nil:
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "read head", err)
	default:
		seq = seq + 1
	}

	linked, chainHash, err := chainLink(entry, seq, prevHash, s.signer)
	if err != nil {
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "chain link", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO log_entries
			(seq, timestamp, actor, action, resource, subsystem, payload_hash, payload, result, signature, prev_seq_hash, chain_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		linked.Seq, linked.Timestamp, linked.Actor, linked.Action, linked.Resource, linked.Subsystem,
		linked.PayloadHash, linked.Payload, string(linked.Result), linked.Signature, linked.PrevSeqHash, chainHash,
	)
	if err != nil {
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "insert entry", err)
	}

	if err := tx.Commit(); err != nil {
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "commit tx", err)
	}
	return linked, nil
}

func (s *SQLiteLedger) Read(ctx context.Context, filter contracts.LogFilter) ([]contracts.LogEntry, error) {
	query := `SELECT seq, timestamp, actor, action, resource, subsystem, payload_hash, payload, result, signature, prev_seq_hash
		FROM log_entries WHERE 1=1`
	var args []any

	if !filter.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.To)
	}
	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Subsystem != "" {
		query += " AND subsystem = ?"
		args = append(args, filter.Subsystem)
	}
	if filter.Resource != "" {
		query += " AND resource = ?"
		args = append(args, filter.Resource)
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, graceerr.Wrap(graceerr.KindLogUnavailable, "query entries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.LogEntry
	for rows.Next() {
		var e contracts.LogEntry
		var result string
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &e.Subsystem,
			&e.PayloadHash, &e.Payload, &result, &e.Signature, &e.PrevSeqHash); err != nil {
			return nil, graceerr.Wrap(graceerr.KindLogUnavailable, "scan entry", err)
		}
		e.Result = contracts.LogResult(result)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, graceerr.Wrap(graceerr.KindLogUnavailable, "iterate rows", err)
	}
	return out, nil
}

func (s *SQLiteLedger) Verify(ctx context.Context, from, to uint64) error {
	query := `SELECT seq, timestamp, actor, action, resource, subsystem, payload_hash, payload, result, signature, prev_seq_hash
		FROM log_entries WHERE seq >= ?`
	args := []any{from}
	if to > 0 {
		query += " AND seq < ?"
		args = append(args, to)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return graceerr.Wrap(graceerr.KindLogUnavailable, "query for verify", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []contracts.LogEntry
	for rows.Next() {
		var e contracts.LogEntry
		var result string
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &e.Subsystem,
			&e.PayloadHash, &e.Payload, &result, &e.Signature, &e.PrevSeqHash); err != nil {
			return graceerr.Wrap(graceerr.KindLogUnavailable, "scan entry", err)
		}
		e.Result = contracts.LogResult(result)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return graceerr.Wrap(graceerr.KindLogUnavailable, "iterate rows", err)
	}
	if len(entries) == 0 {
		return nil
	}

	prevHash := genesisHash
	if from > 0 {
		row := s.db.QueryRowContext(ctx, `SELECT chain_hash FROM log_entries WHERE seq = ?`, from-1)
		if err := row.Scan(&prevHash); err != nil {
			return graceerr.Wrap(graceerr.KindLogUnavailable, "read preceding chain hash", err)
		}
	}

	return verifyChain(ctx, entries, prevHash, s.signer.PublicKey(), s.verifier)
}

func (s *SQLiteLedger) Head(ctx context.Context) (contracts.LogEntry, bool, error) {
	entries, err := s.Read(ctx, contracts.LogFilter{})
	if err != nil {
		return contracts.LogEntry{}, false, err
	}
	if len(entries) == 0 {
		return contracts.LogEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (s *SQLiteLedger) Len(ctx context.Context) (uint64, error) {
	var n uint64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`)
	if err := row.Scan(&n); err != nil {
		return 0, graceerr.Wrap(graceerr.KindLogUnavailable, "count entries", err)
	}
	return n, nil
}
