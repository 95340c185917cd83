package parliament

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// PostgresStore is the durable Store backend for `sessions`, `votes`,
// and `members` per spec.md §6's persisted state layout.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS members (
	member_id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	role TEXT NOT NULL,
	committees JSONB NOT NULL,
	weight DOUBLE PRECISION NOT NULL,
	active BOOLEAN NOT NULL,
	suspended BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	policy_name TEXT NOT NULL,
	action_type TEXT NOT NULL,
	action_payload JSONB,
	actor TEXT NOT NULL,
	resource TEXT NOT NULL,
	committee TEXT NOT NULL,
	tally_basis TEXT NOT NULL,
	quorum_required INTEGER NOT NULL,
	approval_threshold DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	tallies JSONB NOT NULL,
	risk_level TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	decided_at TIMESTAMPTZ,
	decision_reason TEXT,
	attached_alerts JSONB
);
CREATE TABLE IF NOT EXISTS votes (
	session_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	vote TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL,
	reason TEXT,
	automated BOOLEAN NOT NULL,
	confidence DOUBLE PRECISION,
	signature TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(session_id, member_id)
);
`

// OpenPostgresStore opens dsn and migrates the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("parliament: open postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("parliament: migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB without running
// the schema migration, so tests can inject a sqlmock connection.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) PutMember(ctx context.Context, m contracts.ParliamentMember) error {
	committees, _ := json.Marshal(m.Committees)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (member_id, type, role, committees, weight, active, suspended)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (member_id) DO UPDATE SET
			type=$2, role=$3, committees=$4, weight=$5, active=$6, suspended=$7`,
		m.MemberID, string(m.Type), m.Role, committees, m.Weight, m.Active, m.Suspended)
	return err
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (contracts.ParliamentMember, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT member_id, type, role, committees, weight, active, suspended FROM members WHERE member_id=$1`, memberID)
	var m contracts.ParliamentMember
	var typ string
	var committees []byte
	if err := row.Scan(&m.MemberID, &typ, &m.Role, &committees, &m.Weight, &m.Active, &m.Suspended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.ParliamentMember{}, false, nil
		}
		return contracts.ParliamentMember{}, false, err
	}
	m.Type = contracts.MemberType(typ)
	_ = json.Unmarshal(committees, &m.Committees)
	return m, true, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context) ([]contracts.ParliamentMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member_id, type, role, committees, weight, active, suspended FROM members`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.ParliamentMember
	for rows.Next() {
		var m contracts.ParliamentMember
		var typ string
		var committees []byte
		if err := rows.Scan(&m.MemberID, &typ, &m.Role, &committees, &m.Weight, &m.Active, &m.Suspended); err != nil {
			return nil, err
		}
		m.Type = contracts.MemberType(typ)
		_ = json.Unmarshal(committees, &m.Committees)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSession(ctx context.Context, session contracts.VotingSession) error {
	return s.upsertSession(ctx, session)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session contracts.VotingSession) error {
	return s.upsertSession(ctx, session)
}

func (s *PostgresStore) upsertSession(ctx context.Context, session contracts.VotingSession) error {
	payload, _ := json.Marshal(session.ActionPayload)
	tallies, _ := json.Marshal(session.Tallies)
	alerts, _ := json.Marshal(session.AttachedAlerts)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, policy_name, action_type, action_payload, actor, resource, committee,
			tally_basis, quorum_required, approval_threshold, status, tallies, risk_level, created_at, expires_at,
			decided_at, decision_reason, attached_alerts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (session_id) DO UPDATE SET
			status=$11, tallies=$12, decided_at=$16, decision_reason=$17`,
		session.SessionID, session.PolicyName, session.ActionType, payload, session.Actor, session.Resource,
		session.Committee, string(session.TallyBasis), session.QuorumRequired, session.ApprovalThreshold,
		string(session.Status), tallies, session.RiskLevel, session.CreatedAt, session.ExpiresAt,
		session.DecidedAt, session.DecisionReason, alerts)
	if err != nil {
		return graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: persist session", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (contracts.VotingSession, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, policy_name, action_type, action_payload, actor, resource,
		committee, tally_basis, quorum_required, approval_threshold, status, tallies, risk_level, created_at,
		expires_at, decided_at, decision_reason, attached_alerts FROM sessions WHERE session_id=$1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.VotingSession{}, false, nil
	}
	if err != nil {
		return contracts.VotingSession{}, false, err
	}
	return session, true, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, status contracts.SessionStatus, committee string, limit int) ([]contracts.VotingSession, error) {
	query := `SELECT session_id, policy_name, action_type, action_payload, actor, resource, committee, tally_basis,
		quorum_required, approval_threshold, status, tallies, risk_level, created_at, expires_at, decided_at,
		decision_reason, attached_alerts FROM sessions WHERE 1=1`
	var args []any
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if committee != "" {
		args = append(args, committee)
		query += fmt.Sprintf(" AND committee=$%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.VotingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (contracts.VotingSession, error) {
	var session contracts.VotingSession
	var payload, tallies, alerts []byte
	var basis, status string
	if err := row.Scan(&session.SessionID, &session.PolicyName, &session.ActionType, &payload, &session.Actor,
		&session.Resource, &session.Committee, &basis, &session.QuorumRequired, &session.ApprovalThreshold,
		&status, &tallies, &session.RiskLevel, &session.CreatedAt, &session.ExpiresAt, &session.DecidedAt,
		&session.DecisionReason, &alerts); err != nil {
		return contracts.VotingSession{}, err
	}
	session.TallyBasis = contracts.TallyBasis(basis)
	session.Status = contracts.SessionStatus(status)
	_ = json.Unmarshal(payload, &session.ActionPayload)
	_ = json.Unmarshal(tallies, &session.Tallies)
	_ = json.Unmarshal(alerts, &session.AttachedAlerts)
	return session, nil
}

func (s *PostgresStore) PutVote(ctx context.Context, v contracts.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (session_id, member_id, vote, weight, reason, automated, confidence, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.SessionID, v.MemberID, string(v.Vote), v.Weight, v.Reason, v.Automated, v.Confidence, v.Signature, v.CreatedAt)
	return err
}

func (s *PostgresStore) HasVoted(ctx context.Context, sessionID, memberID string) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE session_id=$1 AND member_id=$2`, sessionID, memberID)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) VotesFor(ctx context.Context, sessionID string) ([]contracts.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, member_id, vote, weight, reason, automated, confidence,
		signature, created_at FROM votes WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.Vote
	for rows.Next() {
		var v contracts.Vote
		var choice string
		if err := rows.Scan(&v.SessionID, &v.MemberID, &choice, &v.Weight, &v.Reason, &v.Automated, &v.Confidence,
			&v.Signature, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Vote = contracts.VoteChoice(choice)
		out = append(out, v)
	}
	return out, rows.Err()
}
