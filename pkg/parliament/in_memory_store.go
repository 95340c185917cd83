package parliament

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// InMemoryStore is the test/dev Store backend: maps guarded by a single
// mutex, mirroring the teacher's escalation.Manager intent map.
type InMemoryStore struct {
	mu       sync.RWMutex
	members  map[string]contracts.ParliamentMember
	sessions map[string]contracts.VotingSession
	votes    map[string][]contracts.Vote // sessionID -> votes
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		members:  make(map[string]contracts.ParliamentMember),
		sessions: make(map[string]contracts.VotingSession),
		votes:    make(map[string][]contracts.Vote),
	}
}

func (s *InMemoryStore) PutMember(_ context.Context, m contracts.ParliamentMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.MemberID] = m
	return nil
}

func (s *InMemoryStore) GetMember(_ context.Context, memberID string) (contracts.ParliamentMember, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	return m, ok, nil
}

func (s *InMemoryStore) ListMembers(_ context.Context) ([]contracts.ParliamentMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.ParliamentMember, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, session contracts.VotingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (contracts.VotingSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok, nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, session contracts.VotingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return nil
}

func (s *InMemoryStore) ListSessions(_ context.Context, status contracts.SessionStatus, committee string, limit int) ([]contracts.VotingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.VotingSession
	for _, sess := range s.sessions {
		if status != "" && sess.Status != status {
			continue
		}
		if committee != "" && sess.Committee != committee {
			continue
		}
		out = append(out, sess)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) PutVote(_ context.Context, v contracts.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[v.SessionID] = append(s.votes[v.SessionID], v)
	return nil
}

func (s *InMemoryStore) HasVoted(_ context.Context, sessionID, memberID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votes[sessionID] {
		if v.MemberID == memberID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) VotesFor(_ context.Context, sessionID string) ([]contracts.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Vote, len(s.votes[sessionID]))
	copy(out, s.votes[sessionID])
	return out, nil
}
