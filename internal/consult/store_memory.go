package consult

import (
	"context"
	"sort"
	"sync"
	"time"

	"consult-platform/internal/participant"
)

// MemoryStore implements Store in memory with the same conditional-update
// semantics as PostgresStore. Used by tests and local runs.
type MemoryStore struct {
	mu           sync.Mutex
	requests     map[string]Request
	sessions     map[string]Session
	transactions map[string]Transaction
	bySession    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:     map[string]Request{},
		sessions:     map[string]Session{},
		transactions: map[string]Transaction{},
		bySession:    map[string]string{},
	}
}

func (s *MemoryStore) CreateRequest(ctx context.Context, r Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return ErrConflict
	}
	// Mirrors the partial unique index on pending (requester, provider) pairs.
	if r.Status == RequestStatusPending {
		for _, other := range s.requests {
			if other.Status == RequestStatusPending && other.RequesterID == r.RequesterID && other.ProviderID == r.ProviderID {
				return ErrConflict
			}
		}
	}
	s.requests[r.ID] = r
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) TransitionRequest(ctx context.Context, id string, from, to RequestStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if to == RequestStatusPending {
		r.RespondedAt = nil
	} else {
		t := at
		r.RespondedAt = &t
	}
	s.requests[id] = r
	return true, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrConflict
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) FindActiveSessions(ctx context.Context, kind participant.Kind, participantID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Status == SessionStatusActive && sess.HasParty(kind, participantID) {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) FindActiveSessionBetween(ctx context.Context, requesterID, providerID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Status == SessionStatusActive && sess.RequesterID == requesterID && sess.ProviderID == providerID {
			return sess, true, nil
		}
	}
	return Session{}, false, nil
}

func (s *MemoryStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Status == SessionStatusActive {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) RecordMinutes(ctx context.Context, id string, held int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != SessionStatusActive {
		return nil
	}
	sess.HeldMinutes = held
	sess.LastTickAt = at
	s.sessions[id] = sess
	return nil
}

// sortSessions orders oldest first like the postgres queries.
func sortSessions(ss []Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].StartedAt.Before(ss[j].StartedAt) })
}

func (s *MemoryStore) EndSession(ctx context.Context, id string, at time.Time, reason string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false, ErrNotFound
	}
	if sess.Status != SessionStatusActive {
		return sess, false, nil
	}
	t := at
	sess.Status = SessionStatusEnded
	sess.EndedAt = &t
	sess.EndReason = reason
	s.sessions[id] = sess
	return sess, true, nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, t Transaction) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySession[t.SessionID]; ok {
		return s.transactions[id], false, nil
	}
	s.transactions[t.ID] = t
	s.bySession[t.SessionID] = t.ID
	return t, true, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) GetTransactionBySession(ctx context.Context, sessionID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.transactions[id], nil
}

func (s *MemoryStore) AttachInvoice(ctx context.Context, transactionID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[transactionID]
	if !ok {
		return ErrNotFound
	}
	t.InvoiceRef = ref
	s.transactions[transactionID] = t
	return nil
}

// Transactions returns every stored transaction. Test helper.
func (s *MemoryStore) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	return out
}

// Requests returns every stored request. Test helper.
func (s *MemoryStore) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out
}
