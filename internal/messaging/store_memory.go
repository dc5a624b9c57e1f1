package messaging

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: map[string]Message{}}
}

func (s *MemoryStore) Create(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return m, nil
}

func (s *MemoryStore) UpdateBody(ctx context.Context, id, body string, at time.Time) (Message, error) {
	return s.update(id, func(m *Message) {
		m.Body = body
		m.Edited = true
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkDeleted(ctx context.Context, id string, scope DeleteScope, at time.Time) (Message, error) {
	return s.update(id, func(m *Message) {
		switch scope {
		case DeleteForSender:
			m.DeletedForSender = true
		case DeleteForRecipient:
			m.DeletedForRecipient = true
		case DeleteForEveryone:
			m.DeletedForEveryone = true
		}
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkRead(ctx context.Context, sender, recipient Party, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.messages {
		if m.IsRead || !m.sentBy(sender.Kind, sender.ID) || !m.receivedBy(recipient.Kind, recipient.ID) {
			continue
		}
		m.IsRead = true
		m.UpdatedAt = at
		s.messages[id] = m
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) update(id string, fn func(m *Message)) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	fn(&m)
	s.messages[id] = m
	return m, nil
}
