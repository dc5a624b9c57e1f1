package reporting

import (
	"context"
	"sort"
	"sync"
	"time"

	"consult-platform/internal/consult"
	"consult-platform/internal/participant"
)

// Repository reads settled transactions for one participant.
// Implementations must filter on the participant column matching kind and
// return rows with from <= created_at < to.
type Repository interface {
	ListTransactions(ctx context.Context, kind participant.Kind, participantID string, from, to time.Time) ([]consult.Transaction, error)
}

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
type MemoryRepo struct {
	mu           sync.Mutex
	transactions []consult.Transaction
}

func NewMemoryRepo(txs ...consult.Transaction) *MemoryRepo {
	return &MemoryRepo{transactions: append([]consult.Transaction(nil), txs...)}
}

func (r *MemoryRepo) Add(t consult.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, t)
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, kind participant.Kind, participantID string, from, to time.Time) ([]consult.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]consult.Transaction, 0)
	for _, t := range r.transactions {
		if owner(t, kind) != participantID {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func owner(t consult.Transaction, kind participant.Kind) string {
	if kind == participant.KindProvider {
		return t.ProviderID
	}
	return t.RequesterID
}
