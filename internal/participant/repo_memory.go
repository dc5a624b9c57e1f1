package participant

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests and local development.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[Kind]map[string]Participant
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items: map[Kind]map[string]Participant{
			KindRequester: {},
			KindProvider:  {},
		},
		clock: time.Now,
	}
}

// Put inserts or replaces a participant.
func (r *MemoryRepo) Put(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := r.items[p.Kind]; ok {
		ns[p.ID] = clone(p)
	}
}

func (r *MemoryRepo) Get(ctx context.Context, kind Kind, id string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[kind][id]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return clone(p), nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, providerID string, status Status) error {
	return r.update(providerID, func(p *Participant) { p.Status = status })
}

func (r *MemoryRepo) MarkBusy(ctx context.Context, providerID string) (bool, error) {
	won := false
	err := r.update(providerID, func(p *Participant) {
		if !p.IsBusy {
			p.IsBusy = true
			won = true
		}
	})
	return won, err
}

func (r *MemoryRepo) ClearBusy(ctx context.Context, providerID string) error {
	return r.update(providerID, func(p *Participant) { p.IsBusy = false })
}

func (r *MemoryRepo) update(providerID string, fn func(p *Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[KindProvider][providerID]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	p.UpdatedAt = r.clock().UTC()
	r.items[KindProvider][providerID] = p
	return nil
}

func clone(p Participant) Participant {
	out := p
	if p.Pricing != nil {
		out.Pricing = make(map[Modality]int64, len(p.Pricing))
		for k, v := range p.Pricing {
			out.Pricing[k] = v
		}
	}
	if p.Services != nil {
		out.Services = make(map[Modality]bool, len(p.Services))
		for k, v := range p.Services {
			out.Services[k] = v
		}
	}
	return out
}
