package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory wallet store with the same idempotency rules as PostgresRepo.
type MemoryRepo struct {
	mu      sync.Mutex
	wallets map[Owner]Wallet
	ledger  []LedgerEntry
	keys    map[Owner]map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		wallets: map[Owner]Wallet{},
		keys:    map[Owner]map[string]struct{}{},
	}
}

// Seed creates or replaces a wallet without a ledger row. Test setup only.
func (r *MemoryRepo) Seed(owner Owner, currency string, balanceMinor, lockedMinor int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[owner] = Wallet{Owner: owner, Currency: currency, BalanceMinor: balanceMinor, LockedMinor: lockedMinor}
}

// Ledger returns a copy of every posted entry in posting order.
func (r *MemoryRepo) Ledger() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	return out
}

func (r *MemoryRepo) Get(ctx context.Context, owner Owner) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[owner]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (r *MemoryRepo) Credit(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[owner]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if r.seen(owner, key) {
		return w, nil
	}
	w = r.post(w, LedgerEntryTypeCredit, amountMinor, 0, key, ref, now)
	return w, nil
}

func (r *MemoryRepo) Hold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[owner]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if r.seen(owner, key) {
		return w, nil
	}
	if w.BalanceMinor < amountMinor {
		return Wallet{}, ErrInsufficientFunds
	}
	w = r.post(w, LedgerEntryTypeHold, -amountMinor, amountMinor, key, ref, now)
	return w, nil
}

func (r *MemoryRepo) Unhold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[owner]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if r.seen(owner, key) {
		return w, nil
	}
	if w.LockedMinor < amountMinor {
		return Wallet{}, ErrInsufficientFunds
	}
	w = r.post(w, LedgerEntryTypeUnhold, amountMinor, -amountMinor, key, ref, now)
	return w, nil
}

func (r *MemoryRepo) Sweep(ctx context.Context, from, to Owner, key, ref string, now time.Time) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.wallets[from]
	if !ok {
		return SweepResult{}, ErrNotFound
	}
	dst, ok := r.wallets[to]
	if !ok {
		return SweepResult{}, ErrNotFound
	}
	if r.seen(from, key) || src.LockedMinor == 0 {
		return SweepResult{From: src, To: dst}, nil
	}
	moved := src.LockedMinor
	src = r.post(src, LedgerEntryTypeRelease, 0, -moved, key, ref, now)
	dst = r.post(dst, LedgerEntryTypeTransferIn, 0, moved, key, ref, now)
	return SweepResult{MovedMinor: moved, From: src, To: dst}, nil
}

func (r *MemoryRepo) seen(owner Owner, key string) bool {
	_, ok := r.keys[owner][key]
	return ok
}

// post must be called with r.mu held.
func (r *MemoryRepo) post(w Wallet, typ LedgerEntryType, balanceDelta, lockedDelta int64, key, ref string, now time.Time) Wallet {
	r.ledger = append(r.ledger, LedgerEntry{
		ID:               uuid.NewString(),
		Owner:            w.Owner,
		Type:             typ,
		AmountMinor:      balanceDelta,
		LockedDeltaMinor: lockedDelta,
		Currency:         w.Currency,
		ExternalRef:      ref,
		IdempotencyKey:   key,
		CreatedAt:        now,
	})
	if r.keys[w.Owner] == nil {
		r.keys[w.Owner] = map[string]struct{}{}
	}
	r.keys[w.Owner][key] = struct{}{}

	w.BalanceMinor += balanceDelta
	w.LockedMinor += lockedDelta
	w.UpdatedAt = now
	r.wallets[w.Owner] = w
	return w
}
