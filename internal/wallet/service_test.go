package wallet

import (
	"context"
	"testing"
	"time"

	"consult-platform/internal/participant"
)

var (
	requester = Owner{Kind: participant.KindRequester, ID: "r1"}
	provider  = Owner{Kind: participant.KindProvider, ID: "p1"}
)

func newTestService(t *testing.T) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	repo.Seed(requester, "INR", 100, 0)
	repo.Seed(provider, "INR", 0, 0)
	now := time.Unix(1700000000, 0)
	return NewService(repo).WithClock(func() time.Time { return now }), repo
}

func TestValidateMoneyReq(t *testing.T) {
	if err := validateMoneyReq(requester, 1, "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := validateMoneyReq(Owner{Kind: "admin", ID: "x"}, 1, "k"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for bad kind, got %v", err)
	}
	if err := validateMoneyReq(requester, 0, "k"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if err := validateMoneyReq(requester, 1, ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for missing key, got %v", err)
	}
}

func TestHold_MovesBalanceIntoLocked(t *testing.T) {
	svc, repo := newTestService(t)

	w, err := svc.Hold(context.Background(), requester, HoldRequest{AmountMinor: 10, IdempotencyKey: "s1:0"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if w.BalanceMinor != 90 || w.LockedMinor != 10 {
		t.Fatalf("expected 90/10, got %d/%d", w.BalanceMinor, w.LockedMinor)
	}
	if got := len(repo.Ledger()); got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
}

func TestHold_IdempotentRetry(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Hold(ctx, requester, HoldRequest{AmountMinor: 10, IdempotencyKey: "s1:1"}); err != nil {
			t.Fatalf("hold %d: %v", i, err)
		}
	}
	w, _ := svc.Get(ctx, requester)
	if w.BalanceMinor != 90 || w.LockedMinor != 10 {
		t.Fatalf("retry must not post twice, got %d/%d", w.BalanceMinor, w.LockedMinor)
	}
	if got := len(repo.Ledger()); got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
}

func TestHold_InsufficientFundsLeavesWalletUntouched(t *testing.T) {
	svc, repo := newTestService(t)

	if _, err := svc.Hold(context.Background(), requester, HoldRequest{AmountMinor: 101, IdempotencyKey: "k"}); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	w, _ := svc.Get(context.Background(), requester)
	if w.BalanceMinor != 100 || w.LockedMinor != 0 {
		t.Fatalf("expected untouched wallet, got %d/%d", w.BalanceMinor, w.LockedMinor)
	}
	if len(repo.Ledger()) != 0 {
		t.Fatalf("expected no ledger entries")
	}
}

func TestSweep_MovesEntireLockedBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c"} {
		if _, err := svc.Hold(ctx, requester, HoldRequest{AmountMinor: 10, IdempotencyKey: key}); err != nil {
			t.Fatalf("hold %d: %v", i, err)
		}
	}
	res, err := svc.Sweep(ctx, requester, provider, SweepRequest{IdempotencyKey: "sweep"})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.MovedMinor != 30 || res.From.LockedMinor != 0 || res.To.LockedMinor != 30 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if res.From.BalanceMinor != 70 {
		t.Fatalf("sweep must not touch spendable balance, got %d", res.From.BalanceMinor)
	}

	again, err := svc.Sweep(ctx, requester, provider, SweepRequest{IdempotencyKey: "sweep"})
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.MovedMinor != 0 || again.To.LockedMinor != 30 {
		t.Fatalf("second sweep must be a no-op, got %+v", again)
	}
}

func TestSweep_RejectsSameOwner(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Sweep(context.Background(), requester, requester, SweepRequest{IdempotencyKey: "k"}); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), Owner{Kind: participant.KindRequester, ID: "nobody"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnhold_ReturnsHeldFunds(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Hold(ctx, requester, HoldRequest{AmountMinor: 10, IdempotencyKey: "s1:0"}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	w, err := svc.Unhold(ctx, requester, HoldRequest{AmountMinor: 10, IdempotencyKey: "s1:0:unhold"})
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if w.BalanceMinor != 100 || w.LockedMinor != 0 {
		t.Fatalf("expected 100/0, got %d/%d", w.BalanceMinor, w.LockedMinor)
	}
	if _, err := svc.Unhold(ctx, requester, HoldRequest{AmountMinor: 10, IdempotencyKey: "s1:0:unhold"}); err != nil {
		t.Fatalf("retry unhold: %v", err)
	}
	if got := len(repo.Ledger()); got != 2 {
		t.Fatalf("expected 2 ledger entries after retry, got %d", got)
	}
}

func TestUnhold_MoreThanLockedFails(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Unhold(context.Background(), requester, HoldRequest{AmountMinor: 5, IdempotencyKey: "k"}); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}
