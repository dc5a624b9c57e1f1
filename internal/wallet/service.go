package wallet

import (
	"context"
	"errors"
	"time"
)

// Service provides wallet operations for the live-session core.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - Every operation is atomic in the repository
//
// Retried calls with the same idempotency key never post twice.
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type HoldRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SweepRequest struct {
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
)

func (s *Service) Get(ctx context.Context, owner Owner) (Wallet, error) {
	if !owner.valid() {
		return Wallet{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, owner)
}

// Credit adds spendable funds. Top-up flows live outside the session core.
func (s *Service) Credit(ctx context.Context, owner Owner, req CreditRequest) (Wallet, error) {
	if err := validateMoneyReq(owner, req.AmountMinor, req.IdempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.Credit(ctx, owner, req.AmountMinor, req.IdempotencyKey, req.ExternalRef, s.clock().UTC())
}

// Hold moves AmountMinor from spendable into locked balance.
func (s *Service) Hold(ctx context.Context, owner Owner, req HoldRequest) (Wallet, error) {
	if err := validateMoneyReq(owner, req.AmountMinor, req.IdempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.Hold(ctx, owner, req.AmountMinor, req.IdempotencyKey, req.ExternalRef, s.clock().UTC())
}

// Unhold returns AmountMinor from locked to spendable balance. It compensates a
// Hold whose session never started.
func (s *Service) Unhold(ctx context.Context, owner Owner, req HoldRequest) (Wallet, error) {
	if err := validateMoneyReq(owner, req.AmountMinor, req.IdempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.Unhold(ctx, owner, req.AmountMinor, req.IdempotencyKey, req.ExternalRef, s.clock().UTC())
}

// Sweep moves the entire locked balance of from into the locked balance of to.
func (s *Service) Sweep(ctx context.Context, from, to Owner, req SweepRequest) (SweepResult, error) {
	if !from.valid() || !to.valid() || from == to {
		return SweepResult{}, ErrInvalidArgument
	}
	if req.IdempotencyKey == "" {
		return SweepResult{}, ErrInvalidArgument
	}
	return s.repo.Sweep(ctx, from, to, req.IdempotencyKey, req.ExternalRef, s.clock().UTC())
}

func validateMoneyReq(owner Owner, amountMinor int64, idempotencyKey string) error {
	if !owner.valid() {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
