package wallet

import (
	"time"

	"consult-platform/internal/participant"
)

// Owner identifies a wallet. Requester and provider ids live in separate namespaces.
type Owner struct {
	Kind participant.Kind `json:"kind"`
	ID   string           `json:"id"`
}

func (o Owner) valid() bool { return o.Kind.Valid() && o.ID != "" }

func (o Owner) less(other Owner) bool {
	if o.Kind != other.Kind {
		return o.Kind < other.Kind
	}
	return o.ID < other.ID
}

// Wallet is the money state of one participant.
//
// Invariants:
// - BalanceMinor >= 0 and LockedMinor >= 0
// - No code mutates either field without writing a corresponding ledger entry.
type Wallet struct {
	Owner    Owner  `json:"owner"`
	Currency string `json:"currency" db:"currency"`

	// BalanceMinor is spendable; LockedMinor is held against a session (escrow).
	BalanceMinor int64 `json:"balance_minor" db:"balance_minor"`
	LockedMinor  int64 `json:"locked_minor" db:"locked_minor"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot is the wallet view pushed to the owner's connection.
type Snapshot struct {
	Balance       int64  `json:"balance"`
	LockedBalance int64  `json:"locked_balance"`
	Currency      string `json:"currency"`
}

func (w Wallet) Snapshot() Snapshot {
	return Snapshot{Balance: w.BalanceMinor, LockedBalance: w.LockedMinor, Currency: w.Currency}
}

// LedgerEntry is an immutable append-only row.
// AmountMinor is the signed delta on spendable balance, LockedDeltaMinor the signed
// delta on locked balance.
type LedgerEntry struct {
	ID               string          `json:"id" db:"id"`
	Owner            Owner           `json:"owner"`
	Type             LedgerEntryType `json:"type" db:"type"`
	AmountMinor      int64           `json:"amount_minor" db:"amount_minor"`
	LockedDeltaMinor int64           `json:"locked_delta_minor" db:"locked_delta_minor"`
	Currency         string          `json:"currency" db:"currency"`

	// ExternalRef is a session or transaction id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit     LedgerEntryType = "credit"      // top-up, adjustment
	LedgerEntryTypeHold       LedgerEntryType = "hold"        // balance -> locked
	LedgerEntryTypeUnhold     LedgerEntryType = "unhold"      // locked -> balance, compensates a hold
	LedgerEntryTypeRelease    LedgerEntryType = "release"     // locked swept out of a requester
	LedgerEntryTypeTransferIn LedgerEntryType = "transfer_in" // locked swept into a provider
)

// SweepResult is the outcome of moving all locked funds from one wallet to another.
type SweepResult struct {
	MovedMinor int64  `json:"moved_minor"`
	From       Wallet `json:"from"`
	To         Wallet `json:"to"`
}
