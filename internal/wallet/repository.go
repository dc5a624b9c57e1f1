package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/pkg/utils"

	"github.com/google/uuid"
)

// Repository is the persistence contract for wallets.
// Implementations must make each method atomic with its ledger rows.
type Repository interface {
	Get(ctx context.Context, owner Owner) (Wallet, error)
	Credit(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error)
	Hold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error)
	Unhold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error)
	Sweep(ctx context.Context, from, to Owner, key, ref string, now time.Time) (SweepResult, error)
}

// NOTE: PostgresRepo assumes the wallets and wallet_ledger tables from
// migrations/0001_init.sql, including UNIQUE (owner_kind, owner_id, idempotency_key).

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, owner Owner) (Wallet, error) {
	return getWallet(ctx, r.db, owner, false)
}

func (r *PostgresRepo) Credit(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := getWallet(ctx, tx, owner, true)
		if err != nil {
			return err
		}
		if ok, err := ledgerExists(ctx, tx, owner, key); err != nil {
			return err
		} else if ok {
			out = w
			return nil
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:             uuid.NewString(),
			Owner:          owner,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    amountMinor,
			Currency:       w.Currency,
			ExternalRef:    ref,
			IdempotencyKey: key,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		out, err = applyDelta(ctx, tx, owner, amountMinor, 0, now)
		return err
	})
	return out, err
}

func (r *PostgresRepo) Hold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the wallet row to serialize concurrent money operations per owner.
		w, err := getWallet(ctx, tx, owner, true)
		if err != nil {
			return err
		}
		if ok, err := ledgerExists(ctx, tx, owner, key); err != nil {
			return err
		} else if ok {
			out = w
			return nil
		}
		if w.BalanceMinor < amountMinor {
			return ErrInsufficientFunds
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:               uuid.NewString(),
			Owner:            owner,
			Type:             LedgerEntryTypeHold,
			AmountMinor:      -amountMinor,
			LockedDeltaMinor: amountMinor,
			Currency:         w.Currency,
			ExternalRef:      ref,
			IdempotencyKey:   key,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		out, err = applyDelta(ctx, tx, owner, -amountMinor, amountMinor, now)
		return err
	})
	return out, err
}

func (r *PostgresRepo) Unhold(ctx context.Context, owner Owner, amountMinor int64, key, ref string, now time.Time) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := getWallet(ctx, tx, owner, true)
		if err != nil {
			return err
		}
		if ok, err := ledgerExists(ctx, tx, owner, key); err != nil {
			return err
		} else if ok {
			out = w
			return nil
		}
		if w.LockedMinor < amountMinor {
			return ErrInsufficientFunds
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:               uuid.NewString(),
			Owner:            owner,
			Type:             LedgerEntryTypeUnhold,
			AmountMinor:      amountMinor,
			LockedDeltaMinor: -amountMinor,
			Currency:         w.Currency,
			ExternalRef:      ref,
			IdempotencyKey:   key,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		out, err = applyDelta(ctx, tx, owner, amountMinor, -amountMinor, now)
		return err
	})
	return out, err
}

func (r *PostgresRepo) Sweep(ctx context.Context, from, to Owner, key, ref string, now time.Time) (SweepResult, error) {
	var out SweepResult
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock both rows in a stable order so two sweeps never deadlock.
		first, second := from, to
		if to.less(from) {
			first, second = to, from
		}
		a, err := getWallet(ctx, tx, first, true)
		if err != nil {
			return err
		}
		b, err := getWallet(ctx, tx, second, true)
		if err != nil {
			return err
		}
		src, dst := a, b
		if first != from {
			src, dst = b, a
		}

		if ok, err := ledgerExists(ctx, tx, from, key); err != nil {
			return err
		} else if ok {
			out = SweepResult{From: src, To: dst}
			return nil
		}

		moved := src.LockedMinor
		if moved == 0 {
			out = SweepResult{From: src, To: dst}
			return nil
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:               uuid.NewString(),
			Owner:            from,
			Type:             LedgerEntryTypeRelease,
			LockedDeltaMinor: -moved,
			Currency:         src.Currency,
			ExternalRef:      ref,
			IdempotencyKey:   key,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:               uuid.NewString(),
			Owner:            to,
			Type:             LedgerEntryTypeTransferIn,
			LockedDeltaMinor: moved,
			Currency:         dst.Currency,
			ExternalRef:      ref,
			IdempotencyKey:   key,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		fromW, err := applyDelta(ctx, tx, from, 0, -moved, now)
		if err != nil {
			return err
		}
		toW, err := applyDelta(ctx, tx, to, 0, moved, now)
		if err != nil {
			return err
		}
		out = SweepResult{MovedMinor: moved, From: fromW, To: toW}
		return nil
	})
	return out, err
}

func getWallet(ctx context.Context, db utils.DBTX, owner Owner, forUpdate bool) (Wallet, error) {
	q := `
SELECT owner_kind, owner_id, currency, balance_minor, locked_minor, updated_at
FROM wallets
WHERE owner_kind = $1 AND owner_id = $2
`
	if forUpdate {
		q += "FOR UPDATE\n"
	}
	var w Wallet
	if err := db.QueryRowContext(ctx, q, owner.Kind, owner.ID).Scan(
		&w.Owner.Kind,
		&w.Owner.ID,
		&w.Currency,
		&w.BalanceMinor,
		&w.LockedMinor,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func ledgerExists(ctx context.Context, tx *sql.Tx, owner Owner, key string) (bool, error) {
	const q = `
SELECT 1 FROM wallet_ledger
WHERE owner_kind = $1 AND owner_id = $2 AND idempotency_key = $3
LIMIT 1
`
	var one int
	err := tx.QueryRowContext(ctx, q, owner.Kind, owner.ID, key).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO wallet_ledger (
  id, owner_kind, owner_id, type, amount_minor, locked_delta_minor, currency, external_ref, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.Owner.Kind,
		e.Owner.ID,
		e.Type,
		e.AmountMinor,
		e.LockedDeltaMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}

func applyDelta(ctx context.Context, tx *sql.Tx, owner Owner, balanceDelta, lockedDelta int64, now time.Time) (Wallet, error) {
	const q = `
UPDATE wallets
SET balance_minor = balance_minor + $3,
    locked_minor = locked_minor + $4,
    updated_at = $5
WHERE owner_kind = $1 AND owner_id = $2
RETURNING owner_kind, owner_id, currency, balance_minor, locked_minor, updated_at
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, owner.Kind, owner.ID, balanceDelta, lockedDelta, now).Scan(
		&w.Owner.Kind,
		&w.Owner.ID,
		&w.Currency,
		&w.BalanceMinor,
		&w.LockedMinor,
		&w.UpdatedAt,
	); err != nil {
		return Wallet{}, err
	}
	return w, nil
}
