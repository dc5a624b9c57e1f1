package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"consult-platform/internal/audit"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/wallet"

	"github.com/google/uuid"
)

func sweepKey(sessionID string) string { return "session:" + sessionID + ":sweep" }

// Ledger turns an ended session into its transaction and reconciles escrow.
//
// Finalize is safe to retry: the transaction is unique per session and the
// sweep carries an idempotency key.
type Ledger struct {
	deps Deps
	log  *slog.Logger
}

func NewLedger(deps Deps) *Ledger {
	deps = deps.withDefaults()
	return &Ledger{deps: deps, log: deps.Log.With("component", "ledger")}
}

var errSessionNotEnded = errors.New("session has not ended")

func (l *Ledger) Finalize(ctx context.Context, sess Session) (Transaction, error) {
	if sess.Status != SessionStatusEnded || sess.EndedAt == nil {
		return Transaction{}, errSessionNotEnded
	}

	q, err := l.deps.Pricing.Quote(sess.Modality, sess.RatePerMinuteMinor, sess.EndedAt.Sub(sess.StartedAt))
	if err != nil {
		return Transaction{}, fmt.Errorf("quote: %w", err)
	}

	tx, created, err := l.deps.Store.CreateTransaction(ctx, Transaction{
		ID:                 uuid.NewString(),
		SessionID:          sess.ID,
		RequesterID:        sess.RequesterID,
		ProviderID:         sess.ProviderID,
		Modality:           sess.Modality,
		DurationMinutes:    q.BillableMinutes,
		RatePerMinuteMinor: q.RatePerMinuteMinor,
		AmountMinor:        q.TotalMinor,
		Status:             TransactionStatusSuccess,
		IsSettled:          false,
		CreatedAt:          l.deps.Clock().UTC(),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	// The requester's whole locked balance moves, not only this session's amount.
	res, err := l.deps.Wallets.Sweep(ctx, requesterOwner(sess.RequesterID), providerOwner(sess.ProviderID), wallet.SweepRequest{
		ExternalRef:    tx.ID,
		IdempotencyKey: sweepKey(sess.ID),
	})
	if err != nil {
		return tx, fmt.Errorf("sweep escrow: %w", err)
	}

	l.deps.Notifier.Notify(participant.KindRequester, sess.RequesterID, events.Event{
		Type:    events.WalletUpdated,
		Payload: res.From.Snapshot(),
	})
	l.deps.Notifier.Notify(participant.KindProvider, sess.ProviderID, events.Event{
		Type:    events.WalletUpdated,
		Payload: res.To.Snapshot(),
	})

	// A retried finalize re-queues until a document is attached; rendering is idempotent.
	if tx.InvoiceRef == "" {
		if err := l.deps.Invoices.Enqueue(tx.ID); err != nil {
			l.log.Warn("invoice not queued", "transaction_id", tx.ID, "err", err)
		}
	}
	if !created {
		return tx, nil
	}

	l.log.Info("settlement recorded",
		"transaction_id", tx.ID,
		"session_id", sess.ID,
		"amount_minor", tx.AmountMinor,
		"swept_minor", res.MovedMinor,
	)
	if err := l.deps.Audit.Append(ctx, audit.Event{
		Type:          audit.EventTypeSettlement,
		SessionID:     sess.ID,
		TransactionID: tx.ID,
		Metadata:      fmt.Sprintf(`{"amount_minor":%d,"swept_minor":%d}`, tx.AmountMinor, res.MovedMinor),
	}); err != nil {
		l.log.Warn("audit append failed", "type", audit.EventTypeSettlement, "err", err)
	}
	return tx, nil
}

// AttachInvoice records the generated document on a transaction.
func (l *Ledger) AttachInvoice(ctx context.Context, transactionID, ref string) error {
	if err := l.deps.Store.AttachInvoice(ctx, transactionID, ref); err != nil {
		return err
	}
	if err := l.deps.Audit.Append(ctx, audit.Event{
		Type:          audit.EventTypeInvoiceAttached,
		TransactionID: transactionID,
		Message:       ref,
	}); err != nil {
		l.log.Warn("audit append failed", "type", audit.EventTypeInvoiceAttached, "err", err)
	}
	return nil
}
