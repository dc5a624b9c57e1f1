package reporting

import (
	"context"
	"database/sql"
	"time"

	"consult-platform/internal/consult"
	"consult-platform/internal/participant"
)

// PostgresRepo reads the transactions table written by consult.PostgresStore.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const listByRequester = `
SELECT id, session_id, requester_id, provider_id, modality, duration_minutes,
       rate_per_minute_minor, amount_minor, status, is_settled, invoice_ref, created_at
FROM transactions
WHERE requester_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`

const listByProvider = `
SELECT id, session_id, requester_id, provider_id, modality, duration_minutes,
       rate_per_minute_minor, amount_minor, status, is_settled, invoice_ref, created_at
FROM transactions
WHERE provider_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`

func (r *PostgresRepo) ListTransactions(ctx context.Context, kind participant.Kind, participantID string, from, to time.Time) ([]consult.Transaction, error) {
	q := listByRequester
	if kind == participant.KindProvider {
		q = listByProvider
	}
	rows, err := r.db.QueryContext(ctx, q, participantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]consult.Transaction, 0)
	for rows.Next() {
		var t consult.Transaction
		if err := rows.Scan(
			&t.ID,
			&t.SessionID,
			&t.RequesterID,
			&t.ProviderID,
			&t.Modality,
			&t.DurationMinutes,
			&t.RatePerMinuteMinor,
			&t.AmountMinor,
			&t.Status,
			&t.IsSettled,
			&t.InvoiceRef,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
