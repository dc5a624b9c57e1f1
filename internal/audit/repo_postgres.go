package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo writes to audit_events. The table has no UPDATE/DELETE grants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_id, actor_kind, request_id, session_id, transaction_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,'')::jsonb,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorID,
		e.ActorKind,
		e.RequestID,
		e.SessionID,
		e.TransactionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
