package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NOTE: PostgresStore assumes the messages table from migrations/0001_init.sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const messageColumns = `id, session_id, sender_id, sender_kind, recipient_id, recipient_kind, body,
	is_read, edited, deleted_for_sender, deleted_for_recipient, deleted_for_everyone, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.SessionID,
		&m.SenderID,
		&m.SenderKind,
		&m.RecipientID,
		&m.RecipientKind,
		&m.Body,
		&m.IsRead,
		&m.Edited,
		&m.DeletedForSender,
		&m.DeletedForRecipient,
		&m.DeletedForEveryone,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	return m, err
}

func (s *PostgresStore) Create(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (id, session_id, sender_id, sender_kind, recipient_id, recipient_kind, body, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
`
	_, err := s.db.ExecContext(ctx, q, m.ID, m.SessionID, m.SenderID, m.SenderKind, m.RecipientID, m.RecipientKind, m.Body, m.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) UpdateBody(ctx context.Context, id, body string, at time.Time) (Message, error) {
	q := `UPDATE messages SET body = $1, edited = TRUE, updated_at = $2 WHERE id = $3 RETURNING ` + messageColumns
	return scanMessage(s.db.QueryRowContext(ctx, q, body, at, id))
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, id string, scope DeleteScope, at time.Time) (Message, error) {
	var col string
	switch scope {
	case DeleteForSender:
		col = "deleted_for_sender"
	case DeleteForRecipient:
		col = "deleted_for_recipient"
	case DeleteForEveryone:
		col = "deleted_for_everyone"
	default:
		return Message{}, fmt.Errorf("messaging: unknown delete scope %q", scope)
	}
	q := `UPDATE messages SET ` + col + ` = TRUE, updated_at = $1 WHERE id = $2 RETURNING ` + messageColumns
	return scanMessage(s.db.QueryRowContext(ctx, q, at, id))
}

func (s *PostgresStore) MarkRead(ctx context.Context, sender, recipient Party, at time.Time) (int, error) {
	const q = `
UPDATE messages SET is_read = TRUE, updated_at = $1
WHERE sender_kind = $2 AND sender_id = $3 AND recipient_kind = $4 AND recipient_id = $5 AND is_read = FALSE
`
	res, err := s.db.ExecContext(ctx, q, at, sender.Kind, sender.ID, recipient.Kind, recipient.ID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
