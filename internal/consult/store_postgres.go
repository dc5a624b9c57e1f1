package consult

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/internal/participant"
	"consult-platform/pkg/utils"
)

// NOTE: PostgresStore assumes the consultation_requests, consultation_sessions and
// transactions tables from migrations/0001_init.sql, including
// UNIQUE (session_id) on transactions.
//
// Every state change is a conditional UPDATE so concurrent processes resolve
// races in the database rather than in memory.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, requester_id, provider_id, modality, status, created_at, responded_at`

func scanRequest(row interface{ Scan(...any) error }) (Request, error) {
	var (
		r         Request
		responded sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.RequesterID, &r.ProviderID, &r.Modality, &r.Status, &r.CreatedAt, &responded); err != nil {
		return Request{}, err
	}
	if responded.Valid {
		t := responded.Time
		r.RespondedAt = &t
	}
	return r, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, r Request) error {
	const q = `
INSERT INTO consultation_requests (id, requester_id, provider_id, modality, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := s.db.ExecContext(ctx, q, r.ID, r.RequesterID, r.ProviderID, r.Modality, r.Status, r.CreatedAt)
	if utils.IsUniqueViolation(err) {
		// A partial unique index allows one pending request per pair.
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (Request, error) {
	q := `SELECT ` + requestColumns + ` FROM consultation_requests WHERE id = $1`
	r, err := scanRequest(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) TransitionRequest(ctx context.Context, id string, from, to RequestStatus, at time.Time) (bool, error) {
	var responded any = at
	if to == RequestStatusPending {
		responded = nil
	}
	const q = `
UPDATE consultation_requests SET status = $1, responded_at = $2
WHERE id = $3 AND status = $4
`
	res, err := s.db.ExecContext(ctx, q, to, responded, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetRequest(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

const sessionColumns = `id, request_id, requester_id, provider_id, modality, status, rate_per_minute_minor, started_at, ended_at, end_reason, held_minutes, last_tick_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		sess  Session
		ended sql.NullTime
	)
	if err := row.Scan(
		&sess.ID,
		&sess.RequestID,
		&sess.RequesterID,
		&sess.ProviderID,
		&sess.Modality,
		&sess.Status,
		&sess.RatePerMinuteMinor,
		&sess.StartedAt,
		&ended,
		&sess.EndReason,
		&sess.HeldMinutes,
		&sess.LastTickAt,
	); err != nil {
		return Session{}, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	const q = `
INSERT INTO consultation_sessions (id, request_id, requester_id, provider_id, modality, status, rate_per_minute_minor, started_at, end_reason, held_minutes, last_tick_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'',$9,$10)
`
	_, err := s.db.ExecContext(ctx, q,
		sess.ID,
		sess.RequestID,
		sess.RequesterID,
		sess.ProviderID,
		sess.Modality,
		sess.Status,
		sess.RatePerMinuteMinor,
		sess.StartedAt,
		sess.HeldMinutes,
		sess.LastTickAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM consultation_sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *PostgresStore) FindActiveSessions(ctx context.Context, kind participant.Kind, participantID string) ([]Session, error) {
	col := "requester_id"
	if kind == participant.KindProvider {
		col = "provider_id"
	}
	q := `SELECT ` + sessionColumns + `
FROM consultation_sessions
WHERE ` + col + ` = $1 AND status = 'active'
ORDER BY started_at ASC`
	return s.querySessions(ctx, q, participantID)
}

func (s *PostgresStore) FindActiveSessionBetween(ctx context.Context, requesterID, providerID string) (Session, bool, error) {
	q := `SELECT ` + sessionColumns + `
FROM consultation_sessions
WHERE requester_id = $1 AND provider_id = $2 AND status = 'active'
ORDER BY started_at DESC
LIMIT 1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, q, requesterID, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	q := `SELECT ` + sessionColumns + `
FROM consultation_sessions
WHERE status = 'active'
ORDER BY started_at ASC`
	return s.querySessions(ctx, q)
}

func (s *PostgresStore) querySessions(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordMinutes(ctx context.Context, id string, held int, at time.Time) error {
	const q = `
UPDATE consultation_sessions SET held_minutes = $1, last_tick_at = $2
WHERE id = $3 AND status = 'active'
`
	_, err := s.db.ExecContext(ctx, q, held, at, id)
	return err
}

func (s *PostgresStore) EndSession(ctx context.Context, id string, at time.Time, reason string) (Session, bool, error) {
	q := `
UPDATE consultation_sessions SET status = 'ended', ended_at = $1, end_reason = $2
WHERE id = $3 AND status = 'active'
RETURNING ` + sessionColumns
	sess, err := scanSession(s.db.QueryRowContext(ctx, q, at, reason, id))
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := s.GetSession(ctx, id)
		if gerr != nil {
			return Session{}, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

const transactionColumns = `id, session_id, requester_id, provider_id, modality, duration_minutes, rate_per_minute_minor, amount_minor, status, is_settled, invoice_ref, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var t Transaction
	err := row.Scan(
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
	)
	return t, err
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, t Transaction) (Transaction, bool, error) {
	q := `
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (session_id) DO NOTHING
RETURNING ` + transactionColumns
	out, err := scanTransaction(s.db.QueryRowContext(ctx, q,
		t.ID,
		t.SessionID,
		t.RequesterID,
		t.ProviderID,
		t.Modality,
		t.DurationMinutes,
		t.RatePerMinuteMinor,
		t.AmountMinor,
		t.Status,
		t.IsSettled,
		t.InvoiceRef,
		t.CreatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		existing, gerr := s.GetTransactionBySession(ctx, t.SessionID)
		return existing, false, gerr
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return out, true, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) GetTransactionBySession(ctx context.Context, sessionID string) (Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE session_id = $1`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) AttachInvoice(ctx context.Context, transactionID, ref string) error {
	const q = `UPDATE transactions SET invoice_ref = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, ref, transactionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
