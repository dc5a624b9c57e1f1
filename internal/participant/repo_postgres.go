package participant

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the participants table from migrations/0001_init.sql.
// Per-modality pricing and service flags are flat columns.

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Get(ctx context.Context, kind Kind, id string) (Participant, error) {
	const q = `
SELECT id, kind, name, phone, status, is_busy,
       chat_rate_minor, voice_rate_minor, video_rate_minor,
       offers_chat, offers_voice, offers_video,
       created_at, updated_at
FROM participants
WHERE kind = $1 AND id = $2
`
	var (
		p                          Participant
		chatRate, voiceRate, vRate int64
		chat, voice, video         bool
	)
	if err := r.db.QueryRowContext(ctx, q, kind, id).Scan(
		&p.ID,
		&p.Kind,
		&p.Name,
		&p.Phone,
		&p.Status,
		&p.IsBusy,
		&chatRate,
		&voiceRate,
		&vRate,
		&chat,
		&voice,
		&video,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, err
	}
	p.Pricing = map[Modality]int64{
		ModalityChat:  chatRate,
		ModalityVoice: voiceRate,
		ModalityVideo: vRate,
	}
	p.Services = map[Modality]bool{
		ModalityChat:  chat,
		ModalityVoice: voice,
		ModalityVideo: video,
	}
	return p, nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, providerID string, status Status) error {
	const q = `UPDATE participants SET status = $1, updated_at = $2 WHERE kind = 'provider' AND id = $3`
	return r.exec(ctx, q, status, r.clock().UTC(), providerID)
}

func (r *PostgresRepo) MarkBusy(ctx context.Context, providerID string) (bool, error) {
	const q = `
UPDATE participants SET is_busy = TRUE, updated_at = $1
WHERE kind = 'provider' AND id = $2 AND is_busy = FALSE
`
	res, err := r.db.ExecContext(ctx, q, r.clock().UTC(), providerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ClearBusy(ctx context.Context, providerID string) error {
	const q = `UPDATE participants SET is_busy = FALSE, updated_at = $1 WHERE kind = 'provider' AND id = $2`
	return r.exec(ctx, q, r.clock().UTC(), providerID)
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
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
