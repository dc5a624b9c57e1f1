package auth

import (
	"context"
	"errors"

	"consult-platform/internal/participant"
)

type ctxKey int

const (
	ctxParticipantID ctxKey = iota
	ctxKind
)

func WithIdentity(ctx context.Context, participantID string, kind participant.Kind) context.Context {
	ctx = context.WithValue(ctx, ctxParticipantID, participantID)
	ctx = context.WithValue(ctx, ctxKind, kind)
	return ctx
}

func ParticipantID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxParticipantID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("participant_id not in context")
}

func Kind(ctx context.Context) (participant.Kind, error) {
	v := ctx.Value(ctxKind)
	if k, ok := v.(participant.Kind); ok && k.Valid() {
		return k, nil
	}
	return "", errors.New("kind not in context")
}
