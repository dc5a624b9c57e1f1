package messaging

import (
	"context"
	"errors"
	"time"

	"consult-platform/internal/participant"
)

var ErrMessageNotFound = errors.New("message not found")

// Store persists messages. Soft-delete flags are only ever set, never cleared.
type Store interface {
	Create(ctx context.Context, m Message) error
	Get(ctx context.Context, id string) (Message, error)
	UpdateBody(ctx context.Context, id, body string, at time.Time) (Message, error)
	// MarkDeleted sets one of the deletion flags.
	MarkDeleted(ctx context.Context, id string, scope DeleteScope, at time.Time) (Message, error)
	// MarkRead flips is_read on every unread message from sender to recipient
	// and returns how many changed.
	MarkRead(ctx context.Context, sender, recipient Party, at time.Time) (int, error)
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
}

// Party is one side of a conversation.
type Party struct {
	Kind participant.Kind
	ID   string
}

type DeleteScope string

const (
	DeleteForSender    DeleteScope = "sender"
	DeleteForRecipient DeleteScope = "recipient"
	DeleteForEveryone  DeleteScope = "everyone"
)
