package messaging

import (
	"time"

	"consult-platform/internal/participant"
)

// EditWindow is how long a sender may edit a message after sending it.
const EditWindow = 15 * time.Minute

// MaxBodyLen bounds a message body in runes.
const MaxBodyLen = 4000

// Message belongs to exactly one session and outlives it for history.
//
// Visibility is per viewer: the sender sees it unless DeletedForSender, the
// recipient unless DeletedForRecipient, nobody once DeletedForEveryone.
type Message struct {
	ID            string           `json:"id" db:"id"`
	SessionID     string           `json:"session_id" db:"session_id"`
	SenderID      string           `json:"sender_id" db:"sender_id"`
	SenderKind    participant.Kind `json:"sender_kind" db:"sender_kind"`
	RecipientID   string           `json:"recipient_id" db:"recipient_id"`
	RecipientKind participant.Kind `json:"recipient_kind" db:"recipient_kind"`
	Body          string           `json:"body" db:"body"`

	IsRead bool `json:"is_read" db:"is_read"`
	Edited bool `json:"edited" db:"edited"`

	DeletedForSender    bool `json:"-" db:"deleted_for_sender"`
	DeletedForRecipient bool `json:"-" db:"deleted_for_recipient"`
	DeletedForEveryone  bool `json:"deleted_for_everyone" db:"deleted_for_everyone"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VisibleTo reports whether the viewer should see m in their history.
func (m Message) VisibleTo(kind participant.Kind, id string) bool {
	if m.DeletedForEveryone {
		return false
	}
	switch {
	case m.SenderKind == kind && m.SenderID == id:
		return !m.DeletedForSender
	case m.RecipientKind == kind && m.RecipientID == id:
		return !m.DeletedForRecipient
	default:
		return false
	}
}

func (m Message) sentBy(kind participant.Kind, id string) bool {
	return m.SenderKind == kind && m.SenderID == id
}

func (m Message) receivedBy(kind participant.Kind, id string) bool {
	return m.RecipientKind == kind && m.RecipientID == id
}

// View is the denormalized message pushed to clients.
type View struct {
	Message
	Sender    participant.Summary `json:"sender"`
	Recipient participant.Summary `json:"recipient"`
}

// DeletedPayload is carried by message:deleted.
type DeletedPayload struct {
	MessageID   string `json:"message_id"`
	SessionID   string `json:"session_id"`
	ForEveryone bool   `json:"for_everyone"`
}

// ReadPayload is carried by message:read.
type ReadPayload struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Count       int    `json:"count"`
}
