package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Type is required; every other target field is optional.
// - Audit is best-effort; do not block session or billing flows on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Actor is the participant causing the event, empty for timer-driven events.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorKind string `json:"actor_kind,omitempty" db:"actor_kind"`

	// Target identifiers (optional, depending on the event type).
	RequestID     string `json:"request_id,omitempty" db:"request_id"`
	SessionID     string `json:"session_id,omitempty" db:"session_id"`
	TransactionID string `json:"transaction_id,omitempty" db:"transaction_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeRequestResponded EventType = "request_responded"
	EventTypeRequestExpired   EventType = "request_expired"
	EventTypeSessionStarted   EventType = "session_started"
	EventTypeSessionEnded     EventType = "session_ended"
	EventTypeSettlement       EventType = "settlement_recorded"
	EventTypeInvoiceAttached  EventType = "invoice_attached"
	EventTypeCallStatus       EventType = "call_status"
	EventTypeCallSetupFailed  EventType = "call_setup_failed"
)
