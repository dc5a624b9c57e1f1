package consult

import (
	"time"

	"consult-platform/internal/participant"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
)

// Request is a consultation request from a requester to a provider.
// Terminal once accepted, rejected or expired.
type Request struct {
	ID          string               `json:"id" db:"id"`
	RequesterID string               `json:"requester_id" db:"requester_id"`
	ProviderID  string               `json:"provider_id" db:"provider_id"`
	Modality    participant.Modality `json:"modality" db:"modality"`
	Status      RequestStatus        `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
}

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// End reasons carried on session:ended.
const (
	ReasonEndedByRequester    = "ended by requester"
	ReasonEndedByProvider     = "ended by provider"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonDisconnected        = "participant disconnected"
	ReasonServerRestarted     = "server restarted"
)

// Session is a live consultation. Created only on acceptance.
type Session struct {
	ID          string               `json:"id" db:"id"`
	RequestID   string               `json:"request_id" db:"request_id"`
	RequesterID string               `json:"requester_id" db:"requester_id"`
	ProviderID  string               `json:"provider_id" db:"provider_id"`
	Modality    participant.Modality `json:"modality" db:"modality"`
	Status      SessionStatus        `json:"status" db:"status"`

	// RatePerMinuteMinor is captured at acceptance so a price change does not
	// affect a running session.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	EndReason string     `json:"end_reason,omitempty" db:"end_reason"`

	// HeldMinutes counts minutes escrowed so far, minute 0 included.
	// LastTickAt is when the running meter last recorded a hold; a session
	// whose meter stopped advancing it is ended by Recover.
	HeldMinutes int       `json:"held_minutes" db:"held_minutes"`
	LastTickAt  time.Time `json:"-" db:"last_tick_at"`
}

// HasParty reports whether id of kind is the session's requester or provider.
func (s Session) HasParty(kind participant.Kind, id string) bool {
	switch kind {
	case participant.KindRequester:
		return id != "" && s.RequesterID == id
	case participant.KindProvider:
		return id != "" && s.ProviderID == id
	default:
		return false
	}
}

// PartyID returns the id of the given side.
func (s Session) PartyID(kind participant.Kind) string {
	if kind == participant.KindProvider {
		return s.ProviderID
	}
	return s.RequesterID
}

type TransactionStatus string

const TransactionStatusSuccess TransactionStatus = "success"

// Transaction is the immutable billing record of one ended session.
type Transaction struct {
	ID          string               `json:"id" db:"id"`
	SessionID   string               `json:"session_id" db:"session_id"`
	RequesterID string               `json:"requester_id" db:"requester_id"`
	ProviderID  string               `json:"provider_id" db:"provider_id"`
	Modality    participant.Modality `json:"modality" db:"modality"`

	DurationMinutes    int   `json:"duration" db:"duration_minutes"`
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	AmountMinor        int64 `json:"amount" db:"amount_minor"`

	Status    TransactionStatus `json:"status" db:"status"`
	IsSettled bool              `json:"is_settled" db:"is_settled"`

	// InvoiceRef is attached asynchronously once the document exists.
	InvoiceRef string `json:"invoice_ref,omitempty" db:"invoice_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
