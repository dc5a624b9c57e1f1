package telephony

import (
	"context"
	"time"
)

// CallPlacer defines the provider-agnostic interface used by the voice modality.
//
// Rules:
// - No provider REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; raw payloads go to audit metadata.
type CallPlacer interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceOutboundCall rings CallerNumber and bridges it to CalleeNumber.
	// Initiation is best-effort; progress arrives on the status callback.
	PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest bridges two parties of a session. Numbers are E.164 where possible.
type OutboundCallRequest struct {
	SessionID string `json:"session_id"`

	CallerNumber string `json:"caller_number"`
	CalleeNumber string `json:"callee_number"`
}

type OutboundCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

// CallStatusEvent is a normalized provider status callback.
type CallStatusEvent struct {
	SessionID      string    `json:"session_id,omitempty"`
	ProviderCallID string    `json:"provider_call_id"`
	Status         string    `json:"status"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	DurationSec    int       `json:"duration_seconds,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}
