package consult

import (
	"time"

	"consult-platform/internal/participant"
)

// RequestPayload is carried by every request:* event.
type RequestPayload struct {
	Request   Request              `json:"request"`
	Requester *participant.Summary `json:"requester,omitempty"`
	Provider  *participant.Summary `json:"provider,omitempty"`

	RatePerMinute int64  `json:"rate_per_minute,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

type SessionStartedPayload struct {
	SessionID     string               `json:"session_id"`
	RequestID     string               `json:"request_id"`
	Modality      participant.Modality `json:"modality"`
	RatePerMinute int64                `json:"rate_per_minute"`
	StartedAt     time.Time            `json:"started_at"`
	Counterpart   participant.Summary  `json:"counterpart"`
	Media         any                  `json:"media,omitempty"`
}

type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Duration  int    `json:"duration"`
	Amount    int64  `json:"amount"`
}

type CallSetupFailedPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
