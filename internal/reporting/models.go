package reporting

import (
	"time"

	"consult-platform/internal/participant"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for the settled sessions of one participant.
// Requesters see spend, providers see earnings; both come from the same
// immutable transactions.
type SummaryRequest struct {
	Kind          participant.Kind     `json:"kind"`
	ParticipantID string               `json:"participant_id"`
	Range         TimeRange            `json:"range"`
	Modality      participant.Modality `json:"modality,omitempty"`
}

type ModalityTotals struct {
	Sessions    int   `json:"sessions"`
	Minutes     int   `json:"minutes"`
	AmountMinor int64 `json:"amount_minor"`
}

type Summary struct {
	Kind          participant.Kind `json:"kind"`
	ParticipantID string           `json:"participant_id"`
	Range         TimeRange        `json:"range"`

	Sessions       int   `json:"sessions"`
	BilledSessions int   `json:"billed_sessions"`
	TotalMinutes   int   `json:"total_minutes"`
	AverageMinutes int   `json:"average_minutes"`
	TotalMinor     int64 `json:"total_amount_minor"`

	// PendingInvoices counts transactions whose invoice has not been attached yet.
	PendingInvoices int `json:"pending_invoices"`

	ByModality map[participant.Modality]ModalityTotals `json:"by_modality"`
}
