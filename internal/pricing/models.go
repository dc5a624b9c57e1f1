package pricing

import "consult-platform/internal/participant"

// Amounts are expressed in minor units using int64.

// Quote is the billed outcome of one session.
type Quote struct {
	Modality participant.Modality `json:"modality"`

	BillableSeconds int `json:"billable_seconds"`
	BillableMinutes int `json:"billable_minutes"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`
	TotalMinor         int64 `json:"total_minor"`
}
