package reporting

import (
	"context"
	"errors"
	"fmt"

	"consult-platform/internal/consult"
	"consult-platform/internal/participant"
)

var ErrInvalidRequest = fmt.Errorf("%w: invalid reporting request", consult.ErrValidation)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Summary aggregates the settled sessions of req.ParticipantID over req.Range.
// Free sessions (zero rate) count towards Sessions but not BilledSessions.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if !req.Kind.Valid() || req.ParticipantID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if req.Modality != "" && !req.Modality.Valid() {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListTransactions(ctx, req.Kind, req.ParticipantID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		Kind:          req.Kind,
		ParticipantID: req.ParticipantID,
		Range:         req.Range,
		ByModality:    map[participant.Modality]ModalityTotals{},
	}
	for _, t := range rows {
		if req.Modality != "" && t.Modality != req.Modality {
			continue
		}
		out.Sessions++
		out.TotalMinutes += t.DurationMinutes
		out.TotalMinor += t.AmountMinor
		if t.AmountMinor > 0 {
			out.BilledSessions++
		}
		if t.InvoiceRef == "" {
			out.PendingInvoices++
		}

		m := out.ByModality[t.Modality]
		m.Sessions++
		m.Minutes += t.DurationMinutes
		m.AmountMinor += t.AmountMinor
		out.ByModality[t.Modality] = m
	}
	if out.Sessions > 0 {
		out.AverageMinutes = out.TotalMinutes / out.Sessions
	}
	return out, nil
}
