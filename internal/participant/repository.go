package participant

import "context"

// Repository is the persistence contract for participants.
type Repository interface {
	Get(ctx context.Context, kind Kind, id string) (Participant, error)
	SetStatus(ctx context.Context, providerID string, status Status) error

	// MarkBusy flips is_busy false -> true and reports whether this caller won.
	MarkBusy(ctx context.Context, providerID string) (bool, error)
	// ClearBusy sets is_busy = false unconditionally.
	ClearBusy(ctx context.Context, providerID string) error
}
