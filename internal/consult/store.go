package consult

import (
	"context"
	"time"

	"consult-platform/internal/participant"
)

// RequestStore persists consultation requests.
type RequestStore interface {
	// CreateRequest returns ErrConflict when r is pending and the pair already
	// has a pending request.
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (Request, error)

	// TransitionRequest moves a request from one status to another only if it is
	// still in from. It reports whether this caller performed the transition.
	TransitionRequest(ctx context.Context, id string, from, to RequestStatus, at time.Time) (bool, error)
}

// SessionStore persists consultation sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)

	// FindActiveSessions returns every active session the participant is part of.
	FindActiveSessions(ctx context.Context, kind participant.Kind, participantID string) ([]Session, error)
	FindActiveSessionBetween(ctx context.Context, requesterID, providerID string) (Session, bool, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)

	// RecordMinutes stores the held minute count of an active session.
	RecordMinutes(ctx context.Context, id string, held int, at time.Time) error

	// EndSession moves an active session to ended. Exactly one caller wins; the
	// others get ok == false.
	EndSession(ctx context.Context, id string, at time.Time, reason string) (Session, bool, error)
}

// TransactionStore persists billing records. One transaction per session.
type TransactionStore interface {
	// CreateTransaction inserts t unless a transaction already exists for
	// t.SessionID, in which case the existing one is returned with created == false.
	CreateTransaction(ctx context.Context, t Transaction) (Transaction, bool, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetTransactionBySession(ctx context.Context, sessionID string) (Transaction, error)
	AttachInvoice(ctx context.Context, transactionID, ref string) error
}

type Store interface {
	RequestStore
	SessionStore
	TransactionStore
}
