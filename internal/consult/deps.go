package consult

import (
	"context"
	"log/slog"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"
)

// Notifier delivers an event to a live participant. Absence is not an error.
type Notifier interface {
	Notify(kind participant.Kind, id string, ev events.Event) bool
}

// Wallets is the money surface the core needs.
type Wallets interface {
	Get(ctx context.Context, owner wallet.Owner) (wallet.Wallet, error)
	Hold(ctx context.Context, owner wallet.Owner, req wallet.HoldRequest) (wallet.Wallet, error)
	Unhold(ctx context.Context, owner wallet.Owner, req wallet.HoldRequest) (wallet.Wallet, error)
	Sweep(ctx context.Context, from, to wallet.Owner, req wallet.SweepRequest) (wallet.SweepResult, error)
}

// Slots guards one active session per provider across processes.
type Slots interface {
	Acquire(ctx context.Context, providerID string) (bool, error)
	Refresh(ctx context.Context, providerID string) error
	Release(ctx context.Context, providerID string) error
}

// Invoices accepts transaction ids for asynchronous document generation.
type Invoices interface {
	Enqueue(transactionID string) error
}

type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

type Metrics interface {
	RequestCreated(modality string)
	SessionStarted(modality string)
	SessionEnded(modality, reason string)
	Tick(result string)
}

// Deps are the collaborators of the broker, meter and ledger. Nil optional
// fields are replaced with no-op implementations by withDefaults.
type Deps struct {
	Store        Store
	Participants participant.Repository
	Wallets      Wallets
	Pricing      *pricing.Service
	Notifier     Notifier
	Scheduler    Scheduler

	Slots        Slots
	Invoices     Invoices
	Audit        Auditor
	Metrics      Metrics
	Capabilities map[participant.Modality]Capability

	Clock func() time.Time
	Log   *slog.Logger
}

// Options tune timers.
type Options struct {
	TickInterval time.Duration
	RequestTTL   time.Duration

	// DisconnectGrace of zero disables auto-end on disconnect.
	DisconnectGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Minute
	}
	if o.RequestTTL <= 0 {
		o.RequestTTL = 2 * time.Minute
	}
	if o.DisconnectGrace < 0 {
		o.DisconnectGrace = 0
	}
	return o
}

func (d Deps) withDefaults() Deps {
	if d.Pricing == nil {
		d.Pricing = pricing.NewService()
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Slots == nil {
		d.Slots = noopSlots{}
	}
	if d.Invoices == nil {
		d.Invoices = noopInvoices{}
	}
	if d.Audit == nil {
		d.Audit = noopAudit{}
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Capabilities == nil {
		d.Capabilities = map[participant.Modality]Capability{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return d
}

func (d Deps) capability(m participant.Modality) Capability {
	if c, ok := d.Capabilities[m]; ok && c != nil {
		return c
	}
	return ChatCapability{}
}

type noopNotifier struct{}

func (noopNotifier) Notify(participant.Kind, string, events.Event) bool { return false }

type noopSlots struct{}

func (noopSlots) Acquire(context.Context, string) (bool, error) { return true, nil }
func (noopSlots) Refresh(context.Context, string) error         { return nil }
func (noopSlots) Release(context.Context, string) error         { return nil }

type noopInvoices struct{}

func (noopInvoices) Enqueue(string) error { return nil }

type noopAudit struct{}

func (noopAudit) Append(context.Context, audit.Event) error { return nil }

type noopMetrics struct{}

func (noopMetrics) RequestCreated(string)       {}
func (noopMetrics) SessionStarted(string)       {}
func (noopMetrics) SessionEnded(string, string) {}
func (noopMetrics) Tick(string)                 {}
