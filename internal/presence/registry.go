// Package presence maps live participants to their connection handles.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"consult-platform/internal/events"
	"consult-platform/internal/participant"
)

// Conn is a live connection handle.
type Conn interface {
	ID() string
	Send(ev events.Event) error
	Close() error
}

// StatusWriter persists provider presence.
type StatusWriter interface {
	SetStatus(ctx context.Context, providerID string, status participant.Status) error
}

// Listener observes connect/disconnect of any participant.
type Listener interface {
	Connected(ctx context.Context, kind participant.Kind, id string)
	Disconnected(ctx context.Context, kind participant.Kind, id string)
}

// PresencePayload is broadcast when a provider comes online or leaves.
type PresencePayload struct {
	ProviderID string             `json:"provider_id"`
	Status     participant.Status `json:"status"`
}

var ErrInvalidIdentity = errors.New("presence: identity and kind are required")

// Registry is created at server start and torn down at shutdown.
// It is safe for concurrent use: connection read loops and session timers run
// on separate goroutines.
type Registry struct {
	mu        sync.RWMutex
	conns     map[participant.Kind]map[string]Conn
	status    StatusWriter
	listeners []Listener
	log       *slog.Logger
}

func NewRegistry(status StatusWriter, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns: map[participant.Kind]map[string]Conn{
			participant.KindRequester: {},
			participant.KindProvider:  {},
		},
		status: status,
		log:    log.With("component", "presence"),
	}
}

// Subscribe adds a connect/disconnect listener. Call before serving traffic.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register binds identity to conn. The last connection wins; a replaced
// connection is closed.
func (r *Registry) Register(ctx context.Context, kind participant.Kind, id string, conn Conn) error {
	if !kind.Valid() || id == "" || conn == nil {
		return ErrInvalidIdentity
	}

	r.mu.Lock()
	prev := r.conns[kind][id]
	r.conns[kind][id] = conn
	listeners := r.listeners
	r.mu.Unlock()

	if prev != nil && prev.ID() != conn.ID() {
		r.log.Debug("replacing connection", "kind", kind, "participant_id", id, "prev_conn", prev.ID())
		_ = prev.Close()
	}

	if kind == participant.KindProvider {
		r.setStatus(ctx, id, participant.StatusOnline)
		r.Broadcast(conn, events.Event{
			Type:    events.PresenceChanged,
			Payload: PresencePayload{ProviderID: id, Status: participant.StatusOnline},
		})
	}
	for _, l := range listeners {
		l.Connected(ctx, kind, id)
	}
	return nil
}

// Unregister removes conn from whichever namespace holds it. A connection that
// was already replaced by a newer one is ignored.
func (r *Registry) Unregister(ctx context.Context, conn Conn) {
	if conn == nil {
		return
	}

	var (
		kind  participant.Kind
		id    string
		found bool
	)
	r.mu.Lock()
	for k, ns := range r.conns {
		for pid, c := range ns {
			if c.ID() == conn.ID() {
				kind, id, found = k, pid, true
				delete(ns, pid)
				break
			}
		}
		if found {
			break
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	if !found {
		return
	}
	if kind == participant.KindProvider {
		r.setStatus(ctx, id, participant.StatusOffline)
		r.Broadcast(nil, events.Event{
			Type:    events.PresenceChanged,
			Payload: PresencePayload{ProviderID: id, Status: participant.StatusOffline},
		})
	}
	for _, l := range listeners {
		l.Disconnected(ctx, kind, id)
	}
}

// Lookup returns the live connection for an identity.
func (r *Registry) Lookup(kind participant.Kind, id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[kind][id]
	return c, ok
}

// Notify sends ev to identity if it is connected. Absence is not an error.
func (r *Registry) Notify(kind participant.Kind, id string, ev events.Event) bool {
	c, ok := r.Lookup(kind, id)
	if !ok {
		return false
	}
	if err := c.Send(ev); err != nil {
		r.log.Warn("notify failed", "kind", kind, "participant_id", id, "event", ev.Type, "err", err)
		return false
	}
	return true
}

// Broadcast sends ev to every live connection except the given one.
func (r *Registry) Broadcast(except Conn, ev events.Event) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns[participant.KindRequester])+len(r.conns[participant.KindProvider]))
	for _, ns := range r.conns {
		for _, c := range ns {
			if except != nil && c.ID() == except.ID() {
				continue
			}
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			r.log.Debug("broadcast send failed", "conn", c.ID(), "event", ev.Type, "err", err)
		}
	}
}

// Count returns the number of live connections in a namespace.
func (r *Registry) Count(kind participant.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[kind])
}

// Close drops every connection. Provider status is left to the next register.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []Conn
	for k, ns := range r.conns {
		for _, c := range ns {
			all = append(all, c)
		}
		r.conns[k] = map[string]Conn{}
	}
	r.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
}

func (r *Registry) setStatus(ctx context.Context, providerID string, status participant.Status) {
	if r.status == nil {
		return
	}
	if err := r.status.SetStatus(ctx, providerID, status); err != nil {
		r.log.Error("provider status update failed", "provider_id", providerID, "status", status, "err", err)
	}
}
