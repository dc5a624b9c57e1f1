package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"consult-platform/internal/audit"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/pricing"

	"github.com/google/uuid"
)

// Action is a provider's answer to a pending request.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

func (a Action) Valid() bool { return a == ActionAccept || a == ActionReject }

// Broker admits consultation requests and mediates the provider's answer.
type Broker struct {
	deps  Deps
	opts  Options
	meter *Meter
	log   *slog.Logger
}

func NewBroker(deps Deps, meter *Meter, opts Options) *Broker {
	deps = deps.withDefaults()
	return &Broker{
		deps:  deps,
		opts:  opts.withDefaults(),
		meter: meter,
		log:   deps.Log.With("component", "broker"),
	}
}

// CreateRequest persists a pending request from requester to provider.
//
// Failure order: validation, unknown participants, provider availability,
// requester funds, duplicate pending request.
func (b *Broker) CreateRequest(ctx context.Context, requesterID, providerID string, modality participant.Modality) (Request, error) {
	if requesterID == "" || providerID == "" {
		return Request{}, fmt.Errorf("%w: requester and provider are required", ErrValidation)
	}
	if !modality.Valid() {
		return Request{}, fmt.Errorf("%w: unknown modality %q", ErrValidation, modality)
	}

	requester, err := b.participant(ctx, participant.KindRequester, requesterID)
	if err != nil {
		return Request{}, err
	}
	provider, err := b.participant(ctx, participant.KindProvider, providerID)
	if err != nil {
		return Request{}, err
	}

	rate, err := b.eligibleRate(provider, modality)
	if err != nil {
		return Request{}, err
	}
	if provider.Status != participant.StatusOnline {
		return Request{}, fmt.Errorf("%w: provider is offline", ErrUnavailable)
	}
	if err := b.checkFunds(ctx, requesterID, rate); err != nil {
		return Request{}, err
	}

	req := Request{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ProviderID:  providerID,
		Modality:    modality,
		Status:      RequestStatusPending,
		CreatedAt:   b.deps.Clock().UTC(),
	}
	// The store rejects a second pending request for the pair atomically.
	if err := b.deps.Store.CreateRequest(ctx, req); errors.Is(err, ErrConflict) {
		return Request{}, fmt.Errorf("%w: a request to this provider is already pending", ErrConflict)
	} else if err != nil {
		return Request{}, fmt.Errorf("create request: %w", err)
	}

	id := req.ID
	b.deps.Scheduler.After(expireKey(id), b.opts.RequestTTL, func() { b.expire(id) })
	b.deps.Metrics.RequestCreated(string(modality))
	b.log.Info("request created", "request_id", req.ID, "requester_id", requesterID, "provider_id", providerID, "modality", modality)

	rs, ps := requester.Summary(), provider.Summary()
	b.deps.Notifier.Notify(participant.KindProvider, providerID, events.Event{
		Type:    events.RequestReceived,
		Payload: RequestPayload{Request: req, Requester: &rs, RatePerMinute: rate},
	})
	b.deps.Notifier.Notify(participant.KindRequester, requesterID, events.Event{
		Type:    events.RequestCreated,
		Payload: RequestPayload{Request: req, Provider: &ps, RatePerMinute: rate},
	})
	return req, nil
}

// RespondResult carries the session when the request was accepted.
type RespondResult struct {
	Request Request
	Session *Session
}

// Respond applies the provider's answer to a pending request.
func (b *Broker) Respond(ctx context.Context, requestID, providerID string, action Action) (RespondResult, error) {
	if requestID == "" || providerID == "" {
		return RespondResult{}, fmt.Errorf("%w: request_id is required", ErrValidation)
	}
	if !action.Valid() {
		return RespondResult{}, fmt.Errorf("%w: action must be accept or reject", ErrValidation)
	}

	req, err := b.deps.Store.GetRequest(ctx, requestID)
	if err != nil {
		return RespondResult{}, err
	}
	if req.ProviderID != providerID {
		return RespondResult{}, fmt.Errorf("%w: request belongs to another provider", ErrForbidden)
	}
	if req.Status != RequestStatusPending {
		return RespondResult{}, fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}

	var res RespondResult
	if action == ActionAccept {
		res, err = b.accept(ctx, req)
	} else {
		res, err = b.reject(ctx, req)
	}
	if err != nil {
		return RespondResult{}, err
	}

	b.log.Info("request responded", "request_id", req.ID, "provider_id", providerID, "action", action)
	b.audit(ctx, audit.Event{
		Type:      audit.EventTypeRequestResponded,
		ActorID:   providerID,
		ActorKind: string(participant.KindProvider),
		RequestID: req.ID,
		Message:   string(action),
	})
	return res, nil
}

func (b *Broker) accept(ctx context.Context, req Request) (RespondResult, error) {
	provider, err := b.participant(ctx, participant.KindProvider, req.ProviderID)
	if err != nil {
		return RespondResult{}, err
	}
	requester, err := b.participant(ctx, participant.KindRequester, req.RequesterID)
	if err != nil {
		return RespondResult{}, err
	}
	rate, err := b.eligibleRate(provider, req.Modality)
	if err != nil {
		return RespondResult{}, err
	}
	if err := b.checkFunds(ctx, req.RequesterID, rate); err != nil {
		return RespondResult{}, err
	}

	// Claim the provider: cross-process slot first, then the persisted flag.
	got, err := b.deps.Slots.Acquire(ctx, req.ProviderID)
	if err != nil {
		return RespondResult{}, fmt.Errorf("acquire provider slot: %w", err)
	}
	if !got {
		return RespondResult{}, fmt.Errorf("%w: provider is busy", ErrUnavailable)
	}
	won, err := b.deps.Participants.MarkBusy(ctx, req.ProviderID)
	if err != nil || !won {
		b.releaseSlot(ctx, req.ProviderID)
		if err != nil {
			return RespondResult{}, fmt.Errorf("mark provider busy: %w", err)
		}
		return RespondResult{}, fmt.Errorf("%w: provider is busy", ErrUnavailable)
	}

	now := b.deps.Clock().UTC()
	moved, err := b.deps.Store.TransitionRequest(ctx, req.ID, RequestStatusPending, RequestStatusAccepted, now)
	if err != nil || !moved {
		b.releaseProvider(ctx, req.ProviderID)
		if err != nil {
			return RespondResult{}, fmt.Errorf("accept request: %w", err)
		}
		return RespondResult{}, fmt.Errorf("%w: request is no longer pending", ErrConflict)
	}
	req.Status = RequestStatusAccepted
	req.RespondedAt = &now

	started, err := b.meter.Start(ctx, StartRequest{Request: req, Requester: requester, Provider: provider, Rate: rate})
	if err != nil {
		b.releaseProvider(ctx, req.ProviderID)
		if _, rerr := b.deps.Store.TransitionRequest(ctx, req.ID, RequestStatusAccepted, RequestStatusPending, now); rerr != nil {
			b.log.Error("request not returned to pending", "request_id", req.ID, "err", rerr)
		}
		return RespondResult{}, err
	}
	b.deps.Scheduler.Cancel(expireKey(req.ID))

	sess := started.Session
	rs, ps := requester.Summary(), provider.Summary()
	b.deps.Notifier.Notify(participant.KindRequester, req.RequesterID, events.Event{
		Type:    events.RequestAccepted,
		Payload: RequestPayload{Request: req, Provider: &ps, RatePerMinute: rate, SessionID: sess.ID},
	})
	b.deps.Notifier.Notify(participant.KindProvider, req.ProviderID, events.Event{
		Type:    events.RequestAccepted,
		Payload: RequestPayload{Request: req, Requester: &rs, RatePerMinute: rate, SessionID: sess.ID},
	})
	b.meter.Announce(ctx, started, requester, provider)

	return RespondResult{Request: req, Session: &sess}, nil
}

func (b *Broker) reject(ctx context.Context, req Request) (RespondResult, error) {
	now := b.deps.Clock().UTC()
	moved, err := b.deps.Store.TransitionRequest(ctx, req.ID, RequestStatusPending, RequestStatusRejected, now)
	if err != nil {
		return RespondResult{}, fmt.Errorf("reject request: %w", err)
	}
	if !moved {
		return RespondResult{}, fmt.Errorf("%w: request is no longer pending", ErrConflict)
	}
	b.deps.Scheduler.Cancel(expireKey(req.ID))
	req.Status = RequestStatusRejected
	req.RespondedAt = &now

	ev := events.Event{Type: events.RequestRejected, Payload: RequestPayload{Request: req}}
	b.deps.Notifier.Notify(participant.KindRequester, req.RequesterID, ev)
	b.deps.Notifier.Notify(participant.KindProvider, req.ProviderID, ev)
	return RespondResult{Request: req}, nil
}

// expire moves an unanswered request to expired.
func (b *Broker) expire(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()

	now := b.deps.Clock().UTC()
	moved, err := b.deps.Store.TransitionRequest(ctx, requestID, RequestStatusPending, RequestStatusExpired, now)
	if err != nil {
		b.log.Error("expire request", "request_id", requestID, "err", err)
		return
	}
	if !moved {
		return
	}
	req, err := b.deps.Store.GetRequest(ctx, requestID)
	if err != nil {
		b.log.Error("expire request: reload", "request_id", requestID, "err", err)
		return
	}

	b.log.Info("request expired", "request_id", requestID)
	ev := events.Event{Type: events.RequestExpired, Payload: RequestPayload{Request: req}}
	b.deps.Notifier.Notify(participant.KindRequester, req.RequesterID, ev)
	b.deps.Notifier.Notify(participant.KindProvider, req.ProviderID, ev)
	b.audit(ctx, audit.Event{Type: audit.EventTypeRequestExpired, RequestID: requestID})
}

func (b *Broker) participant(ctx context.Context, kind participant.Kind, id string) (participant.Participant, error) {
	p, err := b.deps.Participants.Get(ctx, kind, id)
	if errors.Is(err, participant.ErrNotFound) {
		return participant.Participant{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return participant.Participant{}, fmt.Errorf("load %s: %w", kind, err)
	}
	return p, nil
}

// eligibleRate checks that provider can take a request right now and returns its rate.
func (b *Broker) eligibleRate(provider participant.Participant, m participant.Modality) (int64, error) {
	if provider.IsBusy {
		return 0, fmt.Errorf("%w: provider is busy", ErrUnavailable)
	}
	if !provider.Offers(m) {
		return 0, fmt.Errorf("%w: provider does not offer %s", ErrUnavailable, m)
	}
	rate, err := b.deps.Pricing.RateFor(provider, m)
	if errors.Is(err, pricing.ErrPricingNotFound) {
		return 0, fmt.Errorf("%w: provider has no %s rate", ErrUnavailable, m)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return rate, nil
}

func (b *Broker) checkFunds(ctx context.Context, requesterID string, rate int64) error {
	w, err := b.deps.Wallets.Get(ctx, requesterOwner(requesterID))
	if err != nil {
		return walletErr(err)
	}
	if w.BalanceMinor < rate {
		return fmt.Errorf("%w: balance %d below rate %d", ErrInsufficientFunds, w.BalanceMinor, rate)
	}
	return nil
}

func (b *Broker) releaseSlot(ctx context.Context, providerID string) {
	if err := b.deps.Slots.Release(ctx, providerID); err != nil {
		b.log.Warn("release provider slot", "provider_id", providerID, "err", err)
	}
}

func (b *Broker) releaseProvider(ctx context.Context, providerID string) {
	if err := b.deps.Participants.ClearBusy(ctx, providerID); err != nil {
		b.log.Error("release provider", "provider_id", providerID, "err", err)
	}
	b.releaseSlot(ctx, providerID)
}

func (b *Broker) audit(ctx context.Context, e audit.Event) {
	if err := b.deps.Audit.Append(ctx, e); err != nil {
		b.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}
