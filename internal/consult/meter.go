package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"

	"github.com/google/uuid"
)

// timerCallTimeout bounds the store and wallet work of one timer callback.
const timerCallTimeout = 15 * time.Second

func minuteKey(sessionID string, n int) string {
	return "session:" + sessionID + ":minute:" + strconv.Itoa(n)
}

func requesterOwner(id string) wallet.Owner {
	return wallet.Owner{Kind: participant.KindRequester, ID: id}
}

func providerOwner(id string) wallet.Owner {
	return wallet.Owner{Kind: participant.KindProvider, ID: id}
}

// Meter owns active sessions: the first-minute hold, the per-minute tick and
// the single transition to ended.
//
// Ticks and ends of the same session are serialized by a per-session lock; the
// conditional EndSession in the store settles races with other processes.
type Meter struct {
	deps   Deps
	opts   Options
	ledger *Ledger
	log    *slog.Logger

	mu   sync.Mutex
	runs map[string]*meterRun
}

type meterRun struct {
	mu sync.Mutex
	// minutes held so far, including minute 0 at start.
	minutes int
}

func NewMeter(deps Deps, ledger *Ledger, opts Options) *Meter {
	deps = deps.withDefaults()
	return &Meter{
		deps:   deps,
		opts:   opts.withDefaults(),
		ledger: ledger,
		log:    deps.Log.With("component", "meter"),
		runs:   map[string]*meterRun{},
	}
}

type StartRequest struct {
	Request   Request
	Requester participant.Participant
	Provider  participant.Participant
	Rate      int64
}

type StartResult struct {
	Session Session
	Wallet  wallet.Wallet
}

// Start holds the first minute, persists the active session and starts its
// tick. Nothing is left behind on error.
func (m *Meter) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	now := m.deps.Clock().UTC()
	sess := Session{
		ID:                 uuid.NewString(),
		RequestID:          req.Request.ID,
		RequesterID:        req.Request.RequesterID,
		ProviderID:         req.Request.ProviderID,
		Modality:           req.Request.Modality,
		Status:             SessionStatusActive,
		RatePerMinuteMinor: req.Rate,
		StartedAt:          now,
		HeldMinutes:        1,
		LastTickAt:         now,
	}

	hold := wallet.HoldRequest{AmountMinor: req.Rate, ExternalRef: sess.ID, IdempotencyKey: minuteKey(sess.ID, 0)}
	w, err := m.deps.Wallets.Hold(ctx, requesterOwner(sess.RequesterID), hold)
	if err != nil {
		return StartResult{}, walletErr(err)
	}

	if err := m.deps.Store.CreateSession(ctx, sess); err != nil {
		hold.IdempotencyKey += ":unhold"
		if _, uerr := m.deps.Wallets.Unhold(ctx, requesterOwner(sess.RequesterID), hold); uerr != nil {
			m.log.Error("first minute hold not returned", "session_id", sess.ID, "err", uerr)
		}
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.runs[sess.ID] = &meterRun{minutes: 1}
	m.mu.Unlock()

	id := sess.ID
	m.deps.Scheduler.Every(tickKey(id), m.opts.TickInterval, func() { m.tick(id) })
	m.deps.Metrics.SessionStarted(string(sess.Modality))
	m.log.Info("session started",
		"session_id", sess.ID,
		"request_id", sess.RequestID,
		"modality", sess.Modality,
		"rate_per_minute_minor", sess.RatePerMinuteMinor,
	)
	m.audit(ctx, audit.Event{
		Type:      audit.EventTypeSessionStarted,
		ActorID:   sess.ProviderID,
		ActorKind: string(participant.KindProvider),
		RequestID: sess.RequestID,
		SessionID: sess.ID,
	})
	return StartResult{Session: sess, Wallet: w}, nil
}

// Announce sets up modality media and tells both parties the session is live.
// Media failure is reported to the requester; the session keeps running.
func (m *Meter) Announce(ctx context.Context, res StartResult, requester, provider participant.Participant) {
	sess := res.Session
	media, err := m.deps.capability(sess.Modality).Start(ctx, StartInfo{Session: sess, Requester: requester, Provider: provider})
	if err != nil {
		m.log.Warn("media setup failed", "session_id", sess.ID, "modality", sess.Modality, "err", err)
		m.deps.Notifier.Notify(participant.KindRequester, sess.RequesterID, events.Event{
			Type:    events.CallSetupFailed,
			Payload: CallSetupFailedPayload{SessionID: sess.ID, Message: "could not set up " + string(sess.Modality) + " session"},
		})
		m.audit(ctx, audit.Event{Type: audit.EventTypeCallSetupFailed, SessionID: sess.ID, Message: err.Error()})
	}

	started := func(counterpart participant.Participant, extra any) events.Event {
		return events.Event{Type: events.SessionStarted, Payload: SessionStartedPayload{
			SessionID:     sess.ID,
			RequestID:     sess.RequestID,
			Modality:      sess.Modality,
			RatePerMinute: sess.RatePerMinuteMinor,
			StartedAt:     sess.StartedAt,
			Counterpart:   counterpart.Summary(),
			Media:         extra,
		}}
	}
	m.deps.Notifier.Notify(participant.KindRequester, sess.RequesterID, started(provider, media.Requester))
	m.deps.Notifier.Notify(participant.KindProvider, sess.ProviderID, started(requester, media.Provider))
	m.deps.Notifier.Notify(participant.KindRequester, sess.RequesterID, events.Event{
		Type:    events.WalletUpdated,
		Payload: res.Wallet.Snapshot(),
	})
}

// End terminates an active session on behalf of one of its parties.
func (m *Meter) End(ctx context.Context, sessionID, callerID string, callerKind participant.Kind) (Transaction, error) {
	if sessionID == "" || callerID == "" || !callerKind.Valid() {
		return Transaction{}, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return Transaction{}, err
	}
	if sess.Status != SessionStatusActive {
		return Transaction{}, fmt.Errorf("%w: session already ended", ErrConflict)
	}
	if !sess.HasParty(callerKind, callerID) {
		return Transaction{}, fmt.Errorf("%w: not a party of this session", ErrForbidden)
	}

	reason := ReasonEndedByRequester
	if callerKind == participant.KindProvider {
		reason = ReasonEndedByProvider
	}

	unlock := m.lock(sessionID)
	defer unlock()
	return m.finish(ctx, sess, m.deps.Clock().UTC(), reason, callerID, callerKind)
}

func (m *Meter) tick(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()
	log := m.log.With("session_id", sessionID)

	m.mu.Lock()
	run, ok := m.runs[sessionID]
	m.mu.Unlock()
	if !ok {
		m.deps.Scheduler.Cancel(tickKey(sessionID))
		return
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		// Skip this minute; the next tick re-reads.
		log.Error("tick: load session", "err", err)
		m.deps.Metrics.Tick("store_error")
		return
	}
	if sess.Status != SessionStatusActive {
		m.stop(sessionID)
		m.deps.Metrics.Tick("stale")
		return
	}

	if err := m.deps.Slots.Refresh(ctx, sess.ProviderID); err != nil {
		log.Warn("tick: refresh provider slot", "provider_id", sess.ProviderID, "err", err)
	}

	owner := requesterOwner(sess.RequesterID)
	w, err := m.deps.Wallets.Get(ctx, owner)
	if err != nil {
		log.Error("tick: load wallet", "err", err)
		m.deps.Metrics.Tick("store_error")
		return
	}
	if w.BalanceMinor < sess.RatePerMinuteMinor {
		m.exhausted(ctx, sess)
		return
	}

	w, err = m.deps.Wallets.Hold(ctx, owner, wallet.HoldRequest{
		AmountMinor:    sess.RatePerMinuteMinor,
		ExternalRef:    sess.ID,
		IdempotencyKey: minuteKey(sess.ID, run.minutes),
	})
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		m.exhausted(ctx, sess)
		return
	}
	if err != nil {
		log.Error("tick: hold minute", "minute", run.minutes, "err", err)
		m.deps.Metrics.Tick("store_error")
		return
	}
	run.minutes++
	if err := m.deps.Store.RecordMinutes(ctx, sess.ID, run.minutes, m.deps.Clock().UTC()); err != nil {
		log.Warn("tick: record held minutes", "minutes", run.minutes, "err", err)
	}
	m.deps.Metrics.Tick("charged")
	log.Debug("minute charged", "minutes", run.minutes, "balance_minor", w.BalanceMinor, "locked_minor", w.LockedMinor)

	m.deps.Notifier.Notify(participant.KindRequester, sess.RequesterID, events.Event{
		Type:    events.WalletUpdated,
		Payload: w.Snapshot(),
	})
}

func (m *Meter) exhausted(ctx context.Context, sess Session) {
	m.deps.Metrics.Tick("exhausted")
	if _, err := m.finish(ctx, sess, m.deps.Clock().UTC(), ReasonInsufficientBalance, "", ""); err != nil && !errors.Is(err, ErrConflict) {
		m.log.Error("tick: end exhausted session", "session_id", sess.ID, "err", err)
	}
}

// finish moves sess to ended at endedAt exactly once and settles it. Callers
// hold the session lock.
func (m *Meter) finish(ctx context.Context, sess Session, endedAt time.Time, reason, actorID string, actorKind participant.Kind) (Transaction, error) {
	ended, ok, err := m.deps.Store.EndSession(ctx, sess.ID, endedAt, reason)
	if err != nil {
		return Transaction{}, fmt.Errorf("end session: %w", err)
	}
	if !ok {
		m.stop(sess.ID)
		return Transaction{}, fmt.Errorf("%w: session already ended", ErrConflict)
	}
	m.stop(sess.ID)
	m.deps.Scheduler.Cancel(graceKey(ended.ID, string(participant.KindRequester)))
	m.deps.Scheduler.Cancel(graceKey(ended.ID, string(participant.KindProvider)))

	log := m.log.With("session_id", ended.ID, "provider_id", ended.ProviderID)
	if err := m.deps.Participants.ClearBusy(ctx, ended.ProviderID); err != nil {
		log.Error("release provider", "err", err)
	}
	if err := m.deps.Slots.Release(ctx, ended.ProviderID); err != nil {
		log.Warn("release provider slot", "err", err)
	}
	m.deps.Metrics.SessionEnded(string(ended.Modality), reason)

	payload := SessionEndedPayload{SessionID: ended.ID, Reason: reason}
	tx, lerr := m.ledger.Finalize(ctx, ended)
	if lerr != nil {
		log.Error("settlement failed", "err", lerr)
		payload.Duration = pricing.BillableMinutes(ended.EndedAt.Sub(ended.StartedAt))
		payload.Amount = int64(payload.Duration) * ended.RatePerMinuteMinor
	} else {
		payload.Duration = tx.DurationMinutes
		payload.Amount = tx.AmountMinor
	}

	ev := events.Event{Type: events.SessionEnded, Payload: payload}
	m.deps.Notifier.Notify(participant.KindRequester, ended.RequesterID, ev)
	m.deps.Notifier.Notify(participant.KindProvider, ended.ProviderID, ev)

	log.Info("session ended", "reason", reason, "duration", payload.Duration, "amount_minor", payload.Amount)
	m.audit(ctx, audit.Event{
		Type:          audit.EventTypeSessionEnded,
		ActorID:       actorID,
		ActorKind:     string(actorKind),
		RequestID:     ended.RequestID,
		SessionID:     ended.ID,
		TransactionID: tx.ID,
		Message:       reason,
	})
	return tx, lerr
}

// stop cancels the tick and forgets the runtime state of a session.
func (m *Meter) stop(sessionID string) {
	m.deps.Scheduler.Cancel(tickKey(sessionID))
	m.mu.Lock()
	delete(m.runs, sessionID)
	m.mu.Unlock()
}

// lock takes the per-session lock when the session runs in this process.
func (m *Meter) lock(sessionID string) func() {
	m.mu.Lock()
	run, ok := m.runs[sessionID]
	m.mu.Unlock()
	if !ok {
		return func() {}
	}
	run.mu.Lock()
	return run.mu.Unlock
}

func (m *Meter) audit(ctx context.Context, e audit.Event) {
	if err := m.deps.Audit.Append(ctx, e); err != nil {
		m.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}

// Connected cancels pending disconnect graces for the participant's sessions.
func (m *Meter) Connected(ctx context.Context, kind participant.Kind, id string) {
	sessions, err := m.deps.Store.FindActiveSessions(ctx, kind, id)
	if err != nil {
		m.log.Warn("connect: find active sessions", "kind", kind, "participant_id", id, "err", err)
		return
	}
	for _, sess := range sessions {
		if m.deps.Scheduler.Cancel(graceKey(sess.ID, string(kind))) {
			m.log.Info("participant reconnected within grace", "session_id", sess.ID, "kind", kind, "participant_id", id)
		}
	}
}

// Disconnected starts a grace timer for every active session of the
// participant. Expiry ends that session through the normal path.
func (m *Meter) Disconnected(ctx context.Context, kind participant.Kind, id string) {
	if m.opts.DisconnectGrace <= 0 {
		return
	}
	sessions, err := m.deps.Store.FindActiveSessions(ctx, kind, id)
	if err != nil {
		m.log.Warn("disconnect: find active sessions", "kind", kind, "participant_id", id, "err", err)
		return
	}
	for _, sess := range sessions {
		sessionID := sess.ID
		m.deps.Scheduler.After(graceKey(sessionID, string(kind)), m.opts.DisconnectGrace, func() {
			m.graceExpired(sessionID, kind, id)
		})
		m.log.Info("disconnect grace started", "session_id", sessionID, "kind", kind, "participant_id", id, "grace", m.opts.DisconnectGrace)
	}
}

func (m *Meter) graceExpired(sessionID string, kind participant.Kind, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()

	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		m.log.Error("grace: load session", "session_id", sessionID, "err", err)
		return
	}
	if sess.Status != SessionStatusActive || !sess.HasParty(kind, id) {
		return
	}
	if _, err := m.finish(ctx, sess, m.deps.Clock().UTC(), ReasonDisconnected, id, kind); err != nil && !errors.Is(err, ErrConflict) {
		m.log.Error("grace: end session", "session_id", sessionID, "err", err)
	}
}

const recoverKey = "meter:recover"

// Recover ends active sessions whose meter stopped, typically because the
// process that ran them exited. A session counts as orphaned once its last
// recorded hold is more than two tick intervals old. It is ended as of its
// last held minute so the bill matches what escrow captured. Recover returns
// the number of sessions it ended.
func (m *Meter) Recover(ctx context.Context) (int, error) {
	active, err := m.deps.Store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := m.deps.Clock().UTC()
	staleAfter := 2 * m.opts.TickInterval

	ended := 0
	for _, sess := range active {
		m.mu.Lock()
		_, local := m.runs[sess.ID]
		m.mu.Unlock()
		if local {
			continue
		}
		last := sess.LastTickAt
		if last.IsZero() {
			last = sess.StartedAt
		}
		if now.Sub(last) <= staleAfter {
			continue
		}

		held := sess.HeldMinutes
		if held < 1 {
			held = 1
		}
		endedAt := sess.StartedAt.Add(time.Duration(held) * time.Minute)
		if endedAt.After(now) {
			endedAt = now
		}
		_, err := m.finish(ctx, sess, endedAt, ReasonServerRestarted, "", "")
		switch {
		case err == nil:
			ended++
		case errors.Is(err, ErrConflict):
			// Another process got there first.
		default:
			m.log.Error("recover: end orphaned session", "session_id", sess.ID, "err", err)
		}
	}
	if ended > 0 {
		m.log.Info("orphaned sessions ended", "count", ended)
	}
	return ended, nil
}

// WatchOrphans runs Recover now and then once per tick interval.
func (m *Meter) WatchOrphans() {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
		defer cancel()
		if _, err := m.Recover(ctx); err != nil {
			m.log.Error("recover orphaned sessions", "err", err)
		}
	}
	run()
	m.deps.Scheduler.Every(recoverKey, m.opts.TickInterval, run)
}

// Stop cancels every tick owned by this process. Sessions stay active in the
// store until Recover in a running process ends them.
func (m *Meter) Stop() {
	m.deps.Scheduler.Cancel(recoverKey)
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.stop(id)
	}
}

func walletErr(err error) error {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return fmt.Errorf("%w: balance below rate", ErrInsufficientFunds)
	case errors.Is(err, wallet.ErrNotFound):
		return fmt.Errorf("%w: wallet", ErrNotFound)
	case errors.Is(err, wallet.ErrInvalidArgument):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return err
	}
}
