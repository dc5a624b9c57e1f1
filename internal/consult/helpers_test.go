package consult

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEvent struct {
	kind participant.Kind
	id   string
	ev   events.Event
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (n *recordingNotifier) Notify(kind participant.Kind, id string, ev events.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{kind: kind, id: id, ev: ev})
	return true
}

func (n *recordingNotifier) types(kind participant.Kind, id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.kind == kind && s.id == id {
			out = append(out, s.ev.Type)
		}
	}
	return out
}

func (n *recordingNotifier) last(kind participant.Kind, id, typ string) (events.Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		s := n.sent[i]
		if s.kind == kind && s.id == id && s.ev.Type == typ {
			return s.ev, true
		}
	}
	return events.Event{}, false
}

func (n *recordingNotifier) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.ev.Type == typ {
			c++
		}
	}
	return c
}

// manualScheduler fires timers only when the test says so.
type manualScheduler struct {
	mu      sync.Mutex
	timers  map[string]manualTimer
	cancels map[string]int
}

type manualTimer struct {
	fn    func()
	every bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{timers: map[string]manualTimer{}, cancels: map[string]int{}}
}

func (s *manualScheduler) Every(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[key] = manualTimer{fn: fn, every: true}
}

func (s *manualScheduler) After(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[key] = manualTimer{fn: fn}
}

func (s *manualScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; !ok {
		return false
	}
	delete(s.timers, key)
	s.cancels[key]++
	return true
}

func (s *manualScheduler) Stop() {}

func (s *manualScheduler) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *manualScheduler) cancelled(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[key]
}

func (s *manualScheduler) fire(t *testing.T, key string) {
	t.Helper()
	s.mu.Lock()
	tm, ok := s.timers[key]
	if ok && !tm.every {
		delete(s.timers, key)
	}
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no timer for %q", key)
	}
	tm.fn()
}

type fakeInvoices struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeInvoices) Enqueue(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeInvoices) queued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

const (
	reqID  = "r1"
	provID = "p1"
	rate   = int64(10)
)

var (
	reqOwner  = wallet.Owner{Kind: participant.KindRequester, ID: reqID}
	provOwner = wallet.Owner{Kind: participant.KindProvider, ID: provID}
)

type harness struct {
	clock    *testClock
	store    *MemoryStore
	people   *participant.MemoryRepo
	wallets  *wallet.MemoryRepo
	sched    *manualScheduler
	notes    *recordingNotifier
	invoices *fakeInvoices
	audit    *audit.MemoryRepo

	deps   Deps
	ledger *Ledger
	meter  *Meter
	broker *Broker
}

func newHarness(t *testing.T, balance int64, opts Options, tweaks ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		clock:    &testClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		store:    NewMemoryStore(),
		people:   participant.NewMemoryRepo(),
		wallets:  wallet.NewMemoryRepo(),
		sched:    newManualScheduler(),
		notes:    &recordingNotifier{},
		invoices: &fakeInvoices{},
		audit:    audit.NewMemoryRepo(),
	}

	h.people.Put(participant.Participant{ID: reqID, Kind: participant.KindRequester, Name: "Asha", Phone: "+15551111111"})
	h.addProvider(provID, "Dr. Rao", "+15552222222")
	h.wallets.Seed(reqOwner, "INR", balance, 0)

	deps := Deps{
		Store:        h.store,
		Participants: h.people,
		Wallets:      wallet.NewService(h.wallets).WithClock(h.clock.Now),
		Notifier:     h.notes,
		Scheduler:    h.sched,
		Invoices:     h.invoices,
		Audit:        audit.NewService(h.audit),
		Clock:        h.clock.Now,
		Log:          logger.Discard(),
	}
	for _, tw := range tweaks {
		tw(&deps)
	}
	h.deps = deps
	h.ledger = NewLedger(deps)
	h.meter = NewMeter(deps, h.ledger, opts)
	h.broker = NewBroker(deps, h.meter, opts)
	return h
}

// addProvider registers an online provider offering every modality at rate.
func (h *harness) addProvider(id, name, phone string) {
	h.people.Put(participant.Participant{
		ID:     id,
		Kind:   participant.KindProvider,
		Name:   name,
		Phone:  phone,
		Status: participant.StatusOnline,
		Pricing: map[participant.Modality]int64{
			participant.ModalityChat:  rate,
			participant.ModalityVoice: rate,
			participant.ModalityVideo: rate,
		},
		Services: map[participant.Modality]bool{
			participant.ModalityChat:  true,
			participant.ModalityVoice: true,
			participant.ModalityVideo: true,
		},
	})
	h.wallets.Seed(wallet.Owner{Kind: participant.KindProvider, ID: id}, "INR", 0, 0)
}

func (h *harness) wallet(t *testing.T, owner wallet.Owner) wallet.Wallet {
	t.Helper()
	w, err := h.wallets.Get(context.Background(), owner)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w
}

func (h *harness) provider(t *testing.T) participant.Participant {
	t.Helper()
	p, err := h.people.Get(context.Background(), participant.KindProvider, provID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	return p
}

// startSession creates and accepts a request, returning the active session.
func (h *harness) startSession(t *testing.T, m participant.Modality) Session {
	t.Helper()
	return h.startSessionWith(t, provID, m)
}

func (h *harness) startSessionWith(t *testing.T, providerID string, m participant.Modality) Session {
	t.Helper()
	ctx := context.Background()
	req, err := h.broker.CreateRequest(ctx, reqID, providerID, m)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	res, err := h.broker.Respond(ctx, req.ID, providerID, ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Session == nil {
		t.Fatalf("expected a session on accept")
	}
	return *res.Session
}

func assertWallet(t *testing.T, w wallet.Wallet, balance, locked int64) {
	t.Helper()
	if w.BalanceMinor != balance || w.LockedMinor != locked {
		t.Fatalf("expected %d/%d, got %d/%d", balance, locked, w.BalanceMinor, w.LockedMinor)
	}
}

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

var errTestStore = errors.New("store unavailable")
