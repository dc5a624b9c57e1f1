package consult

import (
	"context"
	"errors"
	"sync"
	"testing"

	"consult-platform/internal/events"
	"consult-platform/internal/participant"
)

func TestCreateRequest_NotifiesBothSides(t *testing.T) {
	h := newHarness(t, 100, Options{})
	req, err := h.broker.CreateRequest(context.Background(), reqID, provID, participant.ModalityChat)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != RequestStatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	ev, ok := h.notes.last(participant.KindProvider, provID, events.RequestReceived)
	if !ok {
		t.Fatalf("expected request:received for provider")
	}
	p := ev.Payload.(RequestPayload)
	if p.Requester == nil || p.Requester.Name != "Asha" {
		t.Fatalf("expected requester summary, got %+v", p.Requester)
	}
	if _, ok := h.notes.last(participant.KindRequester, reqID, events.RequestCreated); !ok {
		t.Fatalf("expected request:created ack for requester")
	}
	if !h.sched.has(expireKey(req.ID)) {
		t.Fatalf("expected expiry timer")
	}
}

func TestCreateRequest_InsufficientFundsPersistsNothing(t *testing.T) {
	h := newHarness(t, 5, Options{})
	_, err := h.broker.CreateRequest(context.Background(), reqID, provID, participant.ModalityChat)
	assertIs(t, err, ErrInsufficientFunds)
	if Code(err) != "insufficient_funds" {
		t.Fatalf("unexpected code %q", Code(err))
	}
	if got := len(h.store.Requests()); got != 0 {
		t.Fatalf("expected no request persisted, got %d", got)
	}
	if got := len(h.notes.types(participant.KindProvider, provID)); got != 0 {
		t.Fatalf("expected provider not notified, got %d events", got)
	}
}

func TestCreateRequest_Failures(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, 100, Options{})
	_, err := h.broker.CreateRequest(ctx, reqID, provID, "fax")
	assertIs(t, err, ErrValidation)

	_, err = h.broker.CreateRequest(ctx, "nobody", provID, participant.ModalityChat)
	assertIs(t, err, ErrNotFound)
	_, err = h.broker.CreateRequest(ctx, reqID, "nobody", participant.ModalityChat)
	assertIs(t, err, ErrNotFound)

	p := h.provider(t)
	p.IsBusy = true
	h.people.Put(p)
	_, err = h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
	assertIs(t, err, ErrUnavailable)

	p.IsBusy = false
	p.Status = participant.StatusOffline
	h.people.Put(p)
	_, err = h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
	assertIs(t, err, ErrUnavailable)

	p.Status = participant.StatusOnline
	p.Services = map[participant.Modality]bool{participant.ModalityChat: true}
	h.people.Put(p)
	_, err = h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityVideo)
	assertIs(t, err, ErrUnavailable)
}

func TestCreateRequest_DuplicatePendingConflicts(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	if _, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityVoice)
	assertIs(t, err, ErrConflict)
}

func TestCreateRequest_ConcurrentDuplicatesLeaveOnePending(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if created != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 created and %d conflicts, got %d and %d", n-1, created, conflicts)
	}
	if got := len(h.store.Requests()); got != 1 {
		t.Fatalf("expected one stored request, got %d", got)
	}
}

func TestRespond_AcceptStartsSession(t *testing.T) {
	h := newHarness(t, 100, Options{})
	sess := h.startSession(t, participant.ModalityChat)

	if sess.Status != SessionStatusActive || sess.RatePerMinuteMinor != rate {
		t.Fatalf("unexpected session: %+v", sess)
	}
	assertWallet(t, h.wallet(t, reqOwner), 90, 10)
	if !h.provider(t).IsBusy {
		t.Fatalf("expected provider busy")
	}
	if !h.sched.has(tickKey(sess.ID)) {
		t.Fatalf("expected tick timer")
	}
	if h.sched.has(expireKey(sess.RequestID)) {
		t.Fatalf("expected expiry cancelled on accept")
	}

	got := h.notes.types(participant.KindRequester, reqID)
	want := []string{events.RequestCreated, events.RequestAccepted, events.SessionStarted, events.WalletUpdated}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	ev, _ := h.notes.last(participant.KindProvider, provID, events.SessionStarted)
	if p := ev.Payload.(SessionStartedPayload); p.Counterpart.ID != reqID {
		t.Fatalf("expected provider to see requester as counterpart, got %+v", p.Counterpart)
	}
}

func TestRespond_BusyProviderUnavailable(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	req, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.people.MarkBusy(ctx, provID); err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	_, err = h.broker.Respond(ctx, req.ID, provID, ActionAccept)
	assertIs(t, err, ErrUnavailable)

	got, _ := h.store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusPending {
		t.Fatalf("expected request still pending, got %s", got.Status)
	}
	assertWallet(t, h.wallet(t, reqOwner), 100, 0)
}

func TestRespond_ForbiddenLeavesRequestPending(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	req, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = h.broker.Respond(ctx, req.ID, "p2", ActionAccept)
	assertIs(t, err, ErrForbidden)

	got, _ := h.store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestRespond_RejectNotifiesRequester(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	req, _ := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)

	res, err := h.broker.Respond(ctx, req.ID, provID, ActionReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Request.Status != RequestStatusRejected || res.Session != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := h.notes.last(participant.KindRequester, reqID, events.RequestRejected); !ok {
		t.Fatalf("expected request:rejected for requester")
	}
	if h.sched.has(expireKey(req.ID)) {
		t.Fatalf("expected expiry cancelled")
	}

	_, err = h.broker.Respond(ctx, req.ID, provID, ActionAccept)
	assertIs(t, err, ErrConflict)
}

func TestRespond_Validation(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	_, err := h.broker.Respond(ctx, "x", provID, "maybe")
	assertIs(t, err, ErrValidation)
	_, err = h.broker.Respond(ctx, "missing", provID, ActionAccept)
	assertIs(t, err, ErrNotFound)
}

func TestRequestExpiry(t *testing.T) {
	h := newHarness(t, 100, Options{})
	ctx := context.Background()
	req, _ := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)

	h.sched.fire(t, expireKey(req.ID))

	got, _ := h.store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if _, ok := h.notes.last(participant.KindRequester, reqID, events.RequestExpired); !ok {
		t.Fatalf("expected request:expired for requester")
	}
	if _, ok := h.notes.last(participant.KindProvider, provID, events.RequestExpired); !ok {
		t.Fatalf("expected request:expired for provider")
	}

	_, err := h.broker.Respond(ctx, req.ID, provID, ActionAccept)
	assertIs(t, err, ErrConflict)

	// A new request is allowed once the old one expired.
	if _, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat); err != nil {
		t.Fatalf("create after expiry: %v", err)
	}
}

type failingSessionStore struct {
	*MemoryStore
}

func (failingSessionStore) CreateSession(context.Context, Session) error {
	return errTestStore
}

func TestRespond_StartFailureRollsBack(t *testing.T) {
	h := newHarness(t, 100, Options{}, func(d *Deps) {
		d.Store = failingSessionStore{MemoryStore: d.Store.(*MemoryStore)}
	})
	ctx := context.Background()
	req, err := h.broker.CreateRequest(ctx, reqID, provID, participant.ModalityChat)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.broker.Respond(ctx, req.ID, provID, ActionAccept); err == nil {
		t.Fatalf("expected start failure")
	}
	got, _ := h.store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusPending {
		t.Fatalf("expected request back to pending, got %s", got.Status)
	}
	if h.provider(t).IsBusy {
		t.Fatalf("expected provider released")
	}
	assertWallet(t, h.wallet(t, reqOwner), 100, 0)
}
