package consult

import (
	"context"
	"testing"
	"time"

	"consult-platform/internal/participant"
)

func TestMemoryStore_TransitionRequestIsConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if err := s.CreateRequest(ctx, Request{ID: "q1", RequesterID: "r1", ProviderID: "p1", Status: RequestStatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.TransitionRequest(ctx, "q1", RequestStatusPending, RequestStatusAccepted, now)
	if err != nil || !ok {
		t.Fatalf("expected first transition to win, got %v %v", ok, err)
	}
	ok, err = s.TransitionRequest(ctx, "q1", RequestStatusPending, RequestStatusRejected, now)
	if err != nil || ok {
		t.Fatalf("expected second transition to lose, got %v %v", ok, err)
	}
	got, _ := s.GetRequest(ctx, "q1")
	if got.Status != RequestStatusAccepted || got.RespondedAt == nil {
		t.Fatalf("unexpected request: %+v", got)
	}

	if _, err := s.TransitionRequest(ctx, "missing", RequestStatusPending, RequestStatusExpired, now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_EndSessionOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	_ = s.CreateSession(ctx, Session{ID: "s1", RequesterID: "r1", ProviderID: "p1", Status: SessionStatusActive, StartedAt: now})

	active, _ := s.FindActiveSessions(ctx, participant.KindProvider, "p1")
	if len(active) != 1 || active[0].ID != "s1" {
		t.Fatalf("expected active session for provider, got %+v", active)
	}

	ended, ok, err := s.EndSession(ctx, "s1", now.Add(time.Minute), ReasonEndedByRequester)
	if err != nil || !ok || ended.EndedAt == nil {
		t.Fatalf("expected end to win, got %+v %v %v", ended, ok, err)
	}
	if _, ok, _ := s.EndSession(ctx, "s1", now.Add(2*time.Minute), ReasonInsufficientBalance); ok {
		t.Fatalf("expected second end to lose")
	}
	got, _ := s.GetSession(ctx, "s1")
	if got.EndReason != ReasonEndedByRequester {
		t.Fatalf("expected first reason kept, got %q", got.EndReason)
	}
	if left, _ := s.FindActiveSessions(ctx, participant.KindRequester, "r1"); len(left) != 0 {
		t.Fatalf("expected no active session after end, got %d", len(left))
	}
	if err := s.RecordMinutes(ctx, "s1", 5, now); err != nil {
		t.Fatalf("record on ended session: %v", err)
	}
	if got, _ := s.GetSession(ctx, "s1"); got.HeldMinutes != 0 {
		t.Fatalf("expected ended session untouched, got %d held", got.HeldMinutes)
	}
}

func TestMemoryStore_PendingPairIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	pending := Request{ID: "q1", RequesterID: "r1", ProviderID: "p1", Status: RequestStatusPending}
	if err := s.CreateRequest(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := pending
	dup.ID = "q2"
	if err := s.CreateRequest(ctx, dup); err != ErrConflict {
		t.Fatalf("expected ErrConflict for a second pending request, got %v", err)
	}
	other := pending
	other.ID, other.ProviderID = "q3", "p2"
	if err := s.CreateRequest(ctx, other); err != nil {
		t.Fatalf("expected another provider to be fine, got %v", err)
	}

	if _, err := s.TransitionRequest(ctx, "q1", RequestStatusPending, RequestStatusRejected, now); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := s.CreateRequest(ctx, dup); err != nil {
		t.Fatalf("expected a new request once the first was answered, got %v", err)
	}
}

func TestMemoryStore_ActiveSessionLookups(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	for i, p := range []string{"p1", "p2", "p3"} {
		_ = s.CreateSession(ctx, Session{
			ID:          "s-" + p,
			RequesterID: "r1",
			ProviderID:  p,
			Status:      SessionStatusActive,
			StartedAt:   now.Add(time.Duration(i) * time.Minute),
		})
	}
	_ = s.CreateSession(ctx, Session{ID: "s-old", RequesterID: "r1", ProviderID: "p4", Status: SessionStatusEnded, StartedAt: now})

	mine, _ := s.FindActiveSessions(ctx, participant.KindRequester, "r1")
	if len(mine) != 3 || mine[0].ID != "s-p1" || mine[2].ID != "s-p3" {
		t.Fatalf("expected three active sessions oldest first, got %+v", mine)
	}
	for i := 0; i < 20; i++ {
		got, ok, _ := s.FindActiveSessionBetween(ctx, "r1", "p2")
		if !ok || got.ID != "s-p2" {
			t.Fatalf("expected the r1/p2 session, got %+v %v", got, ok)
		}
	}
	if _, ok, _ := s.FindActiveSessionBetween(ctx, "r1", "p4"); ok {
		t.Fatalf("expected ended session not returned")
	}
	all, _ := s.ListActiveSessions(ctx)
	if len(all) != 3 {
		t.Fatalf("expected three active sessions, got %d", len(all))
	}

	if err := s.RecordMinutes(ctx, "s-p1", 4, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, _ := s.GetSession(ctx, "s-p1")
	if got.HeldMinutes != 4 || !got.LastTickAt.Equal(now.Add(3*time.Minute)) {
		t.Fatalf("unexpected recorded state: %+v", got)
	}
	if err := s.RecordMinutes(ctx, "missing", 1, now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_OneTransactionPerSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, created, err := s.CreateTransaction(ctx, Transaction{ID: "t1", SessionID: "s1", AmountMinor: 30})
	if err != nil || !created {
		t.Fatalf("expected create, got %v %v", created, err)
	}
	again, created, err := s.CreateTransaction(ctx, Transaction{ID: "t2", SessionID: "s1", AmountMinor: 99})
	if err != nil || created {
		t.Fatalf("expected existing transaction, got %v %v", created, err)
	}
	if again.ID != first.ID || again.AmountMinor != 30 {
		t.Fatalf("expected the first transaction back, got %+v", again)
	}

	if err := s.AttachInvoice(ctx, "t1", "https://files.example.com/t1.pdf"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, _ := s.GetTransaction(ctx, "t1")
	if got.InvoiceRef == "" {
		t.Fatalf("expected invoice ref")
	}
	if err := s.AttachInvoice(ctx, "missing", "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
