package pricing

import (
	"testing"
	"time"

	"consult-platform/internal/participant"
)

func TestBillableSeconds(t *testing.T) {
	if got := billableSeconds(1, 0, 60); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
	if got := billableSeconds(60, 0, 60); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
	if got := billableSeconds(61, 0, 60); got != 120 {
		t.Fatalf("expected 120, got %d", got)
	}
	if got := billableSeconds(0, 60, 60); got != 60 {
		t.Fatalf("expected minimum 60, got %d", got)
	}
}

func TestBillableMinutes_CeilNeverZero(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{time.Millisecond, 1},
		{time.Minute, 1},
		{time.Minute + 500*time.Millisecond, 2},
		{2*time.Minute + 30*time.Second, 3},
		{-time.Second, 1},
	}
	for _, c := range cases {
		if got := BillableMinutes(c.elapsed); got != c.want {
			t.Fatalf("BillableMinutes(%s) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestQuote(t *testing.T) {
	s := NewService()
	q, err := s.Quote(participant.ModalityChat, 10, 2*time.Minute+time.Second)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.BillableMinutes != 3 || q.TotalMinor != 30 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if _, err := s.Quote(participant.ModalityChat, 0, time.Minute); err != ErrInvalidPricingReq {
		t.Fatalf("expected ErrInvalidPricingReq, got %v", err)
	}
}

func TestRateFor(t *testing.T) {
	s := NewService()
	p := participant.Participant{
		Kind:    participant.KindProvider,
		Pricing: map[participant.Modality]int64{participant.ModalityVoice: 25},
	}
	if r, err := s.RateFor(p, participant.ModalityVoice); err != nil || r != 25 {
		t.Fatalf("expected 25, got %d %v", r, err)
	}
	if _, err := s.RateFor(p, participant.ModalityVideo); err != ErrPricingNotFound {
		t.Fatalf("expected ErrPricingNotFound, got %v", err)
	}
	if _, err := s.RateFor(participant.Participant{Kind: participant.KindRequester}, participant.ModalityChat); err != ErrInvalidPricingReq {
		t.Fatalf("expected ErrInvalidPricingReq for requester, got %v", err)
	}
}
