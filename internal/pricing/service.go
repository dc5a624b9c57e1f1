package pricing

import (
	"errors"
	"time"

	"consult-platform/internal/participant"
)

// Service resolves provider rates and computes billed totals.
//
// Contract:
// - Billing is per started minute (60s increment).
// - A session always bills at least one minute.
// - Pure calculation; rates come from the provider record.
type Service struct {
	incrementSeconds       int
	minimumBillableSeconds int
}

func NewService() *Service {
	return &Service{incrementSeconds: 60, minimumBillableSeconds: 60}
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// RateFor returns the provider's per-minute rate for a modality.
func (s *Service) RateFor(provider participant.Participant, m participant.Modality) (int64, error) {
	if provider.Kind != participant.KindProvider || !m.Valid() {
		return 0, ErrInvalidPricingReq
	}
	rate, ok := provider.RateFor(m)
	if !ok {
		return 0, ErrPricingNotFound
	}
	return rate, nil
}

// Quote bills elapsed wall time at rate.
func (s *Service) Quote(m participant.Modality, rate int64, elapsed time.Duration) (Quote, error) {
	if rate <= 0 {
		return Quote{}, ErrInvalidPricingReq
	}
	sec := billableSeconds(ceilSeconds(elapsed), s.minimumBillableSeconds, s.incrementSeconds)
	mins := billableMinutesFromSeconds(sec)
	return Quote{
		Modality:           m,
		BillableSeconds:    sec,
		BillableMinutes:    mins,
		RatePerMinuteMinor: rate,
		TotalMinor:         rate * int64(mins),
	}, nil
}

// BillableMinutes is ceil(elapsed / 1m), never below 1.
func BillableMinutes(elapsed time.Duration) int {
	return billableMinutesFromSeconds(billableSeconds(ceilSeconds(elapsed), 60, 60))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	sec := d / time.Second
	if d%time.Second != 0 {
		sec++
	}
	return int(sec)
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		actualSec = 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	if sec%incrementSec != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
