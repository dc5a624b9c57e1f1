package participant

import (
	"errors"
	"time"
)

// Kind is the participant namespace. Requesters and providers never share ids.
type Kind string

const (
	KindRequester Kind = "requester"
	KindProvider  Kind = "provider"
)

func (k Kind) Valid() bool { return k == KindRequester || k == KindProvider }

// Counterpart returns the other side of a session.
func (k Kind) Counterpart() Kind {
	if k == KindProvider {
		return KindRequester
	}
	return KindProvider
}

// Modality is the consultation medium.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityVoice Modality = "voice"
	ModalityVideo Modality = "video"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityChat, ModalityVoice, ModalityVideo:
		return true
	default:
		return false
	}
}

// Status is provider presence as persisted.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Participant is a requester or a provider. Money state lives in the wallet package.
type Participant struct {
	ID    string `json:"id" db:"id"`
	Kind  Kind   `json:"kind" db:"kind"`
	Name  string `json:"name" db:"name"`
	Phone string `json:"phone,omitempty" db:"phone"`

	// Provider-only.
	Status   Status             `json:"status,omitempty" db:"status"`
	IsBusy   bool               `json:"is_busy" db:"is_busy"`
	Pricing  map[Modality]int64 `json:"pricing,omitempty"`
	Services map[Modality]bool  `json:"services,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Offers reports whether a provider has the modality switched on.
func (p Participant) Offers(m Modality) bool {
	return p.Services[m]
}

// RateFor returns the per-minute rate in minor units for a modality.
func (p Participant) RateFor(m Modality) (int64, bool) {
	r, ok := p.Pricing[m]
	return r, ok && r > 0
}

// Summary is the denormalized view sent to counterparties.
type Summary struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (p Participant) Summary() Summary {
	return Summary{ID: p.ID, Kind: p.Kind, Name: p.Name}
}

var (
	ErrNotFound        = errors.New("participant not found")
	ErrInvalidArgument = errors.New("participant: invalid argument")
)
