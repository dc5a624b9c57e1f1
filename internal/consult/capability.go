package consult

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"consult-platform/internal/participant"
	"consult-platform/internal/telephony"
	"consult-platform/internal/video"
)

// StartInfo is what a modality needs to set up media for a new session.
type StartInfo struct {
	Session   Session
	Requester participant.Participant
	Provider  participant.Participant
}

// Media is embedded per party in session:started. A nil side gets nothing.
type Media struct {
	Requester any
	Provider  any
}

// Capability sets up modality-specific media once a session is active.
// A returned error never ends the session; the requester is told setup failed.
type Capability interface {
	Start(ctx context.Context, info StartInfo) (Media, error)
}

// ChatCapability needs no media; messages flow over the real-time channel.
type ChatCapability struct{}

func (ChatCapability) Start(context.Context, StartInfo) (Media, error) { return Media{}, nil }

// VoiceCapability bridges the two parties through an outbound call.
type VoiceCapability struct {
	Calls telephony.CallPlacer
}

var ErrMissingPhone = errors.New("participant has no phone number")

type VoiceMedia struct {
	Provider       string `json:"provider"`
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

func (c VoiceCapability) Start(ctx context.Context, info StartInfo) (Media, error) {
	if c.Calls == nil {
		return Media{}, errors.New("voice: no call placer configured")
	}
	if info.Requester.Phone == "" || info.Provider.Phone == "" {
		return Media{}, ErrMissingPhone
	}
	res, err := c.Calls.PlaceOutboundCall(ctx, telephony.OutboundCallRequest{
		SessionID:    info.Session.ID,
		CallerNumber: info.Requester.Phone,
		CalleeNumber: info.Provider.Phone,
	})
	if err != nil {
		return Media{}, fmt.Errorf("place call: %w", err)
	}
	m := VoiceMedia{Provider: c.Calls.Name(), ProviderCallID: res.ProviderCallID, Status: res.Status}
	return Media{Requester: m, Provider: m}, nil
}

// VideoCapability issues one RTC token per party on a channel named after the session.
type VideoCapability struct {
	Tokens video.TokenIssuer
}

func (c VideoCapability) Start(ctx context.Context, info StartInfo) (Media, error) {
	if c.Tokens == nil {
		return Media{}, errors.New("video: no token issuer configured")
	}
	channel := "session-" + info.Session.ID
	rt, err := c.Tokens.IssueToken(channel, numericUID(info.Session.RequesterID))
	if err != nil {
		return Media{}, fmt.Errorf("requester token: %w", err)
	}
	pt, err := c.Tokens.IssueToken(channel, numericUID(info.Session.ProviderID))
	if err != nil {
		return Media{}, fmt.Errorf("provider token: %w", err)
	}
	return Media{Requester: rt, Provider: pt}, nil
}

// numericUID derives a stable non-zero 32-bit id from a participant id.
func numericUID(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	if v := h.Sum32(); v != 0 {
		return v
	}
	return 1
}
