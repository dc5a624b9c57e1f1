package telephony

import (
	"context"
	"errors"
)

// NoopProvider accepts every call without dialing. Used when no carrier is
// configured (local/dev) so voice sessions still start.
type NoopProvider struct{}

func (p *NoopProvider) Name() string { return "noop" }

func (p *NoopProvider) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *NoopProvider) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.CallerNumber == "" || req.CalleeNumber == "" {
		return OutboundCallResult{}, errors.New("telephony: caller and callee numbers required")
	}
	return OutboundCallResult{ProviderCallID: "noop-" + req.SessionID, Status: "queued"}, nil
}
