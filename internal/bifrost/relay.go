package bifrost

import (
	"context"
	"fmt"
)

// RelayBackend is an outbound relay transport; production implementations
// forward the frame to a peer Bifrost instance over its own network path.
// Grounded on original_source/bifrost/src/routing/relay.rs's
// AsgardRelayClient/YggdrasilRelayClient split: distinct relay providers
// tried in a fixed order, not load-balanced against each other.
type RelayBackend interface {
	Name() string
	Deliver(ctx context.Context, targetDeviceID string, rawFrame []byte) error
}

// RelayChain tries each backend in order, returning the first success. It
// generalizes the original's hardcoded two-backend (Asgard, Yggdrasil)
// ordering into an arbitrary ordered list.
type RelayChain struct {
	backends []RelayBackend
}

// NewRelayChain creates a RelayChain that tries backends in the given order.
func NewRelayChain(backends ...RelayBackend) *RelayChain {
	return &RelayChain{backends: backends}
}

// Deliver tries each backend in order until one succeeds.
func (c *RelayChain) Deliver(ctx context.Context, targetDeviceID string, rawFrame []byte) error {
	var lastErr error
	for _, b := range c.backends {
		if err := b.Deliver(ctx, targetDeviceID, rawFrame); err != nil {
			lastErr = fmt.Errorf("relay backend %s: %w", b.Name(), err)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("bifrost: no relay backends configured")
	}
	return lastErr
}
