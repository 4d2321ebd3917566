// Package notify sends best-effort push notifications to wallet devices.
// Dispatch never blocks the relay path and never surfaces transport errors
// to callers.
package notify

import (
	"github.com/rs/zerolog/log"

	"github.com/originprotocol/wallet-linker/internal/model"
)

// Dispatcher delivers a push message to a device endpoint. Implementations
// are fire-and-forget: a failed push is logged, not returned.
type Dispatcher interface {
	Dispatch(endpoint *model.NotificationEndpoint, message string, data map[string]any)
}

// NoopDispatcher is used when no push-provider credentials are configured.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(endpoint *model.NotificationEndpoint, message string, data map[string]any) {
	if endpoint == nil {
		return
	}
	log.Debug().
		Str("walletToken", endpoint.WalletToken).
		Str("deviceType", string(endpoint.DeviceType)).
		Msg("push dispatch skipped: no provider configured")
}
