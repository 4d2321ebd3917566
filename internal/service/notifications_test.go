package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originprotocol/wallet-linker/internal/model"
)

func TestRegisterNotificationEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and re-registers the wallet device", func(t *testing.T) {
		env := newTestEnv()

		ok, err := env.linker.RegisterNotificationEndpoint(ctx, "wallet-1", "0xAbC", model.DeviceTypeAPN, "token-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = env.linker.RegisterNotificationEndpoint(ctx, "wallet-1", "0xAbC", model.DeviceTypeAPN, "token-2")
		require.NoError(t, err)
		assert.True(t, ok)

		ep, err := env.endpoints.FindByWalletToken(ctx, "wallet-1")
		require.NoError(t, err)
		require.NotNil(t, ep)
		assert.Equal(t, "token-2", ep.DeviceToken)
	})
}

func TestNotifyAddresses(t *testing.T) {
	ctx := context.Background()
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	register := func(t *testing.T, env *testEnv) {
		t.Helper()
		_, err := env.linker.RegisterNotificationEndpoint(ctx, "wallet-1", checksummed, model.DeviceTypeAPN, "token-1")
		require.NoError(t, err)
	}

	t.Run("new-message flag sends the generic alert", func(t *testing.T) {
		env := newTestEnv()
		register(t, env)

		env.linker.NotifyAddresses(ctx, map[string]NotifyRequest{
			checksummed: {"newMessage": true},
		})

		sends := env.dispatcher.all()
		require.Len(t, sends, 1)
		assert.Equal(t, "New message for: "+checksummed, sends[0].message)
		assert.Equal(t, true, sends[0].data["newMessage"])
	})

	t.Run("custom message carries the remaining payload", func(t *testing.T) {
		env := newTestEnv()
		register(t, env)

		env.linker.NotifyAddresses(ctx, map[string]NotifyRequest{
			checksummed: {"msg": "Your offer was accepted", "offerId": "42"},
		})

		sends := env.dispatcher.all()
		require.Len(t, sends, 1)
		assert.Equal(t, "Your offer was accepted", sends[0].message)
		assert.Equal(t, "42", sends[0].data["offerId"])
		assert.NotContains(t, sends[0].data, "msg")
	})

	t.Run("lowercase addresses match the checksummed registration", func(t *testing.T) {
		env := newTestEnv()
		register(t, env)

		env.linker.NotifyAddresses(ctx, map[string]NotifyRequest{
			"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": {"newMessage": true},
		})

		assert.Len(t, env.dispatcher.all(), 1)
	})

	t.Run("unregistered receivers are skipped", func(t *testing.T) {
		env := newTestEnv()

		env.linker.NotifyAddresses(ctx, map[string]NotifyRequest{
			checksummed: {"newMessage": true},
		})

		assert.Empty(t, env.dispatcher.all())
	})

	t.Run("entries with neither flag nor message send nothing", func(t *testing.T) {
		env := newTestEnv()
		register(t, env)

		env.linker.NotifyAddresses(ctx, map[string]NotifyRequest{
			checksummed: {},
		})

		assert.Empty(t, env.dispatcher.all())
	})
}
