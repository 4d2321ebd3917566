package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelayKeys(t *testing.T) {
	assert.Equal(t, "relay:log:tok-1", RelayLogKey("tok-1"))
	assert.Equal(t, "relay:live:tok-1", RelayChannel("tok-1"))
	assert.Equal(t, "relay:msgid", RelayCounterKey)

	// log and live keyspaces must never collide for any token
	assert.NotEqual(t, RelayLogKey("x"), RelayChannel("x"))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not-a-redis-url")
	assert.Error(t, err)
}
