package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	text, err := d.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	var back Duration
	assert.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, d, back)

	assert.Error(t, back.UnmarshalText([]byte("soon")))
}

func TestEffectiveTunablesFallBackToDefaults(t *testing.T) {
	var tun Tunables
	assert.Equal(t, RouteExpiryTime, tun.EffRouteTTL())
	assert.Equal(t, DiscoveryTimeout, tun.EffDiscoveryTimeout())
	assert.Equal(t, MaxRequestHops, tun.EffMaxRequestHops())
	assert.Equal(t, RetrySweepTick, tun.EffRetryInterval())
	assert.Equal(t, MaxSendAttempts, tun.EffMaxSendAttempts())

	tun = Tunables{
		RouteTTL:         Duration(time.Minute),
		DiscoveryTimeout: Duration(2 * time.Second),
		MaxRequestHops:   4,
		RetryInterval:    Duration(3 * time.Second),
		MaxSendAttempts:  2,
	}
	assert.Equal(t, time.Minute, tun.EffRouteTTL())
	assert.Equal(t, 2*time.Second, tun.EffDiscoveryTimeout())
	assert.Equal(t, uint8(4), tun.EffMaxRequestHops())
	assert.Equal(t, 3*time.Second, tun.EffRetryInterval())
	assert.Equal(t, 2, tun.EffMaxSendAttempts())
}
