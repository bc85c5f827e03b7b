package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshollie/bacprop/internal/config"
)

func TestNewFailsOnUnbindableAddress(t *testing.T) {
	cfg := &config.Config{
		MQTT:   config.MQTTConfig{Addr: "127.0.0.1", Port: 1883},
		BACnet: config.BACnetConfig{BindAddr: "not-an-address"},
		Fault:  config.FaultConfig{TimeoutSec: 600},
	}

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewWiresRegistryAndHealthChecks(t *testing.T) {
	cfg := &config.Config{
		MQTT:   config.MQTTConfig{Addr: "127.0.0.1", Port: 1883},
		BACnet: config.BACnetConfig{BindAddr: "127.0.0.1"},
		Fault:  config.FaultConfig{TimeoutSec: 600},
	}

	sup, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sup.endpoint.Stop(); sup.lan.Close() })

	assert.NotNil(t, sup.Registry())
	assert.Equal(t, 0, sup.Registry().Count())
	require.NotNil(t, sup.Health())

	results := sup.Health().RunChecks(context.Background())
	assert.Contains(t, results, "mqtt")
	assert.Contains(t, results, "bacnet-udp")
	assert.Contains(t, results, "fault-monitor")
}
