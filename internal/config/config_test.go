package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MQTT_ADDR", "MQTT_PORT", "BACNET_BIND_ADDR", "BACNET_NETWORK", "FAULT_TIMEOUT_SEC"} {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.MQTT.Addr)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "0.0.0.0", cfg.BACnet.BindAddr)
	assert.Equal(t, 1, cfg.BACnet.Network)
	assert.Equal(t, 600, cfg.Fault.TimeoutSec)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("MQTT_ADDR", "broker.example.com")
	os.Setenv("MQTT_PORT", "8883")
	os.Setenv("BACNET_BIND_ADDR", "192.168.1.10")
	os.Setenv("FAULT_TIMEOUT_SEC", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "broker.example.com", cfg.MQTT.Addr)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "192.168.1.10", cfg.BACnet.BindAddr)
	assert.Equal(t, 120, cfg.Fault.TimeoutSec)
}
