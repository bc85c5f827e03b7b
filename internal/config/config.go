// Package config loads BacProp's runtime configuration from environment
// variables, following spec.md §6.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bridge process.
type Config struct {
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	BACnet BACnetConfig `mapstructure:"bacnet"`
	Fault  FaultConfig  `mapstructure:"fault"`
	Logger LoggerConfig `mapstructure:"logger"`
}

// MQTTConfig contains the MQTT broker connection settings.
type MQTTConfig struct {
	Addr string `mapstructure:"addr"`
	Port int    `mapstructure:"port"`
}

// BACnetConfig contains the BACnet/IP UDP endpoint settings.
type BACnetConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
	Network  int    `mapstructure:"network"`
}

// FaultConfig contains the fault-monitor staleness window.
type FaultConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from environment variables, falling back to the
// defaults named in spec.md §6. BacProp has no config file: every setting is
// an env var.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BACPROP")
	bindEnv(v, "mqtt.addr", "MQTT_ADDR")
	bindEnv(v, "mqtt.port", "MQTT_PORT")
	bindEnv(v, "bacnet.bind_addr", "BACNET_BIND_ADDR")
	bindEnv(v, "bacnet.network", "BACNET_NETWORK")
	bindEnv(v, "fault.timeout_sec", "FAULT_TIMEOUT_SEC")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper, key, envVar string) {
	// The bare (unprefixed) name is what spec.md §6 documents, so bind it
	// directly rather than relying on viper's BACPROP_ prefix rewriting.
	_ = v.BindEnv(key, envVar)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.addr", "127.0.0.1")
	v.SetDefault("mqtt.port", 1883)

	v.SetDefault("bacnet.bind_addr", "0.0.0.0")
	v.SetDefault("bacnet.network", 1)

	v.SetDefault("fault.timeout_sec", 600)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}
