// Command bacprop runs the MQTT-to-BACnet/IP bridge: sensor telemetry
// published as JSON on sensor/# is exposed on the LAN as a virtual BACnet
// network, one device per sensor, per spec.md §1.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/config"
	"github.com/freshollie/bacprop/internal/logger"
	"github.com/freshollie/bacprop/internal/supervisor"
)

// Version is the bridge's build version, set via -ldflags at release time.
var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logger.Level
	logCfg.Format = cfg.Logger.Format
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("starting bacprop", zap.String("version", Version),
		zap.String("mqtt_addr", cfg.MQTT.Addr), zap.Int("mqtt_port", cfg.MQTT.Port),
		zap.String("bacnet_bind_addr", cfg.BACnet.BindAddr),
		zap.Int("fault_timeout_sec", cfg.Fault.TimeoutSec))

	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor exited: %w", err)
	}

	log.Info("bacprop stopped cleanly")
	return nil
}
