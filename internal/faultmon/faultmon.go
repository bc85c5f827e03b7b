// Package faultmon implements the periodic staleness scan described in
// spec.md §4.9: once a second, every registered sensor that hasn't been
// updated within the fault timeout is marked faulted. It is grounded on
// the original's BacPropagator._fault_check_loop.
package faultmon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/logger"
	"github.com/freshollie/bacprop/internal/sensor"
)

// ScanInterval is the fixed cadence named in spec.md §4.9.
const ScanInterval = time.Second

// Monitor periodically scans the sensor registry for stale devices.
type Monitor struct {
	registry *sensor.Registry
	timeout  time.Duration
	log      *zap.Logger
}

// New builds a Monitor with the given staleness timeout (spec.md §6
// FAULT_TIMEOUT_SEC).
func New(registry *sensor.Registry, timeout time.Duration) *Monitor {
	return &Monitor{registry: registry, timeout: timeout, log: logger.Get()}
}

// Run scans once per ScanInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	now := time.Now()
	for _, d := range m.registry.List() {
		if d.HasFault() {
			continue
		}
		if now.Sub(d.LastUpdated()) > m.timeout {
			m.log.Warn("sensor data is outdated, notifying fault", zap.Int("sensor_id", d.SensorID()))
			d.MarkFault()
		}
	}
}
