// Package supervisor wires together and coordinates the lifecycle of
// BacProp's three concurrent activities — the BACnet/IP event loop, the
// MQTT ingest+translator pipeline, and the fault monitor — per spec.md
// §4.10/§5. It is grounded on the original BacPropagator.start/
// _start_bacnet_thread, restructured onto golang.org/x/sync/errgroup in
// place of a raw thread + asyncio loop, following the teacher's
// internal/node/node.go Start/Stop shape.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/freshollie/bacprop/internal/bacnet/router"
	"github.com/freshollie/bacprop/internal/bacnet/transport"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
	"github.com/freshollie/bacprop/internal/config"
	"github.com/freshollie/bacprop/internal/faultmon"
	"github.com/freshollie/bacprop/internal/health"
	"github.com/freshollie/bacprop/internal/ingest"
	"github.com/freshollie/bacprop/internal/logger"
	"github.com/freshollie/bacprop/internal/sensor"
	"github.com/freshollie/bacprop/internal/translator"
)

const healthCheckInterval = 15 * time.Second

// Supervisor owns every long-lived component and coordinates startup and
// shutdown across them.
type Supervisor struct {
	log *zap.Logger

	endpoint   *transport.Endpoint
	lan        *vlan.LAN
	router     *router.Router
	registry   *sensor.Registry
	ingest     *ingest.Ingest
	translator *translator.Translator
	faultmon   *faultmon.Monitor
	health     *health.HealthChecker
}

// New builds every component but starts nothing. It returns an error for
// the fatal startup condition named in spec.md §7: the UDP socket could
// not be bound.
func New(cfg *config.Config) (*Supervisor, error) {
	log := logger.Get()

	endpoint, err := transport.Bind(cfg.BACnet.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: bind bacnet/ip endpoint: %w", err)
	}

	lan := vlan.New()
	r := router.New(endpoint, lan)
	registry := sensor.New(lan)

	in := ingest.New(cfg.MQTT, 256)
	tr := translator.New(registry)
	fm := faultmon.New(registry, time.Duration(cfg.Fault.TimeoutSec)*time.Second)

	hc := health.NewHealthChecker()
	hc.RegisterCheck("mqtt", health.ConnectionHealthCheck("mqtt", in.IsConnected), healthCheckInterval)
	hc.RegisterCheck("bacnet-udp", health.ConnectionHealthCheck("bacnet-udp", endpoint.IsAlive), healthCheckInterval)
	hc.RegisterCheck("fault-monitor", health.StaleSensorHealthCheck(registry.CountFaulted), healthCheckInterval)

	return &Supervisor{
		log:        log,
		endpoint:   endpoint,
		lan:        lan,
		router:     r,
		registry:   registry,
		ingest:     in,
		translator: tr,
		faultmon:   fm,
		health:     hc,
	}, nil
}

// Run starts the BACnet event loop, the MQTT ingest+translator pipeline,
// and the fault monitor, and blocks until ctx is canceled (typically by a
// terminal signal). Every activity returns nil, so cancellation is the only
// thing that ends the run once startup has succeeded. It implements
// spec.md §4.10: on shutdown it stops ingest first, then the BACnet loop,
// joining everything before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := s.ingest.Connect(gctx); err != nil {
		return fmt.Errorf("supervisor: mqtt startup: %w", err)
	}

	s.endpoint.Start(gctx)
	if err := s.router.Announce(); err != nil {
		s.log.Warn("failed to announce router to network", zap.Error(err))
	}
	s.log.Info("bacnet/ip endpoint listening", zap.String("addr", s.endpoint.LocalAddr().String()))

	g.Go(func() error {
		s.translator.Run(s.ingest.Records(), gctx.Done())
		return nil
	})

	g.Go(func() error {
		s.faultmon.Run(gctx)
		return nil
	})

	g.Go(func() error {
		s.health.StartPeriodicChecks(gctx)
		<-gctx.Done()
		return nil
	})

	<-gctx.Done()
	s.log.Info("shutting down")

	s.ingest.Stop()
	s.endpoint.Stop()
	s.lan.Close()

	return g.Wait()
}

// Health returns the registered health checker, for an operator to poll.
func (s *Supervisor) Health() *health.HealthChecker {
	return s.health
}

// Registry exposes the sensor registry, primarily for tests and
// diagnostics.
func (s *Supervisor) Registry() *sensor.Registry {
	return s.registry
}
