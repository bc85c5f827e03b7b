// Package sensor owns the sensorId -> device.Device map and the VLAN
// address allocator, per spec.md §4.6. It is grounded on the original
// VirtualSensorNetwork's add_sensor/get_sensor/create_sensor trio and
// shaped like the teacher's internal/node/registry.go: the registry owns
// creation and hands back independent snapshots for safe concurrent
// iteration by the fault monitor.
package sensor

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/bacnet/device"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
	"github.com/freshollie/bacprop/internal/logger"
)

// firstSensorAddress is the first VLAN address handed to a sensor; address
// 1 is reserved for the router (spec.md §3).
const firstSensorAddress = vlan.Address(2)

// Registry holds every known device, keyed by sensorId, plus the
// monotonically increasing VLAN address counter described in spec.md §4.6.
// VLAN addresses are never reused, and devices are never removed — both
// documented limitations of the design this implements.
type Registry struct {
	lan *vlan.LAN
	log *zap.Logger

	mu       sync.RWMutex
	sensors  map[int]*device.Device
	nextAddr vlan.Address
}

// New creates an empty registry bound to the given VLAN fabric.
func New(lan *vlan.LAN) *Registry {
	return &Registry{
		lan:      lan,
		log:      logger.Get(),
		sensors:  make(map[int]*device.Device),
		nextAddr: firstSensorAddress,
	}
}

// Get is a pure lookup: it never creates a device.
func (r *Registry) Get(sensorID int) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sensors[sensorID]
	return d, ok
}

// Create allocates the next VLAN address, constructs a device bound to it,
// attaches it to the VLAN, and registers it. It fails if sensorID already
// exists, matching the original's add_sensor/create_sensor contract.
func (r *Registry) Create(sensorID int) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sensors[sensorID]; exists {
		return nil, fmt.Errorf("sensor: sensor %d already registered", sensorID)
	}

	addr := r.nextAddr
	r.nextAddr++

	d := device.New(sensorID, addr, r.lan)
	r.sensors[sensorID] = d

	r.log.Info("sensor registered", zap.Int("sensor_id", sensorID), zap.Uint32("vlan_address", uint32(addr)))
	return d, nil
}

// GetOrCreate returns the existing device for sensorID, creating one if
// this is the first record ever seen for it (spec.md §4.8).
func (r *Registry) GetOrCreate(sensorID int) *device.Device {
	if d, ok := r.Get(sensorID); ok {
		return d
	}
	d, err := r.Create(sensorID)
	if err != nil {
		// Lost the race with another caller between Get and Create; the
		// translator is single-threaded per spec.md §4.8 so this should
		// not happen, but fall back to the now-present entry rather than
		// panic.
		existing, _ := r.Get(sensorID)
		return existing
	}
	return d
}

// List returns an independent, sensorId-sorted snapshot safe to range over
// while the registry continues to mutate concurrently (spec.md §4.6).
func (r *Registry) List() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.sensors))
	for id := range r.sensors {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*device.Device, len(ids))
	for i, id := range ids {
		out[i] = r.sensors[id]
	}
	return out
}

// Count returns the number of registered sensors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sensors)
}

// CountFaulted returns how many registered sensors currently carry the
// fault flag, feeding the supervisor's health.StaleSensorHealthCheck.
func (r *Registry) CountFaulted() int {
	r.mu.RLock()
	sensors := make([]*device.Device, 0, len(r.sensors))
	for _, d := range r.sensors {
		sensors = append(sensors, d)
	}
	r.mu.RUnlock()

	n := 0
	for _, d := range sensors {
		if d.HasFault() {
			n++
		}
	}
	return n
}
