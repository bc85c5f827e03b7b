package faultmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshollie/bacprop/internal/bacnet/vlan"
	"github.com/freshollie/bacprop/internal/sensor"
)

func newTestMonitor(t *testing.T, timeout time.Duration) (*Monitor, *sensor.Registry) {
	t.Helper()
	lan := vlan.New()
	t.Cleanup(lan.Close)
	reg := sensor.New(lan)
	return New(reg, timeout), reg
}

func TestScanMarksStaleDeviceFaulted(t *testing.T) {
	mon, reg := newTestMonitor(t, 10*time.Millisecond)
	dev := reg.GetOrCreate(1)
	dev.SetValues(map[string]float32{"t": 1})
	require.False(t, dev.HasFault())

	time.Sleep(20 * time.Millisecond)
	mon.scan()

	assert.True(t, dev.HasFault())
}

func TestScanLeavesFreshDeviceAlone(t *testing.T) {
	mon, reg := newTestMonitor(t, time.Hour)
	dev := reg.GetOrCreate(1)
	dev.SetValues(map[string]float32{"t": 1})

	mon.scan()

	assert.False(t, dev.HasFault())
}

func TestScanDoesNotReFaultAlreadyFaultedDevice(t *testing.T) {
	mon, reg := newTestMonitor(t, 10*time.Millisecond)
	dev := reg.GetOrCreate(1)
	dev.SetValues(map[string]float32{"t": 1})
	time.Sleep(20 * time.Millisecond)

	mon.scan()
	require.True(t, dev.HasFault())

	// a second scan should be a no-op; nothing observable changes, but it
	// must not panic or double count.
	mon.scan()
	assert.True(t, dev.HasFault())
}
