package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshollie/bacprop/internal/bacnet/vlan"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	lan := vlan.New()
	t.Cleanup(lan.Close)
	return New(lan)
}

func TestGetOnEmptyRegistryReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	_, ok := r.Get(1)
	assert.False(t, ok)
}

func TestCreateAllocatesMonotonicAddresses(t *testing.T) {
	r := newTestRegistry(t)

	d1, err := r.Create(1)
	require.NoError(t, err)
	d2, err := r.Create(2)
	require.NoError(t, err)

	assert.Equal(t, vlan.Address(2), d1.Address())
	assert.Equal(t, vlan.Address(3), d2.Address())
}

func TestCreateRejectsDuplicateSensorID(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(5)
	require.NoError(t, err)

	_, err = r.Create(5)
	assert.Error(t, err)
}

func TestGetOrCreateReusesExisting(t *testing.T) {
	r := newTestRegistry(t)
	first := r.GetOrCreate(9)
	second := r.GetOrCreate(9)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Count())
}

func TestListReturnsSortedIndependentSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	r.GetOrCreate(3)
	r.GetOrCreate(1)
	r.GetOrCreate(2)

	snapshot := r.List()
	require.Len(t, snapshot, 3)
	assert.Equal(t, 1, snapshot[0].SensorID())
	assert.Equal(t, 2, snapshot[1].SensorID())
	assert.Equal(t, 3, snapshot[2].SensorID())

	r.GetOrCreate(4)
	assert.Len(t, snapshot, 3, "snapshot must not observe later mutation")
}

func TestCountFaulted(t *testing.T) {
	r := newTestRegistry(t)
	d1 := r.GetOrCreate(1)
	r.GetOrCreate(2)

	assert.Equal(t, 0, r.CountFaulted())
	d1.MarkFault()
	assert.Equal(t, 1, r.CountFaulted())
}
