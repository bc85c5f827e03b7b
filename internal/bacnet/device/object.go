package device

import (
	"sort"
	"sync"
)

// analogValue is one reported measurement exposed as a BACnet analog-value
// object. The object index is its position in the sorted-name allocation
// from the most recent schema change (spec §4.5).
type analogValue struct {
	index       uint32
	name        string
	presentValue float32
	fault       bool
}

func (a *analogValue) statusFlags() []bool {
	// {in-alarm, fault, overridden, out-of-service}
	return []bool{false, a.fault, false, false}
}

// objectTable owns the device's dynamic analog-value object set and
// implements the full-rebuild-on-schema-change rule from spec §4.5.
type objectTable struct {
	mu      sync.RWMutex
	byIndex map[uint32]*analogValue
	byName  map[string]*analogValue
}

func newObjectTable() *objectTable {
	return &objectTable{
		byIndex: make(map[uint32]*analogValue),
		byName:  make(map[string]*analogValue),
	}
}

// setValues rebuilds the object set if the key set changed, then writes the
// new values. It does not touch the fault flags; clearing them is left to
// the caller (Device.SetValues).
func (t *objectTable) setValues(values map[string]float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !sameKeySet(t.byName, values) {
		t.byIndex = make(map[uint32]*analogValue)
		t.byName = make(map[string]*analogValue)

		names := make([]string, 0, len(values))
		for k := range values {
			names = append(names, k)
		}
		sort.Strings(names)

		for i, name := range names {
			obj := &analogValue{index: uint32(i), name: name}
			t.byIndex[obj.index] = obj
			t.byName[name] = obj
		}
	}

	for name, v := range values {
		t.byName[name].presentValue = v
	}
}

func sameKeySet(existing map[string]*analogValue, values map[string]float32) bool {
	if len(existing) != len(values) {
		return false
	}
	for k := range values {
		if _, ok := existing[k]; !ok {
			return false
		}
	}
	return true
}

func (t *objectTable) get(index uint32) (*analogValue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.byIndex[index]
	return obj, ok
}

// list returns objects in index order, for ObjectList / full enumeration.
func (t *objectTable) list() []*analogValue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*analogValue, 0, len(t.byIndex))
	for i := uint32(0); i < uint32(len(t.byIndex)); i++ {
		if obj, ok := t.byIndex[i]; ok {
			out = append(out, obj)
		}
	}
	return out
}

func (t *objectTable) setFault(fault bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, obj := range t.byIndex {
		obj.fault = fault
	}
}
