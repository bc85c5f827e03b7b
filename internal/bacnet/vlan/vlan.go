// Package vlan implements the in-memory virtual BACnet LAN that lets one
// UDP endpoint stand in for a whole routed network of devices. It mirrors
// the original bacpypes VirtualLAN's addressing and delivery rules: an
// ordered node list, 4-byte big-endian addresses assigned monotonically,
// and serialized per-source delivery.
package vlan

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/freshollie/bacprop/internal/bacnet/npdu"
)

// Address is a VLAN node address: a 4-byte big-endian ordinal. The router
// always occupies address 1; sensor nodes are allocated starting at 2.
type Address uint32

// Bytes renders the address the way it goes into an npdu.Address.Addr.
func (a Address) Bytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(a))
	return b
}

// ParseAddress recovers an Address from npdu.Address.Addr bytes.
func ParseAddress(b []byte) (Address, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("vlan: address must be 4 bytes, got %d", len(b))
	}
	return Address(binary.BigEndian.Uint32(b)), nil
}

// Frame is one NPDU in flight on the VLAN, addressed by VLAN Address rather
// than the raw npdu.Address wire encoding.
type Frame struct {
	Source      Address
	Destination Address // ignored when Broadcast is true
	Broadcast   bool
	NPDU        *npdu.Message
}

// Node is anything attached to the VLAN — a device application or the
// router's VLAN-side interface.
type Node interface {
	Address() Address
	Deliver(f Frame)
}

// LAN is the shared virtual broadcast domain. Delivery is serialized
// through a single dispatch goroutine so that at most one node processes a
// given frame at a time, preserving per-source ordering (spec §4.3).
//
// The outbound queue is an unbounded slice guarded by a condition variable
// rather than a fixed-size channel: a node's Deliver callback runs on the
// dispatch goroutine itself, and a device answering with many segments
// (segmentation's send window) calls Send from inside that callback. A
// bounded channel would let that reentrant Send block the very goroutine
// that drains it once the buffer filled; the unbounded queue never blocks
// the sender.
type LAN struct {
	mu    sync.RWMutex
	nodes []Node

	qmu    sync.Mutex
	cond   *sync.Cond
	queue  []Frame
	closed bool
}

// New starts a LAN's dispatch loop.
func New() *LAN {
	l := &LAN{}
	l.cond = sync.NewCond(&l.qmu)
	go l.dispatchLoop()
	return l
}

// Attach adds a node to the LAN in insertion order. Nodes are never removed.
func (l *LAN) Attach(n Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes = append(l.nodes, n)
}

// Send enqueues a frame for delivery. It never blocks, including when
// called from within a node's own Deliver callback on the dispatch
// goroutine.
func (l *LAN) Send(f Frame) {
	l.qmu.Lock()
	if l.closed {
		l.qmu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.qmu.Unlock()
	l.cond.Signal()
}

// Close stops the dispatch loop once the queue drains.
func (l *LAN) Close() {
	l.qmu.Lock()
	l.closed = true
	l.qmu.Unlock()
	l.cond.Broadcast()
}

func (l *LAN) dispatchLoop() {
	for {
		l.qmu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.qmu.Unlock()
			return
		}
		f := l.queue[0]
		l.queue = l.queue[1:]
		l.qmu.Unlock()
		l.deliver(f)
	}
}

func (l *LAN) deliver(f Frame) {
	l.mu.RLock()
	nodes := make([]Node, len(l.nodes))
	copy(nodes, l.nodes)
	l.mu.RUnlock()

	if f.Broadcast {
		for _, n := range nodes {
			n.Deliver(f)
		}
		return
	}
	for _, n := range nodes {
		if n.Address() == f.Destination {
			n.Deliver(f)
		}
	}
}
