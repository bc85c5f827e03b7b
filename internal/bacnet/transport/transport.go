// Package transport owns the single UDP socket BacProp's BACnet/IP side
// binds, framing outbound datagrams as BVLL Original-Unicast/Broadcast-NPDU
// messages and handing inbound ones to a registered Handler.
//
// There is no BBMD or foreign-device support: broadcasts are sent only to
// the local subnet, so the bridge serves a single IP subnet.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/bacnet/bvll"
	"github.com/freshollie/bacprop/internal/logger"
)

// DefaultPort is the well-known BACnet/IP UDP port (0xBAC0).
const DefaultPort = 47808

const maxDatagramSize = 1500

// Handler processes a decoded BVLL frame received from a peer address.
type Handler interface {
	HandleFrame(sender *net.UDPAddr, msg *bvll.Message)
}

type incoming struct {
	sender *net.UDPAddr
	data   []byte
	err    error
}

// Endpoint is a bound BACnet/IP UDP socket.
type Endpoint struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	handler   Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
	closed atomic.Bool
}

// Bind opens the UDP socket on addr:DefaultPort. addr is typically "0.0.0.0"
// so the endpoint accepts unicast and subnet-broadcast traffic alike. The
// broadcast address used for outbound sends is always 255.255.255.255,
// whatever addr is; it is not derived from a specific interface.
func Bind(addr string) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, DefaultPort))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}
	broadcastIP := net.IPv4bcast
	return &Endpoint{
		conn:      conn,
		broadcast: &net.UDPAddr{IP: broadcastIP, Port: DefaultPort},
	}, nil
}

// SetHandler registers the frame handler. Must be called before Start.
func (e *Endpoint) SetHandler(h Handler) {
	e.handler = h
}

// Start launches the receive loop in the background. It returns immediately.
func (e *Endpoint) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	dataCh := make(chan incoming, 16)
	e.wg.Add(2)
	go e.readLoop(dataCh)
	go e.dispatchLoop(ctx, dataCh)
}

// Stop cancels the dispatch loop and closes the socket, unblocking the
// read loop's pending ReadFromUDP.
func (e *Endpoint) Stop() {
	e.closed.Store(true)
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
	e.wg.Wait()
}

// IsAlive reports whether the socket is still bound and serving the receive
// loop, for the "bacnet-udp" health check.
func (e *Endpoint) IsAlive() bool {
	return !e.closed.Load()
}

func (e *Endpoint) readLoop(ch chan<- incoming) {
	defer e.wg.Done()
	defer close(ch)
	for {
		buf := make([]byte, maxDatagramSize)
		n, sender, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		ch <- incoming{sender: sender, data: buf[:n]}
	}
}

func (e *Endpoint) dispatchLoop(ctx context.Context, ch <-chan incoming) {
	defer e.wg.Done()
	log := logger.Get()
	for {
		select {
		case in, ok := <-ch:
			if !ok {
				return
			}
			msg, err := bvll.Decode(in.data)
			if err != nil {
				log.Debug("dropping malformed bvll frame", zap.Error(err))
				continue
			}
			if e.handler != nil {
				e.handler.HandleFrame(in.sender, msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SendUnicast sends a framed BVLL message to a single peer.
func (e *Endpoint) SendUnicast(dest *net.UDPAddr, msg *bvll.Message) error {
	_, err := e.conn.WriteToUDP(msg.Encode(), dest)
	return err
}

// SendBroadcast sends a framed BVLL message to the local broadcast address.
func (e *Endpoint) SendBroadcast(msg *bvll.Message) error {
	_, err := e.conn.WriteToUDP(msg.Encode(), e.broadcast)
	return err
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// SetBroadcastAddrForTest overrides the outbound broadcast destination.
// Production code always broadcasts to 255.255.255.255:47808; tests use
// this to redirect SendBroadcast at a loopback listener they can assert on.
func (e *Endpoint) SetBroadcastAddrForTest(addr *net.UDPAddr) {
	e.broadcast = addr
}
