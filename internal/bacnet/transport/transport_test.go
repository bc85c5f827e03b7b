package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshollie/bacprop/internal/bacnet/bvll"
)

type captureHandler struct {
	mu      sync.Mutex
	frames  []*bvll.Message
	senders []*net.UDPAddr
	got     chan struct{}
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{got: make(chan struct{}, 8)}
}

func (c *captureHandler) HandleFrame(sender *net.UDPAddr, msg *bvll.Message) {
	c.mu.Lock()
	c.frames = append(c.frames, msg)
	c.senders = append(c.senders, sender)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func bindLoopback(t *testing.T) *Endpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	return &Endpoint{conn: conn, broadcast: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}}
}

func TestEndpointReceivesUnicastFrame(t *testing.T) {
	ep := bindLoopback(t)
	handler := newCaptureHandler()
	ep.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep.Start(ctx)
	defer ep.Stop()

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer sender.Close()

	msg := bvll.New(bvll.FunctionOriginalUnicastNPDU, []byte{0xde, 0xad})
	_, err = sender.WriteToUDP(msg.Encode(), ep.LocalAddr())
	require.NoError(t, err)

	select {
	case <-handler.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.frames, 1)
	assert.Equal(t, bvll.FunctionOriginalUnicastNPDU, handler.frames[0].Function)
	assert.Equal(t, []byte{0xde, 0xad}, handler.frames[0].Data)
}

func TestEndpointStopUnblocksReadLoop(t *testing.T) {
	ep := bindLoopback(t)
	ep.SetHandler(newCaptureHandler())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep.Start(ctx)

	done := make(chan struct{})
	go func() {
		ep.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestIsAliveReflectsStop(t *testing.T) {
	ep := bindLoopback(t)
	ep.SetHandler(newCaptureHandler())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep.Start(ctx)

	assert.True(t, ep.IsAlive())
	ep.Stop()
	assert.False(t, ep.IsAlive())
}

func TestSendUnicastDeliversBytes(t *testing.T) {
	ep := bindLoopback(t)
	ep.SetHandler(newCaptureHandler())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep.Start(ctx)
	defer ep.Stop()

	receiver, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer receiver.Close()

	msg := bvll.New(bvll.FunctionOriginalUnicastNPDU, []byte{1, 2, 3})
	require.NoError(t, ep.SendUnicast(receiver.LocalAddr().(*net.UDPAddr), msg))

	buf := make([]byte, 64)
	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := receiver.ReadFromUDP(buf)
	require.NoError(t, err)

	decoded, err := bvll.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Data)
}
