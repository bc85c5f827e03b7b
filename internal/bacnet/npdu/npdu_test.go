package npdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAPDUMessage(t *testing.T) {
	dest := &Address{Network: 1, Addr: []byte{0, 0, 0, 2}}
	src := &Address{Network: 0, Addr: []byte{192, 168, 1, 1, 0xBA, 0xC0}}
	msg := NewAPDUMessage(dest, src, 255, PriorityNormal, []byte{0x10, 0x08})

	encoded, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.False(t, decoded.Control.IsNetworkLayerMessage)
	require.NotNil(t, decoded.Destination)
	assert.Equal(t, uint16(1), decoded.Destination.Network)
	assert.Equal(t, []byte{0, 0, 0, 2}, decoded.Destination.Addr)
	require.NotNil(t, decoded.Source)
	assert.Equal(t, uint16(0), decoded.Source.Network)
	assert.Equal(t, uint8(255), decoded.HopCount)
	assert.Equal(t, []byte{0x10, 0x08}, decoded.APDU)
}

func TestEncodeDecodeNetworkMessage(t *testing.T) {
	msg := NewNetworkMessage(nil, nil, 0, MessageIAmRouterToNetwork, []byte{0x00, 0x01})
	encoded, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, decoded.Control.IsNetworkLayerMessage)
	assert.Equal(t, MessageIAmRouterToNetwork, decoded.MessageType)
	assert.Equal(t, []byte{0x00, 0x01}, decoded.MessageData)
	assert.Nil(t, decoded.Destination)
}

func TestBroadcastAddressHasNoAddrBytes(t *testing.T) {
	addr := Address{Network: 1}
	assert.True(t, addr.IsBroadcast())
}

func TestDecrementHopCount(t *testing.T) {
	msg := &Message{HopCount: 1}
	assert.False(t, msg.DecrementHopCount())
	assert.Equal(t, uint8(0), msg.HopCount)

	msg2 := &Message{HopCount: 2}
	assert.True(t, msg2.DecrementHopCount())
}
