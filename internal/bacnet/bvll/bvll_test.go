package bvll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := New(FunctionOriginalBroadcastNPDU, []byte{0x01, 0x02, 0x03})
	encoded := msg.Encode()

	assert.Equal(t, Type, int(encoded[0]))
	assert.Equal(t, HeaderLength+3, len(encoded))

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, FunctionOriginalBroadcastNPDU, decoded.Function)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, decoded.Data)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	raw := []byte{0x82, 0x0b, 0x00, 0x04}
	_, err := Decode(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x81, 0x0b})
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := []byte{0x81, 0x0b, 0x00, 0xFF, 0x01}
	_, err := Decode(raw)
	assert.Error(t, err)
}

func TestIsNPDUCarrier(t *testing.T) {
	assert.True(t, FunctionOriginalUnicastNPDU.IsNPDUCarrier())
	assert.True(t, FunctionForwardedNPDU.IsNPDUCarrier())
	assert.False(t, FunctionRegisterForeignDevice.IsNPDUCarrier())
}
