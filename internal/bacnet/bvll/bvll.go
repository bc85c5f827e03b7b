// Package bvll implements the BACnet Virtual Link Layer (Annex J) framing
// that carries NPDUs over UDP.
package bvll

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Type is the single BVLL type byte for BACnet/IP. No other type exists.
const Type = 0x81

// HeaderLength is the fixed BVLC header size: type, function, 2-byte length.
const HeaderLength = 4

// Function identifies the purpose of a BVLL message (Annex J.2).
type Function uint8

const (
	FunctionResult                         Function = 0x00
	FunctionWriteBroadcastDistributionTable Function = 0x01
	FunctionReadBroadcastDistributionTable  Function = 0x02
	FunctionBroadcastDistributionTableAck   Function = 0x03
	FunctionForwardedNPDU                   Function = 0x04
	FunctionRegisterForeignDevice           Function = 0x05
	FunctionReadForeignDeviceTable          Function = 0x06
	FunctionReadForeignDeviceTableAck       Function = 0x07
	FunctionDeleteForeignDeviceTableEntry   Function = 0x08
	FunctionDistributeBroadcastToNetwork    Function = 0x09
	FunctionOriginalUnicastNPDU             Function = 0x0a
	FunctionOriginalBroadcastNPDU           Function = 0x0b
)

func (f Function) String() string {
	switch f {
	case FunctionResult:
		return "BVLC-Result"
	case FunctionForwardedNPDU:
		return "Forwarded-NPDU"
	case FunctionDistributeBroadcastToNetwork:
		return "Distribute-Broadcast-To-Network"
	case FunctionOriginalUnicastNPDU:
		return "Original-Unicast-NPDU"
	case FunctionOriginalBroadcastNPDU:
		return "Original-Broadcast-NPDU"
	default:
		return fmt.Sprintf("Function(0x%02x)", uint8(f))
	}
}

// Message is a decoded BVLL frame: the function byte plus whatever it
// carries (an NPDU for Unicast/Broadcast/Forwarded, a BDT for the others).
type Message struct {
	Function Function
	Data     []byte
}

// New builds a message ready for Encode.
func New(function Function, data []byte) *Message {
	return &Message{Function: function, Data: data}
}

// Decode parses a raw UDP datagram into a BVLL message.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < HeaderLength {
		return nil, fmt.Errorf("bvll: frame too short (%d bytes)", len(raw))
	}
	if raw[0] != Type {
		return nil, fmt.Errorf("bvll: unexpected type byte 0x%02x", raw[0])
	}
	function := Function(raw[1])
	totalLength := int(binary.BigEndian.Uint16(raw[2:4]))
	if totalLength != len(raw) {
		return nil, fmt.Errorf("bvll: length field %d does not match datagram length %d", totalLength, len(raw))
	}
	data := make([]byte, len(raw)-HeaderLength)
	copy(data, raw[HeaderLength:])
	return &Message{Function: function, Data: data}, nil
}

// Encode serializes the message, including the BVLC length header.
func (m *Message) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderLength+len(m.Data)))
	buf.WriteByte(Type)
	buf.WriteByte(byte(m.Function))
	lengthBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lengthBytes, uint16(HeaderLength+len(m.Data)))
	buf.Write(lengthBytes)
	buf.Write(m.Data)
	return buf.Bytes()
}

// IsNPDUCarrier reports whether this function carries an NPDU payload
// (as opposed to a BDT/FDT management message).
func (f Function) IsNPDUCarrier() bool {
	switch f {
	case FunctionOriginalUnicastNPDU, FunctionOriginalBroadcastNPDU, FunctionForwardedNPDU:
		return true
	default:
		return false
	}
}
