// Package npdu implements the BACnet Network Protocol Data Unit (clause 6):
// the header that carries source/destination network routing information
// around an APDU, or stands alone for a network-layer control message
// (Who-Is-Router-To-Network, I-Am-Router-To-Network, Reject-Message-To-Network).
package npdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the only NPDU protocol version in use.
const ProtocolVersion uint8 = 1

// GlobalBroadcastNetwork is the reserved destination network number 65535
// (0xFFFF) meaning "every network this router knows about".
const GlobalBroadcastNetwork uint16 = 0xFFFF

// Priority is the 2-bit message priority field of the control byte.
type Priority uint8

const (
	PriorityNormal            Priority = 0b00
	PriorityUrgent            Priority = 0b01
	PriorityCriticalEquipment Priority = 0b10
	PriorityLifeSafety        Priority = 0b11
)

// MessageType identifies a network-layer control message, present when the
// control byte's NDSU bit is set.
type MessageType uint8

const (
	MessageWhoIsRouterToNetwork        MessageType = 0x00
	MessageIAmRouterToNetwork          MessageType = 0x01
	MessageICouldBeRouterToNetwork     MessageType = 0x02
	MessageRejectMessageToNetwork      MessageType = 0x03
	MessageRouterBusyToNetwork         MessageType = 0x04
	MessageRouterAvailableToNetwork    MessageType = 0x05
	MessageInitRoutingTable            MessageType = 0x06
	MessageInitRoutingTableAck         MessageType = 0x07
	MessageEstablishConnectionToNet    MessageType = 0x08
	MessageDisconnectConnectionToNet   MessageType = 0x09
	MessageWhatIsNetworkNumber         MessageType = 0x12
	MessageNetworkNumberIs             MessageType = 0x13
)

// RejectReason is the one-byte reason code that accompanies
// Reject-Message-To-Network.
type RejectReason uint8

const (
	RejectOther                         RejectReason = 0
	RejectNotDirectlyConnected          RejectReason = 1
	RejectBusy                          RejectReason = 2
	RejectUnknownNetworkMessage         RejectReason = 3
	RejectMessageTooLong                RejectReason = 4
	RejectSecurityError                 RejectReason = 5
	RejectAddressingError               RejectReason = 6
)

// Control is the decoded second byte of the NPDU header (clause 6.2.2).
type Control struct {
	IsNetworkLayerMessage    bool // N bit: true = network layer message, false = APDU follows
	DestinationPresent       bool
	SourcePresent            bool
	ExpectingReply           bool
	Priority                 Priority
}

func encodeControl(c Control) byte {
	var b byte
	if c.IsNetworkLayerMessage {
		b |= 0x80
	}
	if c.DestinationPresent {
		b |= 0x20
	}
	if c.SourcePresent {
		b |= 0x08
	}
	if c.ExpectingReply {
		b |= 0x04
	}
	b |= byte(c.Priority) & 0x03
	return b
}

func decodeControl(b byte) Control {
	return Control{
		IsNetworkLayerMessage: b&0x80 != 0,
		DestinationPresent:    b&0x20 != 0,
		SourcePresent:         b&0x08 != 0,
		ExpectingReply:        b&0x04 != 0,
		Priority:              Priority(b & 0x03),
	}
}

// Address is a network-layer address: a network number plus a variable
// length MAC-layer address. Length 0 on a destination means a local
// broadcast on that network (Addr is empty).
type Address struct {
	Network uint16
	Addr    []byte
}

// IsBroadcast reports whether this address means "broadcast on Network".
func (a Address) IsBroadcast() bool {
	return len(a.Addr) == 0
}

func writeAddress(buf *bytes.Buffer, addr Address) {
	var netBytes [2]byte
	binary.BigEndian.PutUint16(netBytes[:], addr.Network)
	buf.Write(netBytes[:])
	buf.WriteByte(byte(len(addr.Addr)))
	buf.Write(addr.Addr)
}

func readAddress(r *bytes.Reader) (Address, error) {
	var netBytes [2]byte
	if _, err := r.Read(netBytes[:]); err != nil {
		return Address{}, fmt.Errorf("npdu: reading address network: %w", err)
	}
	length, err := r.ReadByte()
	if err != nil {
		return Address{}, fmt.Errorf("npdu: reading address length: %w", err)
	}
	addr := Address{Network: binary.BigEndian.Uint16(netBytes[:])}
	if length > 0 {
		addr.Addr = make([]byte, length)
		if _, err := r.Read(addr.Addr); err != nil {
			return Address{}, fmt.Errorf("npdu: reading address bytes: %w", err)
		}
	}
	return addr, nil
}

// Message is a decoded NPDU: either a network-layer control message
// (MessageType/MessageData set, APDU nil) or an APDU carrier (APDU set).
type Message struct {
	Control     Control
	Destination *Address // nil if DestinationPresent is false
	Source      *Address // nil if SourcePresent is false
	HopCount    uint8    // only meaningful if Destination != nil
	MessageType MessageType
	MessageData []byte // payload of a network-layer message (e.g. network number, reject reason)
	APDU        []byte // raw APDU bytes, when Control.IsNetworkLayerMessage is false
}

// NewAPDUMessage builds an NPDU wrapping an APDU, optionally routed to dest.
func NewAPDUMessage(dest, src *Address, hopCount uint8, priority Priority, apdu []byte) *Message {
	return &Message{
		Control: Control{
			DestinationPresent: dest != nil,
			SourcePresent:      src != nil,
			Priority:           priority,
		},
		Destination: dest,
		Source:      src,
		HopCount:    hopCount,
		APDU:        apdu,
	}
}

// NewNetworkMessage builds a network-layer control message NPDU.
func NewNetworkMessage(dest, src *Address, hopCount uint8, msgType MessageType, data []byte) *Message {
	return &Message{
		Control: Control{
			IsNetworkLayerMessage: true,
			DestinationPresent:    dest != nil,
			SourcePresent:         src != nil,
			Priority:              PriorityNormal,
		},
		Destination: dest,
		Source:      src,
		HopCount:    hopCount,
		MessageType: msgType,
		MessageData: data,
	}
}

// Encode serializes the NPDU header plus payload.
func (m *Message) Encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(m.APDU)+len(m.MessageData)))
	buf.WriteByte(ProtocolVersion)
	buf.WriteByte(encodeControl(m.Control))

	if m.Control.DestinationPresent {
		if m.Destination == nil {
			return nil, fmt.Errorf("npdu: DestinationPresent set but Destination is nil")
		}
		writeAddress(buf, *m.Destination)
	}
	if m.Control.SourcePresent {
		if m.Source == nil {
			return nil, fmt.Errorf("npdu: SourcePresent set but Source is nil")
		}
		writeAddress(buf, *m.Source)
	}
	if m.Control.DestinationPresent {
		buf.WriteByte(m.HopCount)
	}

	if m.Control.IsNetworkLayerMessage {
		buf.WriteByte(byte(m.MessageType))
		buf.Write(m.MessageData)
	} else {
		buf.Write(m.APDU)
	}

	return buf.Bytes(), nil
}

// Decode parses a raw NPDU (the BVLL payload).
func Decode(raw []byte) (*Message, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("npdu: reading version: %w", err)
	}
	if version != ProtocolVersion {
		return nil, fmt.Errorf("npdu: unsupported protocol version %d", version)
	}
	controlByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("npdu: reading control byte: %w", err)
	}
	msg := &Message{Control: decodeControl(controlByte)}

	if msg.Control.DestinationPresent {
		dest, err := readAddress(r)
		if err != nil {
			return nil, err
		}
		msg.Destination = &dest
	}
	if msg.Control.SourcePresent {
		src, err := readAddress(r)
		if err != nil {
			return nil, err
		}
		msg.Source = &src
	}
	if msg.Control.DestinationPresent {
		hop, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("npdu: reading hop count: %w", err)
		}
		msg.HopCount = hop
	}

	remaining := make([]byte, r.Len())
	if _, err := r.Read(remaining); err != nil && len(remaining) > 0 {
		return nil, fmt.Errorf("npdu: reading payload: %w", err)
	}

	if msg.Control.IsNetworkLayerMessage {
		if len(remaining) < 1 {
			return nil, fmt.Errorf("npdu: network layer message missing type byte")
		}
		msg.MessageType = MessageType(remaining[0])
		msg.MessageData = remaining[1:]
	} else {
		msg.APDU = remaining
	}

	return msg, nil
}

// DecrementHopCount decrements the hop count for forwarding, returning false
// if the message must be dropped (hop count exhausted).
func (m *Message) DecrementHopCount() bool {
	if m.HopCount == 0 {
		return false
	}
	m.HopCount--
	return m.HopCount > 0
}
