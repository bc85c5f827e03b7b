package apdu

import (
	"bytes"
	"fmt"
)

// PDUType is the 4-bit APDU type in the top nibble of the first octet
// (clause 20.1).
type PDUType uint8

const (
	PDUTypeConfirmedRequest   PDUType = 0x0
	PDUTypeUnconfirmedRequest PDUType = 0x1
	PDUTypeSimpleAck          PDUType = 0x2
	PDUTypeComplexAck         PDUType = 0x3
	PDUTypeSegmentAck         PDUType = 0x4
	PDUTypeError              PDUType = 0x5
	PDUTypeReject             PDUType = 0x6
	PDUTypeAbort              PDUType = 0x7
)

// Unconfirmed service choice (clause 20.1.3).
type UnconfirmedService uint8

const (
	ServiceUnconfirmedIAm  UnconfirmedService = 0
	ServiceUnconfirmedIHave UnconfirmedService = 1
	ServiceUnconfirmedWhoIs UnconfirmedService = 8
)

// Confirmed service choice (clause 20.1.2) — only the two read services
// this bridge answers.
type ConfirmedService uint8

const (
	ServiceConfirmedReadProperty         ConfirmedService = 12
	ServiceConfirmedReadPropertyMultiple ConfirmedService = 14
)

// maxAPDULengthCode maps an accepted max-APDU length to its 4-bit code
// (clause 20.1.2.4, Table 20-4 boundary values).
func maxAPDULengthCode(length int) uint8 {
	switch {
	case length >= 1476:
		return 5
	case length >= 1024:
		return 4
	case length >= 480:
		return 3
	case length >= 206:
		return 2
	case length >= 128:
		return 1
	default:
		return 0
	}
}

func maxAPDULengthFromCode(code uint8) int {
	switch code {
	case 5:
		return 1476
	case 4:
		return 1024
	case 3:
		return 480
	case 2:
		return 206
	case 1:
		return 128
	default:
		return 50
	}
}

// maxSegmentsCode maps "unlimited" segmentation capability to its 3-bit code.
func maxSegmentsCode(unlimited bool) uint8 {
	if unlimited {
		return 7 // "more than 64 segments accepted"
	}
	return 0 // unspecified / not segmented
}

// maxSegmentsFromCode maps the 3-bit max-segments-accepted code back to a
// count (clause 20.1.2.4, Table 20-4); code 7 means "more than 64".
func maxSegmentsFromCode(code uint8) int {
	switch code {
	case 0:
		return 0
	case 7:
		return 65
	default:
		return 1 << uint(code)
	}
}

// ConfirmedRequest is a decoded Confirmed-Request-PDU. Segmentation fields
// are only populated when Segmented is true.
type ConfirmedRequest struct {
	Segmented                 bool
	MoreFollows                bool
	SegmentedResponseAccepted bool
	MaxSegmentsAccepted       int
	MaxAPDULengthAccepted     int
	InvokeID                  uint8
	SequenceNumber            uint8
	ProposedWindowSize        uint8
	ServiceChoice             ConfirmedService
	ServiceData               []byte
}

// Encode serializes a (non-segmented, in practice — BacProp never needs to
// send a confirmed request) ConfirmedRequest.
func (m *ConfirmedRequest) Encode() []byte {
	buf := bytes.NewBuffer(nil)
	var b0 byte = byte(PDUTypeConfirmedRequest) << 4
	if m.Segmented {
		b0 |= 0x08
	}
	if m.MoreFollows {
		b0 |= 0x04
	}
	if m.SegmentedResponseAccepted {
		b0 |= 0x02
	}
	buf.WriteByte(b0)
	buf.WriteByte(maxSegmentsCode(m.MaxSegmentsAccepted > 64)<<4 | maxAPDULengthCode(m.MaxAPDULengthAccepted))
	buf.WriteByte(m.InvokeID)
	if m.Segmented {
		buf.WriteByte(m.SequenceNumber)
		buf.WriteByte(m.ProposedWindowSize)
	}
	buf.WriteByte(byte(m.ServiceChoice))
	buf.Write(m.ServiceData)
	return buf.Bytes()
}

func decodeConfirmedRequest(data []byte) (*ConfirmedRequest, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("apdu: confirmed-request too short")
	}
	segmented := data[0]&0x08 != 0
	m := &ConfirmedRequest{
		Segmented:                 segmented,
		MoreFollows:               data[0]&0x04 != 0,
		SegmentedResponseAccepted: data[0]&0x02 != 0,
		MaxSegmentsAccepted:       maxSegmentsFromCode(data[1] >> 4),
		MaxAPDULengthAccepted:     maxAPDULengthFromCode(data[1] & 0x0F),
		InvokeID:                  data[2],
	}
	idx := 3
	if segmented {
		if len(data) < idx+2 {
			return nil, fmt.Errorf("apdu: truncated segmented confirmed-request")
		}
		m.SequenceNumber = data[idx]
		m.ProposedWindowSize = data[idx+1]
		idx += 2
	}
	if len(data) < idx+1 {
		return nil, fmt.Errorf("apdu: confirmed-request missing service choice")
	}
	m.ServiceChoice = ConfirmedService(data[idx])
	idx++
	m.ServiceData = data[idx:]
	return m, nil
}

// UnconfirmedRequest is a decoded Unconfirmed-Request-PDU.
type UnconfirmedRequest struct {
	ServiceChoice UnconfirmedService
	ServiceData   []byte
}

func (m *UnconfirmedRequest) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(m.ServiceData)))
	buf.WriteByte(byte(PDUTypeUnconfirmedRequest) << 4)
	buf.WriteByte(byte(m.ServiceChoice))
	buf.Write(m.ServiceData)
	return buf.Bytes()
}

func decodeUnconfirmedRequest(data []byte) (*UnconfirmedRequest, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("apdu: unconfirmed-request too short")
	}
	return &UnconfirmedRequest{
		ServiceChoice: UnconfirmedService(data[1]),
		ServiceData:   data[2:],
	}, nil
}

// SimpleAck acknowledges a confirmed service with no return data.
type SimpleAck struct {
	InvokeID      uint8
	ServiceChoice ConfirmedService
}

func (m *SimpleAck) Encode() []byte {
	return []byte{byte(PDUTypeSimpleAck) << 4, m.InvokeID, byte(m.ServiceChoice)}
}

// ComplexAck acknowledges a confirmed service carrying return data, and may
// be segmented if ServiceData exceeds the negotiated APDU size.
type ComplexAck struct {
	Segmented          bool
	MoreFollows        bool
	InvokeID           uint8
	SequenceNumber     uint8
	ProposedWindowSize uint8
	ServiceChoice      ConfirmedService
	ServiceData        []byte
}

func (m *ComplexAck) Encode() []byte {
	buf := bytes.NewBuffer(nil)
	var b0 byte = byte(PDUTypeComplexAck) << 4
	if m.Segmented {
		b0 |= 0x08
	}
	if m.MoreFollows {
		b0 |= 0x04
	}
	buf.WriteByte(b0)
	buf.WriteByte(m.InvokeID)
	if m.Segmented {
		buf.WriteByte(m.SequenceNumber)
		buf.WriteByte(m.ProposedWindowSize)
	}
	buf.WriteByte(byte(m.ServiceChoice))
	buf.Write(m.ServiceData)
	return buf.Bytes()
}

// SegmentAck acknowledges receipt of one or more segments.
type SegmentAck struct {
	NegativeAck      bool
	Server           bool
	InvokeID         uint8
	SequenceNumber   uint8
	ActualWindowSize uint8
}

func (m *SegmentAck) Encode() []byte {
	var b0 byte = byte(PDUTypeSegmentAck) << 4
	if m.NegativeAck {
		b0 |= 0x02
	}
	if m.Server {
		b0 |= 0x01
	}
	return []byte{b0, m.InvokeID, m.SequenceNumber, m.ActualWindowSize}
}

func decodeSegmentAck(data []byte) (*SegmentAck, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("apdu: segment-ack too short")
	}
	return &SegmentAck{
		NegativeAck:      data[0]&0x02 != 0,
		Server:           data[0]&0x01 != 0,
		InvokeID:         data[1],
		SequenceNumber:   data[2],
		ActualWindowSize: data[3],
	}, nil
}

// ErrorPDU reports a confirmed-service failure with a typed class/code.
type ErrorPDU struct {
	InvokeID      uint8
	ServiceChoice ConfirmedService
	Class         ErrorClass
	Code          ErrorCode
}

func (m *ErrorPDU) Encode() []byte {
	w := NewWriter()
	w.ApplicationEnumerated(uint32(m.Class))
	w.ApplicationEnumerated(uint32(m.Code))
	buf := bytes.NewBuffer([]byte{byte(PDUTypeError) << 4, m.InvokeID, byte(m.ServiceChoice)})
	buf.Write(w.Bytes())
	return buf.Bytes()
}

// RejectReasonCode (clause 20.1.2.3).
type RejectReasonCode uint8

const (
	RejectReasonOther                RejectReasonCode = 0
	RejectReasonUnrecognizedService  RejectReasonCode = 9
)

// RejectPDU rejects a malformed confirmed request outright.
type RejectPDU struct {
	InvokeID uint8
	Reason   RejectReasonCode
}

func (m *RejectPDU) Encode() []byte {
	return []byte{byte(PDUTypeReject) << 4, m.InvokeID, byte(m.Reason)}
}

// Decode parses a raw APDU and returns one of *ConfirmedRequest,
// *UnconfirmedRequest or *SegmentAck depending on the leading PDU type
// nibble. Every other PDU type is returned as an error.
func Decode(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("apdu: empty PDU")
	}
	switch PDUType(data[0] >> 4) {
	case PDUTypeConfirmedRequest:
		return decodeConfirmedRequest(data)
	case PDUTypeUnconfirmedRequest:
		return decodeUnconfirmedRequest(data)
	case PDUTypeSegmentAck:
		return decodeSegmentAck(data)
	default:
		return nil, fmt.Errorf("apdu: unsupported PDU type %d for an inbound message to this device", data[0]>>4)
	}
}
