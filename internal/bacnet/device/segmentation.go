package device

import (
	"fmt"

	"github.com/freshollie/bacprop/internal/bacnet/apdu"
	"github.com/freshollie/bacprop/internal/bacnet/npdu"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
)

// segmentedTransfer tracks an in-progress segmented ComplexAck, addressed
// to one requestor. Segments are pre-encoded so each window just replays
// already-built frames.
type segmentedTransfer struct {
	dest        *npdu.Address
	invokeID    uint8
	segments    [][]byte
	windowSize  uint8
	nextToSend  int
	lastWindowEnd int
}

func segmentKey(dest *npdu.Address, invokeID uint8) string {
	if dest == nil {
		return fmt.Sprintf("broadcast/%d", invokeID)
	}
	return fmt.Sprintf("%d/%x/%d", dest.Network, dest.Addr, invokeID)
}

// sendComplexAck serializes serviceData as a ComplexAck, segmenting it if
// it exceeds the requestor's negotiated MaxAPDULengthAccepted (spec §4.4).
func (d *Device) sendComplexAck(f vlan.Frame, req *apdu.ConfirmedRequest, service apdu.ConfirmedService, serviceData []byte) {
	maxLen := req.MaxAPDULengthAccepted
	if maxLen <= 0 {
		maxLen = maxAPDULengthAccepted
	}

	if len(serviceData) <= maxLen-ackHeaderOverhead {
		ack := &apdu.ComplexAck{InvokeID: req.InvokeID, ServiceChoice: service, ServiceData: serviceData}
		d.sendToRequestor(f, ack.Encode())
		return
	}

	if !req.SegmentedResponseAccepted {
		errPDU := &apdu.ErrorPDU{
			InvokeID:      req.InvokeID,
			ServiceChoice: service,
			Class:         apdu.ErrorClassProperty,
			Code:          apdu.ErrorCodeUnknownProperty,
		}
		d.sendToRequestor(f, errPDU.Encode())
		return
	}

	chunkSize := maxLen - segmentHeaderOverhead
	var segments [][]byte
	for offset := 0; offset < len(serviceData); offset += chunkSize {
		end := offset + chunkSize
		more := true
		if end >= len(serviceData) {
			end = len(serviceData)
			more = false
		}
		ack := &apdu.ComplexAck{
			Segmented:      true,
			MoreFollows:    more,
			InvokeID:       req.InvokeID,
			SequenceNumber: uint8(len(segments) % 256),
			ProposedWindowSize: req.ProposedWindowSize,
			ServiceChoice:  service,
			ServiceData:    serviceData[offset:end],
		}
		segments = append(segments, ack.Encode())
	}

	windowSize := req.ProposedWindowSize
	if windowSize == 0 {
		windowSize = 1
	}

	transfer := &segmentedTransfer{
		dest:       f.NPDU.Source,
		invokeID:   req.InvokeID,
		segments:   segments,
		windowSize: windowSize,
	}

	d.segMu.Lock()
	d.segments[segmentKey(transfer.dest, transfer.invokeID)] = transfer
	d.segMu.Unlock()

	d.sendWindow(f, transfer)
}

// sendWindow transmits up to windowSize segments starting at nextToSend.
func (d *Device) sendWindow(f vlan.Frame, t *segmentedTransfer) {
	end := t.nextToSend + int(t.windowSize)
	if end > len(t.segments) {
		end = len(t.segments)
	}
	for i := t.nextToSend; i < end; i++ {
		d.sendToRequestor(f, t.segments[i])
	}
	t.lastWindowEnd = end
}

// handleSegmentAck advances a pending segmented transfer when the peer
// acknowledges receipt of the current window.
func (d *Device) handleSegmentAck(f vlan.Frame, ack *apdu.SegmentAck) {
	key := segmentKey(f.NPDU.Source, ack.InvokeID)
	d.segMu.Lock()
	transfer, ok := d.segments[key]
	d.segMu.Unlock()
	if !ok {
		return
	}

	if ack.NegativeAck {
		transfer.nextToSend = int(ack.SequenceNumber) + 1
	} else {
		transfer.nextToSend = transfer.lastWindowEnd
	}

	if transfer.nextToSend >= len(transfer.segments) {
		d.segMu.Lock()
		delete(d.segments, key)
		d.segMu.Unlock()
		return
	}

	d.sendWindow(f, transfer)
}
