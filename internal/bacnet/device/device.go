// Package device implements the per-sensor BACnet device application: the
// Who-Is/I-Am responder, the Read[Multiple]Property responder, and the
// dynamic analog-value object set described in spec §4.4/§4.5. It is
// grounded on the original bacpypes Sensor/_VLANApplication pairing
// (bacprop/bacnet/sensor.py), re-expressed as a vlan.Node.
package device

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/bacnet/apdu"
	"github.com/freshollie/bacprop/internal/bacnet/npdu"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
	"github.com/freshollie/bacprop/internal/logger"
)

const (
	maxAPDULengthAccepted = 1024
	vendorIdentifier      = 15
	defaultHopCount       = 255
	maxSegmentsAccepted   = 64
	segmentHeaderOverhead = 5 // type/flags, invoke-id, sequence, window, service-choice
	ackHeaderOverhead     = 3 // type/flags, invoke-id, service-choice
)

// Device is one virtual sensor's BACnet device application, bound to a VLAN
// node address. It is safe for concurrent use: reads/writes to its object
// table are synchronized, matching the single-writer/multi-reader
// discipline in spec §5.
type Device struct {
	sensorID  int
	vlanAddr  vlan.Address
	lan       *vlan.LAN
	objects   *objectTable
	log       *zap.Logger

	mu          sync.Mutex
	lastUpdated time.Time
	fault       bool

	segMu    sync.Mutex
	segments map[string]*segmentedTransfer
}

var _ vlan.Node = (*Device)(nil)

// New creates a device application bound to the given VLAN address and
// attaches it to the LAN.
func New(sensorID int, vlanAddr vlan.Address, lan *vlan.LAN) *Device {
	d := &Device{
		sensorID: sensorID,
		vlanAddr: vlanAddr,
		lan:      lan,
		objects:  newObjectTable(),
		log:      logger.WithDevice(sensorID, int(vlanAddr)),
		segments: make(map[string]*segmentedTransfer),
	}
	lan.Attach(d)
	return d
}

// Address implements vlan.Node.
func (d *Device) Address() vlan.Address { return d.vlanAddr }

// SensorID returns the sensor this device represents.
func (d *Device) SensorID() int { return d.sensorID }

// ObjectName is the human-readable device name, per spec §3.
func (d *Device) ObjectName() string { return fmt.Sprintf("Sensor %d", d.sensorID) }

// SetValues rebuilds the object set on schema change and writes values,
// implementing spec §4.5's setValues(device, record).
func (d *Device) SetValues(values map[string]float32) {
	d.objects.setValues(values)

	d.mu.Lock()
	d.lastUpdated = time.Now()
	wasFault := d.fault
	d.fault = false
	d.mu.Unlock()

	if wasFault {
		d.objects.setFault(false)
		d.log.Info("fault cleared")
	}
}

// ObjectInfo is a read-only snapshot of one analog-value object, exposed
// for logging and tests that shouldn't reach into the unexported object
// table directly.
type ObjectInfo struct {
	Index        uint32
	Name         string
	PresentValue float32
}

// ObjectList returns the device's current analog-value objects in
// object-identifier index order.
func (d *Device) ObjectList() []ObjectInfo {
	objs := d.objects.list()
	out := make([]ObjectInfo, len(objs))
	for i, obj := range objs {
		out[i] = ObjectInfo{Index: obj.index, Name: obj.name, PresentValue: obj.presentValue}
	}
	return out
}

// LastUpdated returns the last time SetValues was called.
func (d *Device) LastUpdated() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUpdated
}

// HasFault reports the device's current fault state.
func (d *Device) HasFault() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// MarkFault sets the fault bit on the device and every object (spec §4.9).
func (d *Device) MarkFault() {
	d.mu.Lock()
	already := d.fault
	d.fault = true
	d.mu.Unlock()
	if !already {
		d.objects.setFault(true)
		d.log.Warn("sensor marked stale")
	}
}

// Deliver implements vlan.Node: an NPDU addressed to this device.
func (d *Device) Deliver(f vlan.Frame) {
	if f.NPDU.Control.IsNetworkLayerMessage {
		return // devices don't participate in network-layer control traffic
	}
	parsed, err := apdu.Decode(f.NPDU.APDU)
	if err != nil {
		d.log.Debug("dropping malformed apdu", zap.Error(err))
		return
	}

	switch m := parsed.(type) {
	case *apdu.UnconfirmedRequest:
		d.handleUnconfirmed(f, m)
	case *apdu.ConfirmedRequest:
		d.handleConfirmed(f, m)
	case *apdu.SegmentAck:
		d.handleSegmentAck(f, m)
	}
}

func (d *Device) handleUnconfirmed(f vlan.Frame, m *apdu.UnconfirmedRequest) {
	if m.ServiceChoice != apdu.ServiceUnconfirmedWhoIs {
		return
	}
	req, err := apdu.DecodeWhoIsRequest(m.ServiceData)
	if err != nil {
		d.log.Debug("dropping malformed who-is", zap.Error(err))
		return
	}
	if !req.InRange(uint32(d.sensorID)) {
		return
	}
	d.sendIAm(f)
}

func (d *Device) sendIAm(f vlan.Frame) {
	iam := apdu.IAmRequest{
		Device:                apdu.ObjectIdentifier{Type: apdu.ObjectTypeDevice, Instance: uint32(d.sensorID)},
		MaxAPDULengthAccepted: maxAPDULengthAccepted,
		Segmentation:          apdu.SegmentationBoth,
		VendorID:              vendorIdentifier,
	}
	unconfirmed := &apdu.UnconfirmedRequest{
		ServiceChoice: apdu.ServiceUnconfirmedIAm,
		ServiceData:   iam.Encode(),
	}
	d.sendToRequestor(f, unconfirmed.Encode())
}

// sendToRequestor wraps an already-framed APDU in an NPDU addressed back to
// the original requestor (as recorded in the inbound frame's NPDU source)
// and forwards it onto the VLAN toward the router.
func (d *Device) sendToRequestor(f vlan.Frame, apduBytes []byte) {
	dest := f.NPDU.Source
	msg := npdu.NewAPDUMessage(dest, nil, defaultHopCount, npdu.PriorityNormal, apduBytes)
	d.lan.Send(vlan.Frame{
		Source:      d.vlanAddr,
		Destination: routerAddress,
		NPDU:        msg,
	})
}

// routerAddress is the fixed VLAN address of this bridge's router node.
// Devices never address each other directly — every reply is destined for
// an off-VLAN requestor and must transit the router.
const routerAddress = vlan.Address(1)

func (d *Device) handleConfirmed(f vlan.Frame, m *apdu.ConfirmedRequest) {
	switch m.ServiceChoice {
	case apdu.ServiceConfirmedReadProperty:
		d.handleReadProperty(f, m)
	case apdu.ServiceConfirmedReadPropertyMultiple:
		d.handleReadPropertyMultiple(f, m)
	default:
		reject := &apdu.RejectPDU{InvokeID: m.InvokeID, Reason: apdu.RejectReasonUnrecognizedService}
		d.sendToRequestor(f, reject.Encode())
	}
}

func (d *Device) handleReadProperty(f vlan.Frame, m *apdu.ConfirmedRequest) {
	req, err := apdu.DecodeReadPropertyRequest(m.ServiceData)
	if err != nil {
		d.log.Debug("dropping malformed read-property request", zap.Error(err))
		return
	}

	value, propErr := d.readProperty(req.Object.Type, req.Object.Instance, req.Property, req.ArrayIndex)
	if propErr != nil {
		errPDU := &apdu.ErrorPDU{
			InvokeID:      m.InvokeID,
			ServiceChoice: apdu.ServiceConfirmedReadProperty,
			Class:         propErr.Class,
			Code:          propErr.Code,
		}
		d.sendToRequestor(f, errPDU.Encode())
		return
	}

	ack := apdu.ReadPropertyAck{
		Object:     req.Object,
		Property:   req.Property,
		ArrayIndex: req.ArrayIndex,
		Value:      value,
	}
	d.sendComplexAck(f, m, apdu.ServiceConfirmedReadProperty, ack.Encode())
}

func (d *Device) handleReadPropertyMultiple(f vlan.Frame, m *apdu.ConfirmedRequest) {
	req, err := apdu.DecodeReadPropertyMultipleRequest(m.ServiceData)
	if err != nil {
		d.log.Debug("dropping malformed rpm request", zap.Error(err))
		return
	}

	var results []apdu.ReadAccessResult
	for _, spec := range req.Specs {
		result := apdu.ReadAccessResult{Object: spec.Object}
		for _, ref := range expandPropertyReferences(spec.Object.Type, spec.References) {
			value, propErr := d.readProperty(spec.Object.Type, spec.Object.Instance, ref.Property, ref.ArrayIndex)
			if propErr != nil {
				result.Results = append(result.Results, apdu.PropertyResult{Property: ref.Property, ArrayIndex: ref.ArrayIndex, Err: propErr})
				continue
			}
			result.Results = append(result.Results, apdu.PropertyResult{Property: ref.Property, ArrayIndex: ref.ArrayIndex, Value: value})
		}
		results = append(results, result)
	}

	ack := apdu.ReadPropertyMultipleAck{Results: results}
	d.sendComplexAck(f, m, apdu.ServiceConfirmedReadPropertyMultiple, ack.Encode())
}

// expandPropertyReferences turns the all/required/optional shorthand
// identifiers into the object's declared property list (spec §4.4).
func expandPropertyReferences(objectType uint16, refs []apdu.PropertyReference) []apdu.PropertyReference {
	var out []apdu.PropertyReference
	for _, ref := range refs {
		switch ref.Property {
		case apdu.PropertyAll:
			for _, p := range apdu.AllProperties(objectType) {
				out = append(out, apdu.PropertyReference{Property: p})
			}
		case apdu.PropertyRequired:
			for _, p := range apdu.RequiredProperties(objectType) {
				out = append(out, apdu.PropertyReference{Property: p})
			}
		case apdu.PropertyOptional:
			for _, p := range apdu.OptionalProperties(objectType) {
				out = append(out, apdu.PropertyReference{Property: p})
			}
		default:
			out = append(out, ref)
		}
	}
	return out
}
