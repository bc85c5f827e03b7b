package apdu

import "fmt"

// ObjectIdentifier is a (object-type, instance) pair, as carried by both
// application and context tags throughout the services below.
type ObjectIdentifier struct {
	Type     uint16
	Instance uint32
}

// --- Who-Is / I-Am (clause 16.9/16.10) ---

// WhoIsRequest optionally restricts discovery to a device-instance range.
type WhoIsRequest struct {
	HasRange bool
	Low      uint32
	High     uint32
}

// Encode serializes a Who-Is request's service-data (context tags 0/1 if a
// range is present; empty otherwise, meaning "any device").
func (w WhoIsRequest) Encode() []byte {
	if !w.HasRange {
		return nil
	}
	writer := NewWriter()
	writer.ContextUnsigned(0, uint64(w.Low))
	writer.ContextUnsigned(1, uint64(w.High))
	return writer.Bytes()
}

// DecodeWhoIsRequest parses a Who-Is request's service data.
func DecodeWhoIsRequest(data []byte) (WhoIsRequest, error) {
	if len(data) == 0 {
		return WhoIsRequest{}, nil
	}
	r := NewReader(data)
	low, err := r.ContextUnsigned(0)
	if err != nil {
		return WhoIsRequest{}, fmt.Errorf("apdu: who-is low limit: %w", err)
	}
	high, err := r.ContextUnsigned(1)
	if err != nil {
		return WhoIsRequest{}, fmt.Errorf("apdu: who-is high limit: %w", err)
	}
	return WhoIsRequest{HasRange: true, Low: uint32(low), High: uint32(high)}, nil
}

// InRange reports whether instance satisfies the request (an absent range
// matches everything, per spec.md §4.4).
func (w WhoIsRequest) InRange(instance uint32) bool {
	if !w.HasRange {
		return true
	}
	return instance >= w.Low && instance <= w.High
}

// IAmRequest is the device-identification broadcast (clause 16.10.1.1). Its
// parameters are application-tagged, not context-tagged — unlike most other
// services — because the sequence has no optional fields.
type IAmRequest struct {
	Device                ObjectIdentifier
	MaxAPDULengthAccepted uint32
	Segmentation          Segmentation
	VendorID              uint32
}

func (i IAmRequest) Encode() []byte {
	w := NewWriter()
	w.ApplicationObjectIdentifier(i.Device.Type, i.Device.Instance)
	w.ApplicationUnsigned(uint64(i.MaxAPDULengthAccepted))
	w.ApplicationEnumerated(uint32(i.Segmentation))
	w.ApplicationUnsigned(uint64(i.VendorID))
	return w.Bytes()
}

func DecodeIAmRequest(data []byte) (IAmRequest, error) {
	r := NewReader(data)
	objType, instance, err := r.ApplicationObjectIdentifier()
	if err != nil {
		return IAmRequest{}, fmt.Errorf("apdu: i-am device id: %w", err)
	}
	maxLen, err := r.ApplicationUnsigned()
	if err != nil {
		return IAmRequest{}, fmt.Errorf("apdu: i-am max-apdu-length: %w", err)
	}
	seg, err := r.ApplicationEnumerated()
	if err != nil {
		return IAmRequest{}, fmt.Errorf("apdu: i-am segmentation: %w", err)
	}
	vendor, err := r.ApplicationUnsigned()
	if err != nil {
		return IAmRequest{}, fmt.Errorf("apdu: i-am vendor id: %w", err)
	}
	return IAmRequest{
		Device:                ObjectIdentifier{Type: objType, Instance: instance},
		MaxAPDULengthAccepted: uint32(maxLen),
		Segmentation:          Segmentation(seg),
		VendorID:              uint32(vendor),
	}, nil
}

// --- ReadProperty (clause 15.5) ---

type ReadPropertyRequest struct {
	Object     ObjectIdentifier
	Property   PropertyID
	ArrayIndex *uint32
}

func DecodeReadPropertyRequest(data []byte) (ReadPropertyRequest, error) {
	r := NewReader(data)
	objType, instance, err := r.ContextObjectIdentifier(0)
	if err != nil {
		return ReadPropertyRequest{}, fmt.Errorf("apdu: read-property object id: %w", err)
	}
	prop, err := r.ContextUnsigned(1)
	if err != nil {
		return ReadPropertyRequest{}, fmt.Errorf("apdu: read-property property id: %w", err)
	}
	req := ReadPropertyRequest{
		Object:   ObjectIdentifier{Type: objType, Instance: instance},
		Property: PropertyID(prop),
	}
	if !r.AtEnd() {
		if tagNum, ok := r.ContextTagNumber(); ok && tagNum == 2 {
			idx, err := r.ContextUnsigned(2)
			if err != nil {
				return ReadPropertyRequest{}, fmt.Errorf("apdu: read-property array index: %w", err)
			}
			v := uint32(idx)
			req.ArrayIndex = &v
		}
	}
	return req, nil
}

// ReadPropertyAck carries the already-tag-encoded property value(s)
// (Value may hold more than one application-tagged primitive when the
// property is itself a list, e.g. object-list).
type ReadPropertyAck struct {
	Object     ObjectIdentifier
	Property   PropertyID
	ArrayIndex *uint32
	Value      []byte
}

func (a ReadPropertyAck) Encode() []byte {
	w := NewWriter()
	w.ContextObjectIdentifier(0, a.Object.Type, a.Object.Instance)
	w.ContextEnumerated(1, uint32(a.Property))
	if a.ArrayIndex != nil {
		w.ContextUnsigned(2, uint64(*a.ArrayIndex))
	}
	w.OpeningTag(3)
	w.Raw(a.Value)
	w.ClosingTag(3)
	return w.Bytes()
}

// --- ReadPropertyMultiple (clause 15.7) ---

type PropertyReference struct {
	Property   PropertyID
	ArrayIndex *uint32
}

type ReadAccessSpec struct {
	Object     ObjectIdentifier
	References []PropertyReference
}

type ReadPropertyMultipleRequest struct {
	Specs []ReadAccessSpec
}

func DecodeReadPropertyMultipleRequest(data []byte) (ReadPropertyMultipleRequest, error) {
	r := NewReader(data)
	var specs []ReadAccessSpec
	for !r.AtEnd() {
		objType, instance, err := r.ContextObjectIdentifier(0)
		if err != nil {
			return ReadPropertyMultipleRequest{}, fmt.Errorf("apdu: rpm object id: %w", err)
		}
		spec := ReadAccessSpec{Object: ObjectIdentifier{Type: objType, Instance: instance}}

		if err := r.ConsumeOpeningTag(1); err != nil {
			return ReadPropertyMultipleRequest{}, fmt.Errorf("apdu: rpm property list open: %w", err)
		}
		for !r.IsClosingTag(1) {
			prop, err := r.ContextUnsigned(0)
			if err != nil {
				return ReadPropertyMultipleRequest{}, fmt.Errorf("apdu: rpm property id: %w", err)
			}
			ref := PropertyReference{Property: PropertyID(prop)}
			if tagNum, ok := r.ContextTagNumber(); ok && tagNum == 1 && !r.IsClosingTag(1) {
				idx, err := r.ContextUnsigned(1)
				if err != nil {
					return ReadPropertyMultipleRequest{}, fmt.Errorf("apdu: rpm array index: %w", err)
				}
				v := uint32(idx)
				ref.ArrayIndex = &v
			}
			spec.References = append(spec.References, ref)
		}
		if err := r.ConsumeClosingTag(1); err != nil {
			return ReadPropertyMultipleRequest{}, fmt.Errorf("apdu: rpm property list close: %w", err)
		}
		specs = append(specs, spec)
	}
	return ReadPropertyMultipleRequest{Specs: specs}, nil
}

// PropertyResult is either a successful value or an error, per object+property.
type PropertyResult struct {
	Property   PropertyID
	ArrayIndex *uint32
	Value      []byte // set when Err is nil
	Err        *PropertyError
}

type PropertyError struct {
	Class ErrorClass
	Code  ErrorCode
}

type ReadAccessResult struct {
	Object  ObjectIdentifier
	Results []PropertyResult
}

type ReadPropertyMultipleAck struct {
	Results []ReadAccessResult
}

func (a ReadPropertyMultipleAck) Encode() []byte {
	w := NewWriter()
	for _, result := range a.Results {
		w.ContextObjectIdentifier(0, result.Object.Type, result.Object.Instance)
		w.OpeningTag(1)
		for _, pr := range result.Results {
			w.ContextEnumerated(2, uint32(pr.Property))
			if pr.ArrayIndex != nil {
				w.ContextUnsigned(3, uint64(*pr.ArrayIndex))
			}
			if pr.Err != nil {
				w.OpeningTag(5)
				w.ApplicationEnumerated(uint32(pr.Err.Class))
				w.ApplicationEnumerated(uint32(pr.Err.Code))
				w.ClosingTag(5)
			} else {
				w.OpeningTag(4)
				w.Raw(pr.Value)
				w.ClosingTag(4)
			}
		}
		w.ClosingTag(1)
	}
	return w.Bytes()
}
