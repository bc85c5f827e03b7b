package device

import (
	"github.com/freshollie/bacprop/internal/bacnet/apdu"
)

func propError(class apdu.ErrorClass, code apdu.ErrorCode) *apdu.PropertyError {
	return &apdu.PropertyError{Class: class, Code: code}
}

// readProperty resolves a single (object, property[, arrayIndex]) read
// against either this device's local-device descriptor (objectType ==
// Device, instance == sensorID) or one of its analog-value objects,
// returning the already application-tag-encoded value.
func (d *Device) readProperty(objectType uint16, instance uint32, property apdu.PropertyID, arrayIndex *uint32) ([]byte, *apdu.PropertyError) {
	switch objectType {
	case apdu.ObjectTypeDevice:
		if instance != uint32(d.sensorID) {
			return nil, propError(apdu.ErrorClassObject, apdu.ErrorCodeUnknownObject)
		}
		return d.readDeviceProperty(property, arrayIndex)
	case apdu.ObjectTypeAnalogValue:
		obj, ok := d.objects.get(instance)
		if !ok {
			return nil, propError(apdu.ErrorClassObject, apdu.ErrorCodeUnknownObject)
		}
		return readAnalogValueProperty(obj, property)
	default:
		return nil, propError(apdu.ErrorClassObject, apdu.ErrorCodeUnknownObject)
	}
}

func (d *Device) readDeviceProperty(property apdu.PropertyID, arrayIndex *uint32) ([]byte, *apdu.PropertyError) {
	w := apdu.NewWriter()
	switch property {
	case apdu.PropertyObjectIdentifier:
		w.ApplicationObjectIdentifier(apdu.ObjectTypeDevice, uint32(d.sensorID))
	case apdu.PropertyObjectName:
		w.ApplicationCharacterString(d.ObjectName())
	case apdu.PropertyObjectType:
		w.ApplicationEnumerated(uint32(apdu.ObjectTypeDevice))
	case apdu.PropertyVendorIdentifier:
		w.ApplicationUnsigned(vendorIdentifier)
	case apdu.PropertySegmentationSupported:
		w.ApplicationEnumerated(uint32(apdu.SegmentationBoth))
	case apdu.PropertyMaxAPDULengthAccepted:
		w.ApplicationUnsigned(maxAPDULengthAccepted)
	case apdu.PropertyObjectList:
		return d.readObjectList(arrayIndex)
	default:
		return nil, propError(apdu.ErrorClassProperty, apdu.ErrorCodeUnknownProperty)
	}
	return w.Bytes(), nil
}

// readObjectList implements the propertyArrayIndex semantics from spec
// §4.4: index 0 returns the array length, 1..n returns that element,
// anything else is invalid-array-index. No index returns the whole list.
func (d *Device) readObjectList(arrayIndex *uint32) ([]byte, *apdu.PropertyError) {
	objs := d.objects.list()
	n := uint32(len(objs)) + 1 // +1 for the device object itself

	if arrayIndex != nil {
		idx := *arrayIndex
		w := apdu.NewWriter()
		switch {
		case idx == 0:
			w.ApplicationUnsigned(uint64(n))
			return w.Bytes(), nil
		case idx == 1:
			w.ApplicationObjectIdentifier(apdu.ObjectTypeDevice, uint32(d.sensorID))
			return w.Bytes(), nil
		case idx >= 2 && idx <= n:
			obj := objs[idx-2]
			w.ApplicationObjectIdentifier(apdu.ObjectTypeAnalogValue, obj.index)
			return w.Bytes(), nil
		default:
			return nil, propError(apdu.ErrorClassProperty, apdu.ErrorCodeInvalidArrayIndex)
		}
	}

	w := apdu.NewWriter()
	w.ApplicationObjectIdentifier(apdu.ObjectTypeDevice, uint32(d.sensorID))
	for _, obj := range objs {
		w.ApplicationObjectIdentifier(apdu.ObjectTypeAnalogValue, obj.index)
	}
	return w.Bytes(), nil
}

func readAnalogValueProperty(obj *analogValue, property apdu.PropertyID) ([]byte, *apdu.PropertyError) {
	w := apdu.NewWriter()
	switch property {
	case apdu.PropertyObjectIdentifier:
		w.ApplicationObjectIdentifier(apdu.ObjectTypeAnalogValue, obj.index)
	case apdu.PropertyObjectName:
		w.ApplicationCharacterString(obj.name)
	case apdu.PropertyObjectType:
		w.ApplicationEnumerated(uint32(apdu.ObjectTypeAnalogValue))
	case apdu.PropertyPresentValue:
		w.ApplicationReal(obj.presentValue)
	case apdu.PropertyStatusFlags:
		w.ApplicationBitString(obj.statusFlags())
	default:
		return nil, propError(apdu.ErrorClassProperty, apdu.ErrorCodeUnknownProperty)
	}
	return w.Bytes(), nil
}
