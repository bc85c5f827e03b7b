package apdu

// ObjectType identifies a BACnet object kind (clause 12.1.1). BacProp only
// ever exposes the two kinds named in spec.md §3.
const (
	ObjectTypeAnalogValue uint16 = 2
	ObjectTypeDevice      uint16 = 8
)

// PropertyID identifies a BACnet object property (clause 12.1.3), restricted
// to the subset this bridge's device/analog-value objects expose.
type PropertyID uint32

const (
	PropertyObjectIdentifier       PropertyID = 75
	PropertyObjectList             PropertyID = 76
	PropertyObjectName             PropertyID = 77
	PropertyObjectType             PropertyID = 79
	PropertyPresentValue           PropertyID = 85
	PropertyStatusFlags            PropertyID = 111
	PropertySegmentationSupported  PropertyID = 107
	PropertyVendorIdentifier       PropertyID = 120
	PropertyMaxAPDULengthAccepted  PropertyID = 62
	PropertyAll                    PropertyID = 8
	PropertyRequired               PropertyID = 105
	PropertyOptional               PropertyID = 80
)

// Segmentation is the BACnet enumerated Segmentation type (clause 21).
type Segmentation uint32

const (
	SegmentationBoth      Segmentation = 0
	SegmentationTransmit  Segmentation = 1
	SegmentationReceive   Segmentation = 2
	SegmentationNone      Segmentation = 3
)

// ErrorClass and ErrorCode (clause 18) for the handful of Error-PDU cases
// this bridge produces.
type ErrorClass uint32
type ErrorCode uint32

const (
	ErrorClassObject     ErrorClass = 1
	ErrorClassProperty   ErrorClass = 2
)

const (
	ErrorCodeUnknownObject      ErrorCode = 31
	ErrorCodeUnknownProperty    ErrorCode = 32
	ErrorCodeInvalidArrayIndex  ErrorCode = 42
)

// RequiredProperties lists the properties every device or analog-value
// object must report for the BACnet-defined "required" property-reference
// shorthand used in ReadPropertyMultiple.
func RequiredProperties(objectType uint16) []PropertyID {
	switch objectType {
	case ObjectTypeDevice:
		return []PropertyID{
			PropertyObjectIdentifier,
			PropertyObjectName,
			PropertyObjectType,
			PropertyVendorIdentifier,
			PropertySegmentationSupported,
			PropertyMaxAPDULengthAccepted,
			PropertyObjectList,
		}
	case ObjectTypeAnalogValue:
		return []PropertyID{
			PropertyObjectIdentifier,
			PropertyObjectName,
			PropertyObjectType,
			PropertyPresentValue,
			PropertyStatusFlags,
		}
	default:
		return nil
	}
}

// OptionalProperties is empty for both object kinds BacProp implements —
// every property either of them exposes is required.
func OptionalProperties(objectType uint16) []PropertyID {
	return nil
}

// AllProperties is the concatenation used to expand the "all" shorthand.
func AllProperties(objectType uint16) []PropertyID {
	return append(RequiredProperties(objectType), OptionalProperties(objectType)...)
}
