package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshollie/bacprop/internal/bacnet/apdu"
	"github.com/freshollie/bacprop/internal/bacnet/npdu"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
)

type capturingRouterNode struct {
	addr    vlan.Address
	got     chan vlan.Frame
}

func newCapturingRouterNode() *capturingRouterNode {
	return &capturingRouterNode{addr: routerAddress, got: make(chan vlan.Frame, 8)}
}

func (n *capturingRouterNode) Address() vlan.Address { return n.addr }
func (n *capturingRouterNode) Deliver(f vlan.Frame)   { n.got <- f }

func waitFrame(t *testing.T, ch chan vlan.Frame) vlan.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply frame")
		return vlan.Frame{}
	}
}

func newTestDevice(t *testing.T) (*Device, *vlan.LAN, *capturingRouterNode) {
	t.Helper()
	lan := vlan.New()
	t.Cleanup(lan.Close)
	router := newCapturingRouterNode()
	lan.Attach(router)
	dev := New(42, vlan.Address(2), lan)
	return dev, lan, router
}

func requestorSource() *npdu.Address {
	return &npdu.Address{Network: 0, Addr: []byte{10, 0, 0, 5, 0xba, 0xc0}}
}

func TestSetValuesRebuildsOnSchemaChange(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	dev.SetValues(map[string]float32{"temp": 21.5, "humidity": 55})

	objs := dev.objects.list()
	require.Len(t, objs, 2)
	assert.Equal(t, "humidity", objs[0].name)
	assert.Equal(t, "temp", objs[1].name)
	assert.False(t, dev.HasFault())
}

func TestSetValuesClearsFault(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	dev.SetValues(map[string]float32{"temp": 1})
	dev.MarkFault()
	assert.True(t, dev.HasFault())

	dev.SetValues(map[string]float32{"temp": 2})
	assert.False(t, dev.HasFault())
}

func TestWhoIsElicitsIAm(t *testing.T) {
	dev, lan, router := newTestDevice(t)

	whoIs := &apdu.UnconfirmedRequest{ServiceChoice: apdu.ServiceUnconfirmedWhoIs}
	npduMsg := npdu.NewAPDUMessage(nil, requestorSource(), 255, npdu.PriorityNormal, whoIs.Encode())

	lan.Send(vlan.Frame{Source: routerAddress, Destination: dev.Address(), NPDU: npduMsg})

	reply := waitFrame(t, router.got)
	decoded, err := apdu.Decode(reply.NPDU.APDU)
	require.NoError(t, err)
	unconfirmed, ok := decoded.(*apdu.UnconfirmedRequest)
	require.True(t, ok)
	assert.Equal(t, apdu.ServiceUnconfirmedIAm, unconfirmed.ServiceChoice)

	iam, err := apdu.DecodeIAmRequest(unconfirmed.ServiceData)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), iam.Device.Instance)
	assert.Equal(t, apdu.ObjectTypeDevice, iam.Device.Type)
}

func TestWhoIsOutOfRangeIsIgnored(t *testing.T) {
	dev, lan, router := newTestDevice(t)

	whoIs := apdu.WhoIsRequest{HasRange: true, Low: 100, High: 200}
	req := &apdu.UnconfirmedRequest{ServiceChoice: apdu.ServiceUnconfirmedWhoIs, ServiceData: whoIs.Encode()}
	npduMsg := npdu.NewAPDUMessage(nil, requestorSource(), 255, npdu.PriorityNormal, req.Encode())
	lan.Send(vlan.Frame{Source: routerAddress, Destination: dev.Address(), NPDU: npduMsg})

	select {
	case <-router.got:
		t.Fatal("expected no i-am for out-of-range who-is")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReadPropertyPresentValue(t *testing.T) {
	dev, lan, router := newTestDevice(t)
	dev.SetValues(map[string]float32{"temp": 21.5})

	w := apdu.NewWriter()
	w.ContextObjectIdentifier(0, apdu.ObjectTypeAnalogValue, 0)
	w.ContextEnumerated(1, uint32(apdu.PropertyPresentValue))
	confirmed := &apdu.ConfirmedRequest{
		InvokeID:              7,
		MaxAPDULengthAccepted: 1024,
		ServiceChoice:         apdu.ServiceConfirmedReadProperty,
		ServiceData:           w.Bytes(),
	}
	npduMsg := npdu.NewAPDUMessage(nil, requestorSource(), 255, npdu.PriorityNormal, confirmed.Encode())
	lan.Send(vlan.Frame{Source: routerAddress, Destination: dev.Address(), NPDU: npduMsg})

	reply := waitFrame(t, router.got)
	raw := reply.NPDU.APDU
	require.Equal(t, apdu.PDUTypeComplexAck, apdu.PDUType(raw[0]>>4))
	require.Equal(t, apdu.ServiceConfirmedReadProperty, apdu.ConfirmedService(raw[2]))

	ackReader := apdu.NewReader(raw[3:])
	_, _, err := ackReader.ContextObjectIdentifier(0)
	require.NoError(t, err)
	prop, err := ackReader.ContextEnumerated(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(apdu.PropertyPresentValue), prop)
	require.NoError(t, ackReader.ConsumeOpeningTag(3))
	v, err := ackReader.ApplicationValue()
	require.NoError(t, err)
	assert.InDelta(t, 21.5, v.Real, 0.001)
}

func TestReadPropertyUnknownObjectReturnsError(t *testing.T) {
	dev, lan, router := newTestDevice(t)

	w := apdu.NewWriter()
	w.ContextObjectIdentifier(0, apdu.ObjectTypeAnalogValue, 99)
	w.ContextEnumerated(1, uint32(apdu.PropertyPresentValue))
	confirmed := &apdu.ConfirmedRequest{
		InvokeID:              1,
		MaxAPDULengthAccepted: 1024,
		ServiceChoice:         apdu.ServiceConfirmedReadProperty,
		ServiceData:           w.Bytes(),
	}
	npduMsg := npdu.NewAPDUMessage(nil, requestorSource(), 255, npdu.PriorityNormal, confirmed.Encode())
	lan.Send(vlan.Frame{Source: routerAddress, Destination: dev.Address(), NPDU: npduMsg})

	reply := waitFrame(t, router.got)
	assert.Equal(t, apdu.PDUType(apdu.PDUTypeError), apdu.PDUType(reply.NPDU.APDU[0]>>4))
}

func TestObjectListArrayIndexSemantics(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	dev.SetValues(map[string]float32{"temp": 1, "humidity": 2})

	lengthBytes, propErr := dev.readProperty(apdu.ObjectTypeDevice, 42, apdu.PropertyObjectList, ptr(uint32(0)))
	require.Nil(t, propErr)
	r := apdu.NewReader(lengthBytes)
	length, err := r.ApplicationUnsigned()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), length) // device + 2 objects

	_, propErr = dev.readProperty(apdu.ObjectTypeDevice, 42, apdu.PropertyObjectList, ptr(uint32(99)))
	require.NotNil(t, propErr)
	assert.Equal(t, apdu.ErrorCodeInvalidArrayIndex, propErr.Code)
}

func ptr(v uint32) *uint32 { return &v }
