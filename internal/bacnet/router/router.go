// Package router implements the BACnet network-layer routing between the
// real BACnet/IP network (number 0) and the in-memory VLAN (number 1) that
// carries the virtual sensor devices, per BACnet Annex H.
package router

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/bacnet/bvll"
	"github.com/freshollie/bacprop/internal/bacnet/npdu"
	"github.com/freshollie/bacprop/internal/bacnet/transport"
	"github.com/freshollie/bacprop/internal/bacnet/vlan"
	"github.com/freshollie/bacprop/internal/logger"
)

// IPNetworkNumber and VLANNetworkNumber are the two networks this router
// bridges, per spec §4.2.
const (
	IPNetworkNumber   uint16 = 0
	VLANNetworkNumber uint16 = 1

	// RouterVLANAddress is the VLAN-side address this router occupies.
	RouterVLANAddress vlan.Address = 1

	defaultHopCount uint8 = 255
)

var errShortIPAddr = errors.New("router: ip destination address must be 6 bytes")

// Router bridges the transport.Endpoint (network 0) and a vlan.LAN
// (network 1). It implements transport.Handler on the IP side and
// vlan.Node on the VLAN side.
type Router struct {
	endpoint *transport.Endpoint
	lan      *vlan.LAN
	log      *zap.Logger
}

var _ transport.Handler = (*Router)(nil)
var _ vlan.Node = (*Router)(nil)

// New builds a router wired to both networks. It attaches itself to the LAN
// and registers itself as the endpoint's frame handler.
func New(endpoint *transport.Endpoint, lan *vlan.LAN) *Router {
	r := &Router{endpoint: endpoint, lan: lan, log: logger.Get()}
	lan.Attach(r)
	endpoint.SetHandler(r)
	return r
}

// Address implements vlan.Node: the router's address on the VLAN side.
func (r *Router) Address() vlan.Address { return RouterVLANAddress }

// Announce broadcasts I-Am-Router-To-Network(1) on the IP side so
// discovery tools learn the virtual network exists (spec §4.2).
func (r *Router) Announce() error {
	data := []byte{byte(VLANNetworkNumber >> 8), byte(VLANNetworkNumber)}
	msg := npdu.NewNetworkMessage(nil, nil, defaultHopCount, npdu.MessageIAmRouterToNetwork, data)
	encoded, err := msg.Encode()
	if err != nil {
		return err
	}
	return r.endpoint.SendBroadcast(bvll.New(bvll.FunctionOriginalBroadcastNPDU, encoded))
}

// HandleFrame implements transport.Handler: an inbound BVLL frame from the
// IP network (network 0).
func (r *Router) HandleFrame(sender *net.UDPAddr, frame *bvll.Message) {
	if frame.Function == bvll.FunctionDistributeBroadcastToNetwork {
		r.handleDistributeBroadcast(sender, frame)
		return
	}
	if frame.Function == bvll.FunctionForwardedNPDU {
		r.handleForwardedNPDU(frame)
		return
	}
	if !frame.Function.IsNPDUCarrier() {
		return
	}
	msg, err := npdu.Decode(frame.Data)
	if err != nil {
		r.log.Debug("dropping malformed npdu from ip network", zap.Error(err))
		return
	}
	r.routeFromIP(sender, msg, frame.Function == bvll.FunctionOriginalBroadcastNPDU)
}

// handleForwardedNPDU unwraps a BBMD's Forwarded-NPDU: its data is the
// 6-byte B/IP address of the original sending device followed by the NPDU
// itself (spec §4.1). The original device, not the forwarding BBMD, is used
// as the source address; the NPDU is then routed by its destination network
// like any other inbound NPDU, so one without a destination stays on the IP
// side.
func (r *Router) handleForwardedNPDU(frame *bvll.Message) {
	if len(frame.Data) < 6 {
		r.log.Debug("dropping undersized forwarded-npdu")
		return
	}
	origin, err := parseIPDestination(frame.Data[:6])
	if err != nil {
		r.log.Debug("dropping forwarded-npdu with malformed origin address", zap.Error(err))
		return
	}
	msg, err := npdu.Decode(frame.Data[6:])
	if err != nil {
		r.log.Debug("dropping malformed forwarded-npdu", zap.Error(err))
		return
	}
	r.routeFromIP(origin, msg, true)
}

// handleDistributeBroadcast implements spec §4.1's Distribute-Broadcast-To-
// Network: a BBMD client asks this bridge to re-emit its NPDU as a local
// broadcast on the IP side, in addition to the normal upward routing a
// broadcast NPDU would get.
func (r *Router) handleDistributeBroadcast(sender *net.UDPAddr, frame *bvll.Message) {
	msg, err := npdu.Decode(frame.Data)
	if err != nil {
		r.log.Debug("dropping malformed distribute-broadcast-to-network", zap.Error(err))
		return
	}
	if err := r.endpoint.SendBroadcast(bvll.New(bvll.FunctionOriginalBroadcastNPDU, frame.Data)); err != nil {
		r.log.Debug("failed to re-emit distributed broadcast", zap.Error(err))
	}
	r.routeFromIP(sender, msg, true)
}

func (r *Router) routeFromIP(sender *net.UDPAddr, msg *npdu.Message, wasBroadcast bool) {
	dest := msg.Destination

	if dest == nil || dest.Network == IPNetworkNumber {
		// Local to the IP side only — nothing here answers on network 0
		// directly; this bridge's only IP-side participant is the router
		// itself, so there is nothing further to deliver.
		return
	}

	if dest.Network == npdu.GlobalBroadcastNetwork {
		r.forwardToVLAN(sender, msg, true)
		return
	}

	if dest.Network == VLANNetworkNumber {
		r.forwardToVLAN(sender, msg, dest.IsBroadcast())
		return
	}

	r.rejectUnknownNetwork(sender, dest.Network)
}

func (r *Router) forwardToVLAN(sender *net.UDPAddr, msg *npdu.Message, broadcast bool) {
	if msg.Destination != nil && !msg.DecrementHopCount() {
		r.log.Debug("dropping npdu with exhausted hop count")
		return
	}

	var destAddr vlan.Address
	if !broadcast {
		addr, err := vlan.ParseAddress(msg.Destination.Addr)
		if err != nil {
			r.log.Debug("dropping npdu with malformed vlan destination", zap.Error(err))
			return
		}
		destAddr = addr
	}

	hopCount := defaultHopCount
	if msg.Destination != nil {
		hopCount = msg.HopCount
	}
	source := npdu.Address{Network: IPNetworkNumber, Addr: ipSourceAddr(sender)}
	forwarded := npdu.NewAPDUMessage(nil, &source, hopCount, msg.Control.Priority, msg.APDU)
	forwarded.Control.IsNetworkLayerMessage = msg.Control.IsNetworkLayerMessage
	forwarded.MessageType = msg.MessageType
	forwarded.MessageData = msg.MessageData

	r.lan.Send(vlan.Frame{
		Source:      RouterVLANAddress,
		Destination: destAddr,
		Broadcast:   broadcast,
		NPDU:        forwarded,
	})
}

func (r *Router) rejectUnknownNetwork(sender *net.UDPAddr, network uint16) {
	data := []byte{byte(npdu.RejectNotDirectlyConnected), byte(network >> 8), byte(network)}
	msg := npdu.NewNetworkMessage(nil, nil, defaultHopCount, npdu.MessageRejectMessageToNetwork, data)
	encoded, err := msg.Encode()
	if err != nil {
		return
	}
	_ = r.endpoint.SendUnicast(sender, bvll.New(bvll.FunctionOriginalUnicastNPDU, encoded))
}

// Deliver implements vlan.Node: an NPDU arriving from a VLAN node, destined
// for the IP side (or the other direction's broadcast).
func (r *Router) Deliver(f vlan.Frame) {
	if f.Source == RouterVLANAddress {
		return // don't loop our own traffic back
	}
	dest := f.NPDU.Destination

	if dest == nil || dest.Network == VLANNetworkNumber {
		return // destined for another VLAN node, not us
	}

	if dest.Network != IPNetworkNumber && dest.Network != npdu.GlobalBroadcastNetwork {
		return // not ours to route
	}

	if dest.Network != npdu.GlobalBroadcastNetwork && !f.NPDU.DecrementHopCount() {
		r.log.Debug("dropping vlan npdu with exhausted hop count")
		return
	}

	// A device leaves its own NPDU source absent, since it doesn't know it
	// sits behind a router. Stamp SNET/SADR here so IP-side discovery tools
	// learn the replying device is on network 1 at this VLAN address,
	// rather than appearing to originate from the router itself.
	if !f.NPDU.Control.SourcePresent {
		f.NPDU.Control.SourcePresent = true
		f.NPDU.Source = &npdu.Address{Network: VLANNetworkNumber, Addr: f.Source.Bytes()}
	}

	encoded, err := f.NPDU.Encode()
	if err != nil {
		r.log.Debug("failed to encode npdu for ip network", zap.Error(err))
		return
	}

	broadcastToIP := dest.Network == npdu.GlobalBroadcastNetwork || dest.IsBroadcast()
	if broadcastToIP {
		_ = r.endpoint.SendBroadcast(bvll.New(bvll.FunctionOriginalBroadcastNPDU, encoded))
		return
	}

	udpAddr, err := parseIPDestination(dest.Addr)
	if err != nil {
		r.log.Debug("dropping vlan npdu with malformed ip destination", zap.Error(err))
		return
	}
	_ = r.endpoint.SendUnicast(udpAddr, bvll.New(bvll.FunctionOriginalUnicastNPDU, encoded))
}

// ipSourceAddr encodes a UDP sender as the 6-byte (4 IPv4 + 2 port)
// BACnet/IP MAC address (clause Annex J).
func ipSourceAddr(sender *net.UDPAddr) []byte {
	if sender == nil {
		return nil
	}
	ip4 := sender.IP.To4()
	b := make([]byte, 6)
	copy(b, ip4)
	b[4] = byte(sender.Port >> 8)
	b[5] = byte(sender.Port)
	return b
}

func parseIPDestination(addr []byte) (*net.UDPAddr, error) {
	if len(addr) != 6 {
		return nil, errShortIPAddr
	}
	ip := net.IPv4(addr[0], addr[1], addr[2], addr[3])
	port := int(addr[4])<<8 | int(addr[5])
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
