// Package session implements the TURN SessionManager: allocation
// bookkeeping, permissions, channel bindings, virtual relay-port
// assignment and expiry, independent of the wire codec and the network
// transport.
package session

import (
	"fmt"
	"net"
)

// Proto identifies the transport an allocation was requested over.
type Proto byte

const (
	ProtoUDP Proto = iota
	ProtoTCP
)

func (p Proto) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	default:
		return fmt.Sprintf("proto(%d)", byte(p))
	}
}

// Addr is an IP:port pair, comparable by value semantics via Equal.
type Addr struct {
	IP   net.IP
	Port int
}

// Equal reports whether a and b designate the same address.
func (a Addr) Equal(b Addr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func (a Addr) String() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

// FiveTuple identifies an allocation: the client's transport address, the
// server's listening address the request arrived on, and the transport.
type FiveTuple struct {
	Client Addr
	Server Addr
	Proto  Proto
}

func (t FiveTuple) String() string {
	return fmt.Sprintf("%s->%s(%s)", t.Client, t.Server, t.Proto)
}

// Equal reports whether two five-tuples identify the same session.
func (t FiveTuple) Equal(o FiveTuple) bool {
	return t.Proto == o.Proto && t.Client.Equal(o.Client) && t.Server.Equal(o.Server)
}

// hash returns an order-independent-enough hash used only to pick a lock
// shard; collisions just mean two tuples share a stripe.
func (t FiveTuple) hash() uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	mix := func(b byte) {
		h ^= uint64(b)
		h *= 1099511628211 // FNV prime
	}
	for _, b := range t.Client.IP {
		mix(b)
	}
	mix(byte(t.Client.Port))
	mix(byte(t.Client.Port >> 8))
	for _, b := range t.Server.IP {
		mix(b)
	}
	mix(byte(t.Server.Port))
	mix(byte(t.Server.Port >> 8))
	mix(byte(t.Proto))
	return h
}
