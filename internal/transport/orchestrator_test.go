package transport

import (
	"net"
	"testing"
)

func udpIfaceWithAddr(addr string) *udpInterface {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(err)
	}
	return &udpInterface{server: a}
}

func TestChooseRelayOwnerMatchesExternal(t *testing.T) {
	t.Parallel()
	a := udpIfaceWithAddr("10.0.0.1:3478")
	b := udpIfaceWithAddr("10.0.0.2:3478")
	got := chooseRelayOwner([]*udpInterface{a, b}, net.ParseIP("10.0.0.2"))
	if got != b {
		t.Fatal("expected the interface whose external IP matches the relay IP")
	}
}

func TestChooseRelayOwnerFallsBackToFirst(t *testing.T) {
	t.Parallel()
	a := udpIfaceWithAddr("10.0.0.1:3478")
	b := udpIfaceWithAddr("10.0.0.2:3478")
	got := chooseRelayOwner([]*udpInterface{a, b}, net.ParseIP("203.0.113.9"))
	if got != a {
		t.Fatal("expected fallback to the first interface when no external IP matches")
	}
}

func TestChooseRelayOwnerEmpty(t *testing.T) {
	t.Parallel()
	if got := chooseRelayOwner(nil, net.ParseIP("10.0.0.1")); got != nil {
		t.Fatalf("expected nil for no interfaces, got %v", got)
	}
}

func TestTransportString(t *testing.T) {
	t.Parallel()
	if TransportUDP.String() != "udp" {
		t.Fatalf("TransportUDP.String() = %q", TransportUDP.String())
	}
	if TransportTCP.String() != "tcp" {
		t.Fatalf("TransportTCP.String() = %q", TransportTCP.String())
	}
}
