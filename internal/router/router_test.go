package router

import (
	"net"
	"testing"
	"time"

	"github.com/turnhub/turnd/internal/boundary"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

func newTestRouter() (*Router, *boundary.StaticAuthHandler) {
	auth := boundary.NewStaticAuthHandler("example.org", []boundary.StaticCredential{
		{Username: "alice", Password: "hunter2"},
	})
	mgr := session.NewManager(session.Options{
		RelayIP: net.ParseIP("203.0.113.9"),
		MinPort: 49152,
		MaxPort: 49162,
	})
	r := New(Options{
		Realm:    "example.org",
		Sessions: mgr,
		Auth:     auth,
	})
	return r, auth
}

func clientAddr(port int) net.Addr { return &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: port} }
func serverAddr() net.Addr         { return &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 3478} }

func TestRouterBindingUnauthenticated(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	raw := wire.Extend(wire.MessageType{Method: wire.MethodBinding, Class: wire.ClassRequest}, [12]byte{1}, nil).
		Flush(wire.IntegrityNone, nil, true)

	resp, relay := r.Dispatch(raw, clientAddr(1), serverAddr(), session.ProtoUDP, time.Now())
	if relay != nil {
		t.Fatal("binding should not produce a relay instruction")
	}
	var m wire.Message
	if err := wire.Decode(resp, &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.Type.Class != wire.ClassSuccessResponse {
		t.Fatalf("expected success, got %v", m.Type)
	}
	ip, port, err := wire.ParseXORMappedAddress(&m)
	if err != nil {
		t.Fatalf("parse xor-mapped-address: %v", err)
	}
	if port != 1 || !ip.Equal(net.ParseIP("198.51.100.1")) {
		t.Fatalf("got %s:%d", ip, port)
	}
}

func TestRouterAllocateRequiresAuth(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	raw := wire.Extend(wire.MessageType{Method: wire.MethodAllocate, Class: wire.ClassRequest}, [12]byte{2}, nil).
		AddRequestedTransport(wire.RequestedTransportUDP).
		Flush(wire.IntegrityNone, nil, true)

	resp, _ := r.Dispatch(raw, clientAddr(2), serverAddr(), session.ProtoUDP, time.Now())
	var m wire.Message
	if err := wire.Decode(resp, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ec, err := wire.ParseErrorCode(&m)
	if err != nil || ec.Code != wire.CodeUnauthorized {
		t.Fatalf("got %+v, %v, want 401", ec, err)
	}
}

// authenticatedAllocate drives the full two-round-trip long-term
// credential flow and returns the session's allocated relay port.
func authenticatedAllocate(t *testing.T, r *Router, client net.Addr, now time.Time) int {
	t.Helper()
	txA := [12]byte{10}
	raw := wire.Extend(wire.MessageType{Method: wire.MethodAllocate, Class: wire.ClassRequest}, txA, nil).
		AddRequestedTransport(wire.RequestedTransportUDP).
		Flush(wire.IntegrityNone, nil, true)
	resp, _ := r.Dispatch(raw, client, serverAddr(), session.ProtoUDP, now)
	var m wire.Message
	if err := wire.Decode(resp, &m); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	ec, _ := wire.ParseErrorCode(&m)
	if ec.Code != wire.CodeUnauthorized {
		t.Fatalf("expected 401 challenge, got %+v", ec)
	}
	nonceAttr, ok := m.Get(wire.AttrNonce)
	if !ok {
		t.Fatal("expected NONCE in challenge response")
	}
	nonce := string(nonceAttr.Value)

	key := wire.DeriveKeyMD5("alice", "example.org", "hunter2")
	txB := [12]byte{11}
	raw2 := wire.Extend(wire.MessageType{Method: wire.MethodAllocate, Class: wire.ClassRequest}, txB, nil).
		AddUsername("alice").
		AddRealm("example.org").
		AddNonce(nonce).
		AddRequestedTransport(wire.RequestedTransportUDP).
		Flush(wire.IntegritySHA1, key, true)

	resp2, _ := r.Dispatch(raw2, client, serverAddr(), session.ProtoUDP, now)
	var m2 wire.Message
	if err := wire.Decode(resp2, &m2); err != nil {
		t.Fatalf("decode success: %v", err)
	}
	if m2.Type.Class != wire.ClassSuccessResponse {
		ec2, _ := wire.ParseErrorCode(&m2)
		t.Fatalf("expected success, got error %+v", ec2)
	}
	_, relayPort, err := wire.ParseXORRelayedAddress(&m2)
	if err != nil {
		t.Fatalf("parse relayed address: %v", err)
	}
	return relayPort
}

func TestRouterAllocateAuthenticatedSucceeds(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	port := authenticatedAllocate(t, r, clientAddr(3), time.Now())
	if port < 49152 || port > 49162 {
		t.Fatalf("relay port %d out of configured range", port)
	}
}

func TestRouterSendAndPeerDataRoundTrip(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	now := time.Now()
	client := clientAddr(4)
	relayPort := authenticatedAllocate(t, r, client, now)

	peerIP := net.ParseIP("192.0.2.50")
	s, ok := r.sessions.Lookup(session.FiveTuple{
		Client: toSessionAddr(client),
		Server: toSessionAddr(serverAddr()),
		Proto:  session.ProtoUDP,
	})
	if !ok {
		t.Fatal("expected session to exist")
	}
	s.CreatePermission(peerIP, now.Add(time.Minute))

	sendRaw := wire.Extend(wire.MessageType{Method: wire.MethodSend, Class: wire.ClassIndication}, [12]byte{20}, nil).
		AddXORPeerAddress(peerIP, 9000).
		AddData([]byte("hello peer")).
		Flush(wire.IntegrityNone, nil, false)
	resp, relay := r.Dispatch(sendRaw, client, serverAddr(), session.ProtoUDP, now)
	if resp != nil {
		t.Fatal("Send indication must not produce a response")
	}
	if relay == nil {
		t.Fatal("expected a relay instruction for a permitted peer")
	}
	if string(relay.Payload) != "hello peer" {
		t.Fatalf("got payload %q", relay.Payload)
	}

	// Now simulate the peer replying on the relay port: no channel is
	// bound, so the client should receive a Data indication.
	frame, dest, ok := r.HandlePeerData(relayPort, session.Addr{IP: peerIP, Port: 9000}, []byte("hi client"), false, now)
	if !ok {
		t.Fatal("expected peer data to be delivered")
	}
	if dest.String() != client.String() {
		t.Fatalf("got dest %v, want %v", dest, client)
	}
	var m wire.Message
	if err := wire.Decode(frame, &m); err != nil {
		t.Fatalf("decode data indication: %v", err)
	}
	if m.Type.Method != wire.MethodData {
		t.Fatalf("got method %v, want Data", m.Type.Method)
	}
	data, err := wire.ParseData(&m)
	if err != nil || string(data) != "hi client" {
		t.Fatalf("got %q, %v", data, err)
	}
}

func TestRouterPeerDataWithoutPermissionDropped(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	now := time.Now()
	client := clientAddr(5)
	relayPort := authenticatedAllocate(t, r, client, now)

	_, _, ok := r.HandlePeerData(relayPort, session.Addr{IP: net.ParseIP("192.0.2.99"), Port: 1}, []byte("x"), false, now)
	if ok {
		t.Fatal("expected peer data without permission to be dropped")
	}
}

func TestRouterChannelBindAndChannelDataRoundTrip(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	now := time.Now()
	client := clientAddr(6)
	relayPort := authenticatedAllocate(t, r, client, now)
	peerIP := net.ParseIP("192.0.2.77")

	key := wire.DeriveKeyMD5("alice", "example.org", "hunter2")
	// Re-auth for the ChannelBind request: the unauthenticated first
	// attempt is challenged with the nonce already issued to this
	// five-tuple, which stays valid for the signed retry.
	bindRaw0 := wire.Extend(wire.MessageType{Method: wire.MethodChannelBind, Class: wire.ClassRequest}, [12]byte{30}, nil).
		AddXORPeerAddress(peerIP, 9100).
		AddChannelNumber(0x4000).
		Flush(wire.IntegrityNone, nil, true)
	challenge, _ := r.Dispatch(bindRaw0, client, serverAddr(), session.ProtoUDP, now)
	var cm wire.Message
	wire.Decode(challenge, &cm)
	nonceAttr, _ := cm.Get(wire.AttrNonce)

	bindRaw := wire.Extend(wire.MessageType{Method: wire.MethodChannelBind, Class: wire.ClassRequest}, [12]byte{31}, nil).
		AddUsername("alice").
		AddRealm("example.org").
		AddNonce(string(nonceAttr.Value)).
		AddXORPeerAddress(peerIP, 9100).
		AddChannelNumber(0x4000).
		Flush(wire.IntegritySHA1, key, true)
	resp, _ := r.Dispatch(bindRaw, client, serverAddr(), session.ProtoUDP, now)
	var m wire.Message
	if err := wire.Decode(resp, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type.Class != wire.ClassSuccessResponse {
		ec, _ := wire.ParseErrorCode(&m)
		t.Fatalf("expected success, got %+v", ec)
	}

	// Client -> peer via ChannelData.
	cdata := wire.EncodeChannelData(0x4000, []byte("via channel"), false, nil)
	relay := r.HandleChannelData(cdata, client, serverAddr(), session.ProtoUDP, false, now)
	if relay == nil {
		t.Fatal("expected channel data to relay to bound peer")
	}
	if string(relay.Payload) != "via channel" {
		t.Fatalf("got %q", relay.Payload)
	}

	// Peer -> client should now come back framed as ChannelData too.
	frame, _, ok := r.HandlePeerData(relayPort, session.Addr{IP: peerIP, Port: 9100}, []byte("reply"), false, now)
	if !ok {
		t.Fatal("expected peer data delivered")
	}
	var cd wire.ChannelData
	if err := wire.DecodeChannelData(frame, false, &cd); err != nil {
		t.Fatalf("decode channel data: %v", err)
	}
	if cd.Number != 0x4000 || string(cd.Data) != "reply" {
		t.Fatalf("got %#x %q", cd.Number, cd.Data)
	}
}

func TestRouterUnknownAttributeYields420(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	e := wire.Extend(wire.MessageType{Method: wire.MethodAllocate, Class: wire.ClassRequest}, [12]byte{40}, nil)
	raw := e.AddRequestedTransport(wire.RequestedTransportUDP).Flush(wire.IntegrityNone, nil, false)
	// Splice in a bogus comprehension-required attribute after decoding
	// isn't possible via the Encoder API (it has no raw escape hatch
	// outside the package), so build it directly via Decode's own
	// tolerance path instead: append a TLV by hand.
	raw = appendRawAttr(raw, 0x0002, []byte{0, 0, 0, 0})

	resp, _ := r.Dispatch(raw, clientAddr(7), serverAddr(), session.ProtoUDP, time.Now())
	var m wire.Message
	if err := wire.Decode(resp, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ec, err := wire.ParseErrorCode(&m)
	if err != nil || ec.Code != wire.CodeUnknownAttribute {
		t.Fatalf("got %+v, %v, want 420", ec, err)
	}
}

// appendRawAttr appends a TLV attribute to a fully-built STUN message and
// fixes up the length header, for tests that need to synthesize wire
// content the Encoder's public API doesn't expose.
func appendRawAttr(raw []byte, attrType uint16, value []byte) []byte {
	out := append([]byte(nil), raw...)
	var hdr [4]byte
	hdr[0] = byte(attrType >> 8)
	hdr[1] = byte(attrType)
	hdr[2] = byte(len(value) >> 8)
	hdr[3] = byte(len(value))
	out = append(out, hdr[:]...)
	out = append(out, value...)
	newLen := len(out) - wire.HeaderSize
	out[2] = byte(newLen >> 8)
	out[3] = byte(newLen)
	return out
}
