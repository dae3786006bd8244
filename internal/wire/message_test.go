package wire

import (
	"net"
	"testing"
)

func txID(b byte) [12]byte {
	var t [12]byte
	for i := range t {
		t[i] = b + byte(i)
	}
	return t
}

func TestMessageTypeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []MessageType{
		{Method: MethodBinding, Class: ClassRequest},
		{Method: MethodBinding, Class: ClassSuccessResponse},
		{Method: MethodAllocate, Class: ClassRequest},
		{Method: MethodAllocate, Class: ClassErrorResponse},
		{Method: MethodRefresh, Class: ClassRequest},
		{Method: MethodSend, Class: ClassIndication},
		{Method: MethodData, Class: ClassIndication},
		{Method: MethodCreatePermission, Class: ClassRequest},
		{Method: MethodChannelBind, Class: ClassRequest},
	}
	for _, tt := range cases {
		got := decodeMessageType(tt.Value())
		if got != tt {
			t.Errorf("roundtrip %v: got %v", tt, got)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	stunMsg := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(1), nil).Flush(IntegrityNone, nil, false)
	if Classify(stunMsg) != FrameSTUN {
		t.Fatal("expected FrameSTUN")
	}
	cdata := EncodeChannelData(0x4000, []byte("hi"), false, nil)
	if Classify(cdata) != FrameChannelData {
		t.Fatal("expected FrameChannelData")
	}
	if Classify([]byte{0xC0, 0, 0, 0}) != FrameUnknown {
		t.Fatal("expected FrameUnknown for reserved prefix")
	}
	if Classify(nil) != FrameUnknown {
		t.Fatal("expected FrameUnknown for empty input")
	}
}

func TestDecodeBindingRequest(t *testing.T) {
	t.Parallel()
	id := txID(1)
	raw := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, id, nil).
		Flush(IntegrityNone, nil, true)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type.Method != MethodBinding || m.Type.Class != ClassRequest {
		t.Fatalf("type: got %v", m.Type)
	}
	if m.TransactionID != id {
		t.Fatalf("txID: got %v want %v", m.TransactionID, id)
	}
	if err := CheckFingerprint(&m); err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
}

func TestDecodeRejectsBadCookie(t *testing.T) {
	t.Parallel()
	raw := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(1), nil).
		Flush(IntegrityNone, nil, false)
	raw[4] ^= 0xFF
	var m Message
	if err := Decode(raw, &m); err != ErrBadMagicCookie {
		t.Fatalf("got %v, want ErrBadMagicCookie", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	t.Parallel()
	raw := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(1), nil).
		Flush(IntegrityNone, nil, true)
	short := raw[:len(raw)-4]
	var m Message
	if err := Decode(short, &m); err != ErrBadLength {
		t.Fatalf("got %v, want ErrBadLength", err)
	}
}

func TestDecodeUnknownComprehensionRequired(t *testing.T) {
	t.Parallel()
	e := Extend(MessageType{Method: MethodAllocate, Class: ClassRequest}, txID(2), nil)
	e.addRaw(0x0002, []byte{1, 2, 3, 4}) // RESERVED/RESPONSE-ADDRESS, unknown to this codec
	raw := e.Flush(IntegrityNone, nil, false)

	var m Message
	err := Decode(raw, &m)
	uae, ok := err.(*UnknownAttributesError)
	if !ok {
		t.Fatalf("got %T(%v), want *UnknownAttributesError", err, err)
	}
	if len(uae.Types) != 1 || uae.Types[0] != 0x0002 {
		t.Fatalf("unexpected unknown types: %v", uae.Types)
	}
}

func TestDecodeIgnoresUnknownOptionalAttribute(t *testing.T) {
	t.Parallel()
	e := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(3), nil)
	e.addRaw(0x8F00, []byte{1, 2, 3, 4}) // comprehension-optional, unknown
	raw := e.Flush(IntegrityNone, nil, false)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestXORAddressRoundTripIPv4(t *testing.T) {
	t.Parallel()
	id := txID(4)
	ip := net.ParseIP("203.0.113.10").To4()
	raw := Extend(MessageType{Method: MethodAllocate, Class: ClassSuccessResponse}, id, nil).
		AddXORRelayedAddress(ip, 49200).
		Flush(IntegrityNone, nil, false)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotIP, gotPort, err := ParseXORRelayedAddress(&m)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !gotIP.Equal(ip) || gotPort != 49200 {
		t.Fatalf("got %s:%d, want %s:%d", gotIP, gotPort, ip, 49200)
	}
}

func TestXORAddressRoundTripIPv6(t *testing.T) {
	t.Parallel()
	id := txID(5)
	ip := net.ParseIP("2001:db8::1")
	raw := Extend(MessageType{Method: MethodBinding, Class: ClassSuccessResponse}, id, nil).
		AddXORMappedAddress(ip, 4096).
		Flush(IntegrityNone, nil, false)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotIP, gotPort, err := ParseXORMappedAddress(&m)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !gotIP.Equal(ip) || gotPort != 4096 {
		t.Fatalf("got %s:%d, want %s:%d", gotIP, gotPort, ip, 4096)
	}
}

func TestMessageIntegritySHA1(t *testing.T) {
	t.Parallel()
	key := DeriveKeyMD5("u", "localhost", "p")
	raw := Extend(MessageType{Method: MethodAllocate, Class: ClassRequest}, txID(6), nil).
		AddUsername("u").
		AddRealm("localhost").
		AddNonce("abc").
		AddRequestedTransport(RequestedTransportUDP).
		Flush(IntegritySHA1, key, true)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := CheckIntegrity(&m, key); err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if err := CheckFingerprint(&m); err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	// Tampering with any byte before MESSAGE-INTEGRITY must break it; byte
	// 24 is the USERNAME value, so the message still decodes.
	raw[24] ^= 0xFF
	var m2 Message
	if err := Decode(raw, &m2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := CheckIntegrity(&m2, key); err != ErrIntegrityFailed {
		t.Fatalf("got %v, want ErrIntegrityFailed", err)
	}
}

func TestMessageIntegritySHA256(t *testing.T) {
	t.Parallel()
	key := DeriveKeySHA256("u", "localhost", "p")
	raw := Extend(MessageType{Method: MethodAllocate, Class: ClassRequest}, txID(7), nil).
		AddUsername("u").
		Flush(IntegritySHA256, key, false)

	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := CheckIntegritySHA256(&m, key); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestChannelDataRoundTripUDP(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	raw := EncodeChannelData(0x4000, payload, false, nil)
	var cd ChannelData
	if err := DecodeChannelData(raw, false, &cd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.Number != 0x4000 || string(cd.Data) != string(payload) {
		t.Fatalf("got %#x %v", cd.Number, cd.Data)
	}
}

func TestChannelDataRoundTripTCPPadding(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE} // 3 bytes, needs 1 byte padding
	raw := EncodeChannelData(0x4001, payload, true, nil)
	if len(raw)%4 != 0 {
		t.Fatalf("expected frame padded to 4 bytes, got len %d", len(raw))
	}
	var cd ChannelData
	if err := DecodeChannelData(raw, true, &cd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(cd.Data) != string(payload) {
		t.Fatalf("got %v want %v", cd.Data, payload)
	}
}

func TestValidChannelNumber(t *testing.T) {
	t.Parallel()
	if !ValidChannelNumber(0x4000) || !ValidChannelNumber(0x7FFF) {
		t.Fatal("bounds should be valid")
	}
	if ValidChannelNumber(0x3FFF) || ValidChannelNumber(0x8000) {
		t.Fatal("out-of-range should be invalid")
	}
}

func TestLifetimeAttribute(t *testing.T) {
	t.Parallel()
	raw := Extend(MessageType{Method: MethodRefresh, Class: ClassSuccessResponse}, txID(8), nil).
		AddLifetime(600).
		Flush(IntegrityNone, nil, false)
	var m Message
	if err := Decode(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := ParseLifetime(&m)
	if err != nil || got != 600 {
		t.Fatalf("got %d, %v", got, err)
	}
}
