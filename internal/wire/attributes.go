package wire

import (
	"encoding/binary"
	"net"
	"unicode/utf8"
)

// Attribute type registry (RFC 5389 §15, RFC 5766 §14, RFC 6156 §4,
// RFC 8489 §14).
const (
	AttrMappedAddress          uint16 = 0x0001
	AttrUsername               uint16 = 0x0006
	AttrMessageIntegrity       uint16 = 0x0008
	AttrErrorCode              uint16 = 0x0009
	AttrUnknownAttributes      uint16 = 0x000A
	AttrChannelNumber          uint16 = 0x000C
	AttrLifetime               uint16 = 0x000D
	AttrXORPeerAddress         uint16 = 0x0012
	AttrData                   uint16 = 0x0013
	AttrRealm                  uint16 = 0x0014
	AttrNonce                  uint16 = 0x0015
	AttrXORRelayedAddress      uint16 = 0x0016
	AttrReqAddressFamily       uint16 = 0x0017
	AttrRequestedTransport     uint16 = 0x0019
	AttrDontFragment           uint16 = 0x001A
	AttrXORMappedAddress       uint16 = 0x0020
	AttrMessageIntegritySHA256 uint16 = 0x001C
	AttrPasswordAlgorithm      uint16 = 0x001D
	AttrPasswordAlgorithms     uint16 = 0x8002
	AttrSoftware               uint16 = 0x8022
	AttrFingerprint            uint16 = 0x8028
)

// PASSWORD-ALGORITHM registry values (RFC 8489 §14.11).
const (
	PasswordAlgorithmMD5    uint16 = 0x0001
	PasswordAlgorithmSHA256 uint16 = 0x0002
)

// Address family markers used inside (XOR-)MAPPED-ADDRESS family
// attributes.
const (
	FamilyIPv4 byte = 0x01
	FamilyIPv6 byte = 0x02
)

// RequestedTransportUDP is the only transport protocol number Allocate
// may carry (RFC 5766 §14.7): UDP, protocol number 17.
const RequestedTransportUDP byte = 17

// STUN error codes used by the router (RFC 5389 §15.6, RFC 5766 §?, RFC
// 6156 §10.2).
const (
	CodeBadRequest        = 400
	CodeUnauthorized      = 401
	CodeForbidden         = 403
	CodeAllocMismatch     = 437
	CodeStaleNonce        = 438
	CodeAddrFamilyNotSupp = 440
	CodeUnknownAttribute  = 420
	CodeNoCapacity        = 486
	CodeServerError       = 500
)

// ParseUsername returns the USERNAME attribute value.
func ParseUsername(m *Message) (string, error) { return parseUTF8String(m, AttrUsername) }

// ParseRealm returns the REALM attribute value.
func ParseRealm(m *Message) (string, error) { return parseUTF8String(m, AttrRealm) }

// ParseNonce returns the NONCE attribute value.
func ParseNonce(m *Message) (string, error) { return parseUTF8String(m, AttrNonce) }

// ParseSoftware returns the SOFTWARE attribute value.
func ParseSoftware(m *Message) (string, error) { return parseUTF8String(m, AttrSoftware) }

func parseUTF8String(m *Message, attrType uint16) (string, error) {
	a, ok := m.Get(attrType)
	if !ok {
		return "", ErrAttributeNotFound
	}
	if !utf8.Valid(a.Value) {
		return "", ErrBadUTF8
	}
	return string(a.Value), nil
}

// ParseLifetime returns the LIFETIME attribute in seconds.
func ParseLifetime(m *Message) (uint32, error) {
	a, ok := m.Get(AttrLifetime)
	if !ok {
		return 0, ErrAttributeNotFound
	}
	if len(a.Value) != 4 {
		return 0, ErrTruncatedAttribute
	}
	return binary.BigEndian.Uint32(a.Value), nil
}

// ErrorCode is a decoded ERROR-CODE attribute.
type ErrorCode struct {
	Code   int
	Reason string
}

// ParseErrorCode returns the ERROR-CODE attribute.
func ParseErrorCode(m *Message) (ErrorCode, error) {
	a, ok := m.Get(AttrErrorCode)
	if !ok {
		return ErrorCode{}, ErrAttributeNotFound
	}
	if len(a.Value) < 4 {
		return ErrorCode{}, ErrTruncatedAttribute
	}
	class := int(a.Value[2] & 0x7)
	number := int(a.Value[3])
	return ErrorCode{Code: class*100 + number, Reason: string(a.Value[4:])}, nil
}

// ParseRequestedTransport returns the protocol number requested by
// REQUESTED-TRANSPORT.
func ParseRequestedTransport(m *Message) (byte, error) {
	a, ok := m.Get(AttrRequestedTransport)
	if !ok {
		return 0, ErrAttributeNotFound
	}
	if len(a.Value) != 4 {
		return 0, ErrTruncatedAttribute
	}
	return a.Value[0], nil
}

// ParseRequestedAddressFamily returns the family marker requested by
// REQUESTED-ADDRESS-FAMILY (RFC 6156 §4.1.1): FamilyIPv4 or FamilyIPv6.
func ParseRequestedAddressFamily(m *Message) (byte, error) {
	a, ok := m.Get(AttrReqAddressFamily)
	if !ok {
		return 0, ErrAttributeNotFound
	}
	if len(a.Value) < 1 {
		return 0, ErrTruncatedAttribute
	}
	return a.Value[0], nil
}

// ParseChannelNumber returns the CHANNEL-NUMBER attribute.
func ParseChannelNumber(m *Message) (uint16, error) {
	a, ok := m.Get(AttrChannelNumber)
	if !ok {
		return 0, ErrAttributeNotFound
	}
	if len(a.Value) < 2 {
		return 0, ErrTruncatedAttribute
	}
	return binary.BigEndian.Uint16(a.Value), nil
}

// ParseData returns the DATA attribute's payload (aliases the message's
// backing array).
func ParseData(m *Message) ([]byte, error) {
	a, ok := m.Get(AttrData)
	if !ok {
		return nil, ErrAttributeNotFound
	}
	return a.Value, nil
}

// ParsePasswordAlgorithm returns the PASSWORD-ALGORITHM value the request
// carried (RFC 8489 §14.11), if any.
func ParsePasswordAlgorithm(m *Message) (uint16, error) {
	a, ok := m.Get(AttrPasswordAlgorithm)
	if !ok {
		return 0, ErrAttributeNotFound
	}
	if len(a.Value) < 2 {
		return 0, ErrTruncatedAttribute
	}
	return binary.BigEndian.Uint16(a.Value), nil
}

// ParseUnknownAttributes decodes an UNKNOWN-ATTRIBUTES list.
func ParseUnknownAttributes(m *Message) ([]uint16, error) {
	a, ok := m.Get(AttrUnknownAttributes)
	if !ok {
		return nil, ErrAttributeNotFound
	}
	out := make([]uint16, 0, len(a.Value)/2)
	for i := 0; i+2 <= len(a.Value); i += 2 {
		out = append(out, binary.BigEndian.Uint16(a.Value[i:i+2]))
	}
	return out, nil
}

// xorAddress XORs the port with the top 16 bits of the magic cookie and
// the IP with the cookie followed (for IPv6) by the transaction ID, per
// RFC 5389 §15.2.
func xorAddress(ip net.IP, port int, txID [12]byte) (family byte, xip net.IP, xport uint16) {
	xport = uint16(port) ^ uint16(MagicCookie>>16)
	if ip4 := ip.To4(); ip4 != nil {
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], MagicCookie)
		out := make(net.IP, 4)
		for i := range out {
			out[i] = ip4[i] ^ cookie[i]
		}
		return FamilyIPv4, out, xport
	}
	ip16 := ip.To16()
	var pad [16]byte
	binary.BigEndian.PutUint32(pad[0:4], MagicCookie)
	copy(pad[4:16], txID[:])
	out := make(net.IP, 16)
	for i := range out {
		out[i] = ip16[i] ^ pad[i]
	}
	return FamilyIPv6, out, xport
}

// parseXORAddressValue decodes the address-family attribute body used by
// XOR-MAPPED-ADDRESS, XOR-PEER-ADDRESS and XOR-RELAYED-ADDRESS.
func parseXORAddressValue(value []byte, txID [12]byte) (net.IP, int, error) {
	if len(value) < 4 {
		return nil, 0, ErrTruncatedAttribute
	}
	family := value[1]
	xport := binary.BigEndian.Uint16(value[2:4])
	port := int(xport ^ uint16(MagicCookie>>16))
	switch family {
	case FamilyIPv4:
		if len(value) < 8 {
			return nil, 0, ErrTruncatedAttribute
		}
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], MagicCookie)
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = value[4+i] ^ cookie[i]
		}
		return ip, port, nil
	case FamilyIPv6:
		if len(value) < 20 {
			return nil, 0, ErrTruncatedAttribute
		}
		var pad [16]byte
		binary.BigEndian.PutUint32(pad[0:4], MagicCookie)
		copy(pad[4:16], txID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = value[4+i] ^ pad[i]
		}
		return ip, port, nil
	default:
		return nil, 0, ErrBadAddressFamily
	}
}

// ParseXORMappedAddress decodes XOR-MAPPED-ADDRESS.
func ParseXORMappedAddress(m *Message) (net.IP, int, error) {
	return parseXORAttr(m, AttrXORMappedAddress)
}

// ParseXORPeerAddress decodes the first XOR-PEER-ADDRESS attribute.
func ParseXORPeerAddress(m *Message) (net.IP, int, error) {
	return parseXORAttr(m, AttrXORPeerAddress)
}

// ParseXORPeerAddresses decodes every XOR-PEER-ADDRESS attribute (a
// CreatePermission request may carry several).
func ParseXORPeerAddresses(m *Message) ([]net.IP, []int, error) {
	attrs := m.GetAll(AttrXORPeerAddress)
	ips := make([]net.IP, 0, len(attrs))
	ports := make([]int, 0, len(attrs))
	for _, a := range attrs {
		ip, port, err := parseXORAddressValue(a.Value, m.TransactionID)
		if err != nil {
			return nil, nil, err
		}
		ips = append(ips, ip)
		ports = append(ports, port)
	}
	return ips, ports, nil
}

// ParseXORRelayedAddress decodes XOR-RELAYED-ADDRESS.
func ParseXORRelayedAddress(m *Message) (net.IP, int, error) {
	return parseXORAttr(m, AttrXORRelayedAddress)
}

func parseXORAttr(m *Message, attrType uint16) (net.IP, int, error) {
	a, ok := m.Get(attrType)
	if !ok {
		return nil, 0, ErrAttributeNotFound
	}
	return parseXORAddressValue(a.Value, m.TransactionID)
}
