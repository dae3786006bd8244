package wire

import (
	"encoding/binary"
	"fmt"
)

// MagicCookie is the fixed STUN magic cookie value (RFC 5389 §6).
const MagicCookie uint32 = 0x2112A442

// FingerprintXOR is XORed into the CRC32 of a message to form FINGERPRINT
// (RFC 5389 §15.5).
const FingerprintXOR uint32 = 0x5354554E

// HeaderSize is the fixed size of a STUN message header.
const HeaderSize = 20

// Method identifies a STUN/TURN request method (the low 12 bits of a
// MessageType).
type Method uint16

// Methods used by this server. Binding is RFC 5389; the rest are RFC 5766
// TURN methods, plus ChannelBind from RFC 5766 §11.
const (
	MethodBinding          Method = 0x0001
	MethodAllocate         Method = 0x0003
	MethodRefresh          Method = 0x0004
	MethodSend             Method = 0x0006
	MethodData             Method = 0x0007
	MethodCreatePermission Method = 0x0008
	MethodChannelBind      Method = 0x0009
)

func (m Method) String() string {
	switch m {
	case MethodBinding:
		return "Binding"
	case MethodAllocate:
		return "Allocate"
	case MethodRefresh:
		return "Refresh"
	case MethodSend:
		return "Send"
	case MethodData:
		return "Data"
	case MethodCreatePermission:
		return "CreatePermission"
	case MethodChannelBind:
		return "ChannelBind"
	default:
		return fmt.Sprintf("Method(%#x)", uint16(m))
	}
}

// Class identifies whether a message is a request, indication, or
// response (RFC 5389 §6).
type Class byte

const (
	ClassRequest Class = iota
	ClassIndication
	ClassSuccessResponse
	ClassErrorResponse
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success"
	case ClassErrorResponse:
		return "error"
	default:
		return fmt.Sprintf("class(%d)", byte(c))
	}
}

// MessageType is the (method, class) pair carried in the first 16 bits of
// a STUN message, using the interleaved bit layout of RFC 5389 §6.
type MessageType struct {
	Method Method
	Class  Class
}

// Value encodes the type into the wire's 14-bit (plus 2 reserved MSB)
// representation.
func (t MessageType) Value() uint16 {
	m := uint16(t.Method)
	c := uint16(t.Class)
	return (m & 0x000F) | ((c & 0x1) << 4) | ((m & 0x0070) << 1) | ((c & 0x2) << 7) | ((m & 0x0F80) << 2)
}

func decodeMessageType(v uint16) MessageType {
	m := (v & 0x000F) | ((v >> 1) & 0x0070) | ((v >> 2) & 0x0F80)
	c := ((v >> 4) & 0x1) | ((v >> 7) & 0x2)
	return MessageType{Method: Method(m), Class: Class(c)}
}

func (t MessageType) String() string { return fmt.Sprintf("%s %s", t.Method, t.Class) }

// Frame is the result of Classify: which wire format a datagram's leading
// bytes indicate.
type Frame byte

const (
	// FrameUnknown is neither a STUN message nor ChannelData; the caller
	// must drop the packet.
	FrameUnknown Frame = iota
	FrameSTUN
	FrameChannelData
)

// Classify inspects the two most significant bits of the first byte to
// tell a STUN message (00) from a ChannelData frame (01), per RFC 5766
// §11.4. Any other prefix (10/11, reserved) is Unknown.
func Classify(b []byte) Frame {
	if len(b) == 0 {
		return FrameUnknown
	}
	switch b[0] >> 6 {
	case 0:
		return FrameSTUN
	case 1:
		return FrameChannelData
	default:
		return FrameUnknown
	}
}

// RawAttribute is a decoded attribute whose Value aliases the backing
// array of the Message it came from — no copy is made during decode.
type RawAttribute struct {
	Type  uint16
	Value []byte
}

// Message is a decoded STUN message. Attributes borrow from Raw; callers
// that need to retain a Message across a buffer reuse must copy it.
type Message struct {
	Type          MessageType
	TransactionID [12]byte
	Raw           []byte
	Attributes    []RawAttribute
}

// Contains reports whether the message carries at least one attribute of
// the given type.
func (m *Message) Contains(attrType uint16) bool {
	_, ok := m.Get(attrType)
	return ok
}

// Get returns the first attribute of the given type.
func (m *Message) Get(attrType uint16) (RawAttribute, bool) {
	for _, a := range m.Attributes {
		if a.Type == attrType {
			return a, true
		}
	}
	return RawAttribute{}, false
}

// GetAll returns every attribute of the given type, in wire order.
func (m *Message) GetAll(attrType uint16) []RawAttribute {
	var out []RawAttribute
	for _, a := range m.Attributes {
		if a.Type == attrType {
			out = append(out, a)
		}
	}
	return out
}

// reset clears a Message for reuse by Decode, keeping the Attributes
// backing array so repeated decodes on a worker's scratch Message don't
// reallocate.
func (m *Message) reset() {
	m.Type = MessageType{}
	m.TransactionID = [12]byte{}
	m.Raw = nil
	m.Attributes = m.Attributes[:0]
}

// Decode parses a STUN message from b into m, reusing m's Attributes
// backing slice. b is not copied: m.Raw and every attribute value alias
// it directly, so the caller must not mutate or reuse b while m is live.
//
// Decode only validates framing (header, magic cookie, length, attribute
// bounds and padding); it does not check MESSAGE-INTEGRITY or
// FINGERPRINT — see CheckIntegrity and CheckFingerprint.
func Decode(b []byte, m *Message) error {
	m.reset()
	if len(b) < HeaderSize {
		return ErrMessageTooShort
	}
	typeVal := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	cookie := binary.BigEndian.Uint32(b[4:8])
	if cookie != MagicCookie {
		return ErrBadMagicCookie
	}
	if int(length)+HeaderSize != len(b) {
		return ErrBadLength
	}
	m.Type = decodeMessageType(typeVal)
	copy(m.TransactionID[:], b[8:20])
	m.Raw = b

	offset := HeaderSize
	end := len(b)
	var unknownRequired []uint16
	for offset < end {
		if offset+4 > end {
			return ErrTruncatedAttribute
		}
		attrType := binary.BigEndian.Uint16(b[offset : offset+2])
		attrLen := int(binary.BigEndian.Uint16(b[offset+2 : offset+4]))
		valueStart := offset + 4
		valueEnd := valueStart + attrLen
		if valueEnd > end {
			return ErrTruncatedAttribute
		}
		m.Attributes = append(m.Attributes, RawAttribute{
			Type:  attrType,
			Value: b[valueStart:valueEnd],
		})
		if attrType < 0x8000 && !knownAttribute(attrType) {
			unknownRequired = append(unknownRequired, attrType)
		}
		padded := (attrLen + 3) &^ 3
		offset = valueStart + padded
	}
	if offset != end {
		return ErrTruncatedAttribute
	}
	if len(unknownRequired) > 0 {
		return &UnknownAttributesError{Types: unknownRequired}
	}
	return nil
}

func knownAttribute(t uint16) bool {
	switch t {
	case AttrMappedAddress, AttrUsername, AttrMessageIntegrity, AttrErrorCode,
		AttrUnknownAttributes, AttrChannelNumber, AttrLifetime, AttrXORPeerAddress,
		AttrData, AttrRealm, AttrNonce, AttrXORRelayedAddress, AttrRequestedTransport,
		AttrDontFragment, AttrXORMappedAddress, AttrReqAddressFamily,
		AttrMessageIntegritySHA256, AttrPasswordAlgorithm, AttrPasswordAlgorithms:
		return true
	default:
		return false
	}
}
