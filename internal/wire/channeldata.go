package wire

import "encoding/binary"

// ChannelDataHeaderSize is the fixed 4-byte ChannelData header: channel
// number (2 bytes) + length (2 bytes), per RFC 5766 §11.4.
const ChannelDataHeaderSize = 4

// ChannelNumberMin and ChannelNumberMax bound the valid channel number
// range for ChannelBind (RFC 5766 §11).
const (
	ChannelNumberMin = 0x4000
	ChannelNumberMax = 0x7FFF
)

// ValidChannelNumber reports whether n is in [ChannelNumberMin,
// ChannelNumberMax].
func ValidChannelNumber(n uint16) bool {
	return n >= ChannelNumberMin && n <= ChannelNumberMax
}

// ChannelData is a decoded ChannelData frame. Data aliases the input
// slice given to DecodeChannelData.
type ChannelData struct {
	Number uint16
	Data   []byte
}

// DecodeChannelData parses a ChannelData frame. On TCP, RFC 5766 §11.5
// requires the frame to be padded to a 4-byte boundary; pad4 selects that
// behavior. On UDP no padding is applied and b must contain exactly the
// header plus payload.
func DecodeChannelData(b []byte, pad4 bool, cd *ChannelData) error {
	if len(b) < ChannelDataHeaderSize {
		return ErrChannelDataShort
	}
	number := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	payloadEnd := ChannelDataHeaderSize + int(length)
	if payloadEnd > len(b) {
		return ErrChannelDataShort
	}
	if pad4 {
		padded := ChannelDataHeaderSize + ((int(length) + 3) &^ 3)
		if padded != len(b) {
			return ErrChannelDataShort
		}
	} else if payloadEnd != len(b) {
		return ErrChannelDataShort
	}
	cd.Number = number
	cd.Data = b[ChannelDataHeaderSize:payloadEnd]
	return nil
}

// EncodeChannelData writes a ChannelData frame into dst[:0] (dst's backing
// array is reused) and returns the resulting slice. On TCP, the frame is
// padded to a 4-byte boundary with zero bytes; on UDP it is not.
func EncodeChannelData(number uint16, payload []byte, pad4 bool, dst []byte) []byte {
	dst = dst[:0]
	var hdr [ChannelDataHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], number)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	if pad4 {
		if pad := (4 - len(payload)%4) % 4; pad > 0 {
			var zero [4]byte
			dst = append(dst, zero[:pad]...)
		}
	}
	return dst
}
