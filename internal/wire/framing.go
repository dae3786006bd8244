package wire

import "encoding/binary"

// FrameHeaderSize is the minimum number of leading bytes PeekFrameLen
// needs to determine a frame's total length on a byte stream (TCP).
const FrameHeaderSize = HeaderSize

// PeekFrameLen inspects a stream-transport connection's pending bytes
// and reports the total length of the next complete frame (header plus
// body, and for ChannelData the RFC 5766 §11.5 4-byte TCP padding),
// without decoding it. ok is false if b doesn't yet hold enough leading
// bytes to tell, in which case the caller should read more and retry. ok
// is also false when b's leading bits are neither STUN nor ChannelData;
// reading more bytes does not change that result.
func PeekFrameLen(b []byte) (n int, ok bool) {
	if len(b) == 0 {
		return 0, false
	}
	switch Classify(b) {
	case FrameSTUN:
		if len(b) < HeaderSize {
			return 0, false
		}
		return HeaderSize + int(binary.BigEndian.Uint16(b[2:4])), true
	case FrameChannelData:
		if len(b) < ChannelDataHeaderSize {
			return 0, false
		}
		length := int(binary.BigEndian.Uint16(b[2:4]))
		return ChannelDataHeaderSize + ((length + 3) &^ 3), true
	default:
		return 0, false
	}
}
