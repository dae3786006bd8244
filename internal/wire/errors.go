package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel decode errors. A caller that gets one of these (other than
// UnknownAttributesError) drops the packet silently, per spec.
var (
	ErrMessageTooShort    = errors.New("wire: message shorter than header")
	ErrBadMagicCookie     = errors.New("wire: bad magic cookie")
	ErrBadLength          = errors.New("wire: length field inconsistent with buffer size")
	ErrTruncatedAttribute = errors.New("wire: attribute exceeds message bounds")
	ErrAttributeNotFound  = errors.New("wire: attribute not found")
	ErrBadAddressFamily   = errors.New("wire: unsupported address family")
	ErrBadUTF8            = errors.New("wire: attribute is not valid UTF-8")
	ErrIntegrityMissing   = errors.New("wire: MESSAGE-INTEGRITY attribute not present")
	ErrIntegrityFailed    = errors.New("wire: MESSAGE-INTEGRITY mismatch")
	ErrFingerprintMissing = errors.New("wire: FINGERPRINT attribute not present")
	ErrFingerprintFailed  = errors.New("wire: FINGERPRINT mismatch")

	// ErrChannelDataShort is returned by DecodeChannelData on a header that
	// doesn't fit or declares more payload than is available.
	ErrChannelDataShort = errors.New("wire: channel data frame truncated")
	// ErrBadChannelNumber is returned when a channel number is outside
	// [0x4000, 0x7FFF] (RFC 5766 §11).
	ErrBadChannelNumber = errors.New("wire: channel number out of range")
)

// UnknownAttributesError is returned by Decode when the message carries one
// or more comprehension-required attributes (type < 0x8000) this codec
// doesn't know. The caller should reply with error 420 and an
// UNKNOWN-ATTRIBUTES listing Types.
type UnknownAttributesError struct {
	Types []uint16
}

func (e *UnknownAttributesError) Error() string {
	return fmt.Sprintf("wire: %d unknown comprehension-required attribute(s)", len(e.Types))
}
