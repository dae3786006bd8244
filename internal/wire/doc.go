// Package wire implements the binary STUN/TURN codec: message and
// ChannelData parsing, attribute accessors, and response encoding with
// MESSAGE-INTEGRITY and FINGERPRINT, per RFC 5389, RFC 5766, RFC 6062 and
// RFC 6156.
//
// Decoding borrows from the input slice wherever possible; attribute values
// are sub-slices of the decoded message's backing array and are only valid
// until that array is reused by the caller.
package wire
