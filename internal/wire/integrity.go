package wire

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by RFC 5389 long-term credential mechanism
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"hash/crc32"
)

// DeriveKeyMD5 computes the RFC 5389 §15.4 long-term credential key
// key = MD5(username ":" realm ":" password).
func DeriveKeyMD5(username, realm, password string) []byte {
	h := md5.New() //nolint:gosec
	h.Write([]byte(username + ":" + realm + ":" + password))
	return h.Sum(nil)
}

// DeriveKeySHA256 computes the RFC 8489 §9.2.1 long-term credential key
// using SHA-256 instead of MD5.
func DeriveKeySHA256(username, realm, password string) []byte {
	h := sha256.New()
	h.Write([]byte(username + ":" + realm + ":" + password))
	return h.Sum(nil)
}

// messageIntegrityOffset locates the MESSAGE-INTEGRITY (or -SHA256)
// attribute with the given digest size in a decoded message, returning its
// byte offset within Raw, or -1 if absent.
func messageIntegrityOffset(raw []byte, attrType uint16, digestSize int) int {
	offset := HeaderSize
	end := len(raw)
	for offset+4 <= end {
		t := binary.BigEndian.Uint16(raw[offset : offset+2])
		l := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		if t == attrType && l == digestSize {
			return offset
		}
		offset += 4 + ((l + 3) &^ 3)
	}
	return -1
}

// CheckIntegrity verifies the MESSAGE-INTEGRITY attribute (HMAC-SHA1) of a
// decoded message against key, per RFC 5389 §15.4. The HMAC covers the
// message up to, but not including, the MESSAGE-INTEGRITY attribute, with
// the STUN length field set as though that attribute were the last one in
// the message.
func CheckIntegrity(m *Message, key []byte) error {
	return checkIntegrity(m, key, AttrMessageIntegrity, sha1.New, 20)
}

// CheckIntegritySHA256 verifies MESSAGE-INTEGRITY-SHA256 (RFC 8489 §14.6).
func CheckIntegritySHA256(m *Message, key []byte) error {
	return checkIntegrity(m, key, AttrMessageIntegritySHA256, sha256.New, 32)
}

func checkIntegrity(m *Message, key []byte, attrType uint16, newHash func() hash.Hash, digestSize int) error {
	off := messageIntegrityOffset(m.Raw, attrType, digestSize)
	if off < 0 {
		return ErrIntegrityMissing
	}
	mac := hmac.New(newHash, key)
	coveredLen := off - HeaderSize + 4 + digestSize
	header := make([]byte, off)
	copy(header, m.Raw[:off])
	binary.BigEndian.PutUint16(header[2:4], uint16(coveredLen))
	mac.Write(header)
	expected := mac.Sum(nil)
	actual := m.Raw[off+4 : off+4+digestSize]
	if !hmac.Equal(expected, actual) {
		return ErrIntegrityFailed
	}
	return nil
}

// CheckFingerprint verifies the FINGERPRINT attribute, which RFC 5389
// §15.5 requires to be the last attribute in the message.
func CheckFingerprint(m *Message) error {
	raw := m.Raw
	if len(raw) < HeaderSize+8 {
		return ErrFingerprintMissing
	}
	off := len(raw) - 8
	t := binary.BigEndian.Uint16(raw[off : off+2])
	l := binary.BigEndian.Uint16(raw[off+2 : off+4])
	if t != AttrFingerprint || l != 4 {
		return ErrFingerprintMissing
	}
	expected := crc32.ChecksumIEEE(raw[:off]) ^ FingerprintXOR
	actual := binary.BigEndian.Uint32(raw[off+4 : off+8])
	if expected != actual {
		return ErrFingerprintFailed
	}
	return nil
}
