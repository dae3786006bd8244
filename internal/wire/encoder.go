package wire

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
	"net"
)

// Encoder builds a STUN message into a caller-owned scratch buffer,
// appending attributes and finally computing MESSAGE-INTEGRITY and
// FINGERPRINT over the assembled bytes.
//
// Each call to Extend returns a new Encoder; passing the same scratch
// buffer to Extend again reuses its backing array across datagrams.
type Encoder struct {
	buf  []byte
	txID [12]byte
}

// Extend starts building a new message of the given type and transaction
// ID into scratch[:0], reusing its backing array.
func Extend(t MessageType, txID [12]byte, scratch []byte) *Encoder {
	e := &Encoder{buf: scratch[:0], txID: txID}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint16(header[0:2], t.Value())
	binary.BigEndian.PutUint32(header[4:8], MagicCookie)
	copy(header[8:20], txID[:])
	e.buf = append(e.buf, header[:]...)
	return e
}

func (e *Encoder) addRaw(attrType uint16, value []byte) *Encoder {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], attrType)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	e.buf = append(e.buf, hdr[:]...)
	e.buf = append(e.buf, value...)
	if pad := (4 - len(value)%4) % 4; pad > 0 {
		var zero [4]byte
		e.buf = append(e.buf, zero[:pad]...)
	}
	return e
}

// AddUsername appends a USERNAME attribute.
func (e *Encoder) AddUsername(v string) *Encoder { return e.addRaw(AttrUsername, []byte(v)) }

// AddRealm appends a REALM attribute.
func (e *Encoder) AddRealm(v string) *Encoder {
	if v == "" {
		return e
	}
	return e.addRaw(AttrRealm, []byte(v))
}

// AddNonce appends a NONCE attribute.
func (e *Encoder) AddNonce(v string) *Encoder {
	if v == "" {
		return e
	}
	return e.addRaw(AttrNonce, []byte(v))
}

// AddSoftware appends a SOFTWARE attribute.
func (e *Encoder) AddSoftware(v string) *Encoder {
	if v == "" {
		return e
	}
	return e.addRaw(AttrSoftware, []byte(v))
}

// AddLifetime appends a LIFETIME attribute, in whole seconds.
func (e *Encoder) AddLifetime(seconds uint32) *Encoder {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], seconds)
	return e.addRaw(AttrLifetime, v[:])
}

// AddErrorCode appends an ERROR-CODE attribute.
func (e *Encoder) AddErrorCode(code int, reason string) *Encoder {
	v := make([]byte, 4+len(reason))
	v[2] = byte(code / 100)
	v[3] = byte(code % 100)
	copy(v[4:], reason)
	return e.addRaw(AttrErrorCode, v)
}

// AddUnknownAttributes appends an UNKNOWN-ATTRIBUTES list.
func (e *Encoder) AddUnknownAttributes(types []uint16) *Encoder {
	v := make([]byte, len(types)*2)
	for i, t := range types {
		binary.BigEndian.PutUint16(v[i*2:i*2+2], t)
	}
	return e.addRaw(AttrUnknownAttributes, v)
}

// AddData appends a DATA attribute.
func (e *Encoder) AddData(payload []byte) *Encoder { return e.addRaw(AttrData, payload) }

// AddChannelNumber appends a CHANNEL-NUMBER attribute (the first 16 bits
// carry the channel; the last 16 bits are reserved/zero).
func (e *Encoder) AddChannelNumber(n uint16) *Encoder {
	var v [4]byte
	binary.BigEndian.PutUint16(v[0:2], n)
	return e.addRaw(AttrChannelNumber, v[:])
}

// AddRequestedTransport appends a REQUESTED-TRANSPORT attribute.
func (e *Encoder) AddRequestedTransport(proto byte) *Encoder {
	var v [4]byte
	v[0] = proto
	return e.addRaw(AttrRequestedTransport, v[:])
}

func (e *Encoder) addXORAddress(attrType uint16, ip net.IP, port int) *Encoder {
	family, xip, xport := xorAddress(ip, port, e.txID)
	v := make([]byte, 4+len(xip))
	v[1] = family
	binary.BigEndian.PutUint16(v[2:4], xport)
	copy(v[4:], xip)
	return e.addRaw(attrType, v)
}

// AddXORMappedAddress appends XOR-MAPPED-ADDRESS.
func (e *Encoder) AddXORMappedAddress(ip net.IP, port int) *Encoder {
	return e.addXORAddress(AttrXORMappedAddress, ip, port)
}

// AddXORPeerAddress appends XOR-PEER-ADDRESS.
func (e *Encoder) AddXORPeerAddress(ip net.IP, port int) *Encoder {
	return e.addXORAddress(AttrXORPeerAddress, ip, port)
}

// AddXORRelayedAddress appends XOR-RELAYED-ADDRESS.
func (e *Encoder) AddXORRelayedAddress(ip net.IP, port int) *Encoder {
	return e.addXORAddress(AttrXORRelayedAddress, ip, port)
}

// IntegrityMode selects which MESSAGE-INTEGRITY variant Flush appends.
type IntegrityMode byte

const (
	// IntegrityNone appends no MESSAGE-INTEGRITY attribute.
	IntegrityNone IntegrityMode = iota
	// IntegritySHA1 appends MESSAGE-INTEGRITY (RFC 5389, HMAC-SHA1).
	IntegritySHA1
	// IntegritySHA256 appends MESSAGE-INTEGRITY-SHA256 (RFC 8489).
	IntegritySHA256
)

// Flush finalizes the message: writes the length header, optionally
// computes and appends MESSAGE-INTEGRITY (or its SHA-256 variant) over the
// key, then optionally appends FINGERPRINT, and returns the completed
// message bytes (the Encoder's backing array — valid until the next
// Extend call on the same Encoder or buffer).
func (e *Encoder) Flush(mode IntegrityMode, key []byte, fingerprint bool) []byte {
	switch mode {
	case IntegritySHA1:
		e.setLength(len(e.buf) - HeaderSize + 24)
		mac := hmac.New(sha1.New, key)
		mac.Write(e.buf)
		e.addRaw(AttrMessageIntegrity, mac.Sum(nil))
	case IntegritySHA256:
		e.setLength(len(e.buf) - HeaderSize + 36)
		mac := hmac.New(sha256.New, key)
		mac.Write(e.buf)
		e.addRaw(AttrMessageIntegritySHA256, mac.Sum(nil))
	default:
		e.setLength(len(e.buf) - HeaderSize)
	}
	if fingerprint {
		e.setLength(len(e.buf) - HeaderSize + 8)
		crc := crc32.ChecksumIEEE(e.buf) ^ FingerprintXOR
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], crc)
		e.addRaw(AttrFingerprint, v[:])
	}
	return e.buf
}

func (e *Encoder) setLength(n int) {
	binary.BigEndian.PutUint16(e.buf[2:4], uint16(n))
}
