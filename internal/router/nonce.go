package router

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/turnhub/turnd/internal/session"
)

// ErrStaleNonce means the nonce the client presented has expired or
// doesn't match the current one for its five-tuple; the caller should
// reply 438 (Stale Nonce) with the value Check returns.
var ErrStaleNonce = errors.New("router: stale nonce")

type nonceEntry struct {
	tuple      session.FiveTuple
	value      string
	validUntil time.Time
}

func (n *nonceEntry) valid(at time.Time) bool {
	return n.validUntil.IsZero() || n.validUntil.After(at)
}

// nonceManager issues and rotates per-five-tuple NONCE values (RFC 5389
// §10.2). A nonce older than duration is treated as stale and replaced.
type nonceManager struct {
	duration time.Duration

	mu      sync.Mutex
	entries []nonceEntry
}

func newNonceManager(duration time.Duration) *nonceManager {
	return &nonceManager{entries: make([]nonceEntry, 0, 64), duration: duration}
}

func newNonceValue() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// Check validates value against the current nonce for tuple, creating or
// rotating as needed. It always returns the nonce value the client
// should use next; a non-nil error (ErrStaleNonce) means the caller must
// challenge again with that value rather than proceed.
func (m *nonceManager) Check(tuple session.FiveTuple, value string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		e := &m.entries[i]
		if !e.tuple.Equal(tuple) {
			continue
		}
		if e.valid(at) {
			if e.value != value {
				return e.value, ErrStaleNonce
			}
			return e.value, nil
		}
		e.value = newNonceValue()
		e.validUntil = at.Add(m.duration)
		return e.value, ErrStaleNonce
	}
	e := nonceEntry{tuple: tuple, value: newNonceValue()}
	if m.duration != 0 {
		e.validUntil = at.Add(m.duration)
	}
	m.entries = append(m.entries, e)
	return e.value, ErrStaleNonce
}

// sweep drops nonce entries stale before cutoff, bounding memory for
// long-running servers with many short-lived clients.
func (m *nonceManager) sweep(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.entries[:0]
	for _, e := range m.entries {
		if e.validUntil.IsZero() || e.validUntil.After(cutoff) {
			live = append(live, e)
		}
	}
	m.entries = live
}
