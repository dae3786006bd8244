package boundary

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/turnhub/turnd/internal/wire"
)

// PasswordAlgorithm selects which long-term-credential key derivation a
// StaticCredential uses.
type PasswordAlgorithm byte

const (
	AlgorithmMD5 PasswordAlgorithm = iota
	AlgorithmSHA256
)

// StaticCredential is one entry in a StaticAuthHandler's credential
// table.
type StaticCredential struct {
	Username  string
	Password  string
	Realm     string
	Algorithm PasswordAlgorithm
}

// ErrUnknownUser is returned by StaticAuthHandler for a username with no
// matching credential.
var ErrUnknownUser = errors.New("boundary: unknown username")

// StaticAuthHandler authenticates against an in-memory credential table,
// keyed by username and derived once at construction time rather than on
// every request.
type StaticAuthHandler struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewStaticAuthHandler builds a StaticAuthHandler from a fixed credential
// list, deriving each user's MESSAGE-INTEGRITY key up front.
func NewStaticAuthHandler(realm string, credentials []StaticCredential) *StaticAuthHandler {
	h := &StaticAuthHandler{creds: make(map[string]Credential, len(credentials))}
	for _, c := range credentials {
		r := c.Realm
		if r == "" {
			r = realm
		}
		var key []byte
		if c.Algorithm == AlgorithmSHA256 {
			key = wire.DeriveKeySHA256(c.Username, r, c.Password)
		} else {
			key = wire.DeriveKeyMD5(c.Username, r, c.Password)
		}
		h.creds[c.Username] = Credential{Key: key, Realm: r}
	}
	return h
}

// Authenticate implements AuthHandler by a username-keyed lookup; realm
// and addr are accepted to satisfy the interface but aren't consulted.
func (h *StaticAuthHandler) Authenticate(username, _ string, _ net.Addr) (Credential, error) {
	h.mu.RLock()
	c, ok := h.creds[username]
	h.mu.RUnlock()
	if !ok {
		return Credential{}, ErrUnknownUser
	}
	return c, nil
}

// NoopEventSink discards every event. It's the default for deployments
// that don't need lifecycle reporting.
type NoopEventSink struct{}

// Report implements EventSink by doing nothing.
func (NoopEventSink) Report(Event) {}
