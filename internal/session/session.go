package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelBinding is a channel number bound to a peer address (RFC 5766
// §11).
type ChannelBinding struct {
	Number  uint16
	Peer    Addr
	Expires time.Time
}

// Permission is the address-restricted filter a CreatePermission or
// ChannelBind installs for a peer IP (RFC 5766 §2.3, §9).
type Permission struct {
	IP      net.IP
	Expires time.Time
}

func (p *Permission) expired(now time.Time) bool { return !p.Expires.After(now) }

// Stats holds lock-free per-session counters, safe for concurrent
// updates from the relay hot path.
type Stats struct {
	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64
}

// AddIn records n bytes of relayed traffic arriving from a peer.
func (s *Stats) AddIn(n int) {
	atomic.AddUint64(&s.PacketsIn, 1)
	atomic.AddUint64(&s.BytesIn, uint64(n))
}

// AddOut records n bytes of relayed traffic sent to a peer.
func (s *Stats) AddOut(n int) {
	atomic.AddUint64(&s.PacketsOut, 1)
	atomic.AddUint64(&s.BytesOut, uint64(n))
}

// Snapshot returns a consistent-enough point-in-time copy for reporting.
func (s *Stats) Snapshot() Stats {
	return Stats{
		PacketsIn:  atomic.LoadUint64(&s.PacketsIn),
		PacketsOut: atomic.LoadUint64(&s.PacketsOut),
		BytesIn:    atomic.LoadUint64(&s.BytesIn),
		BytesOut:   atomic.LoadUint64(&s.BytesOut),
	}
}

// Session is a single TURN allocation: a five-tuple bound to a relay
// port, its permissions and channel bindings, and its expiry.
//
// A Session's own mutex guards only its permission/binding slices; the
// Manager's striped lock guards membership in the index.
type Session struct {
	Tuple      FiveTuple
	RelayIP    net.IP
	RelayPort  int
	Username   string
	Expires    time.Time
	expiryIdx  int // heap index, owned by the Manager's expiry queue
	Stats      Stats

	mu          sync.Mutex
	permissions []Permission
	bindings    []ChannelBinding
}

// Relay returns the session's relayed transport address.
func (s *Session) Relay() Addr { return Addr{IP: s.RelayIP, Port: s.RelayPort} }

// CreatePermission installs or refreshes a permission for peer, per RFC
// 5766 §9.2: a second CreatePermission for an IP already permitted simply
// refreshes its expiry.
func (s *Session) CreatePermission(peer net.IP, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.permissions {
		if s.permissions[i].IP.Equal(peer) {
			s.permissions[i].Expires = expires
			return
		}
	}
	s.permissions = append(s.permissions, Permission{IP: append(net.IP(nil), peer...), Expires: expires})
}

// AllowPeer reports whether data to/from peer currently passes the
// address-restricted permission filter.
func (s *Session) AllowPeer(peer net.IP, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.permissions {
		if s.permissions[i].IP.Equal(peer) && !s.permissions[i].expired(now) {
			return true
		}
	}
	return false
}

// Bind creates or refreshes a channel binding for peer, enforcing RFC
// 5766 §11's exclusivity: a channel number and a peer address must each
// map to exactly one binding within a session.
func (s *Session) Bind(number uint16, peer Addr, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bindings {
		b := &s.bindings[i]
		switch {
		case b.Number == number && b.Peer.Equal(peer):
			b.Expires = expires
			return nil
		case b.Number == number || b.Peer.Equal(peer):
			return ErrChannelConflict
		}
	}
	s.bindings = append(s.bindings, ChannelBinding{Number: number, Peer: peer, Expires: expires})
	for i := range s.permissions {
		if s.permissions[i].IP.Equal(peer.IP) {
			if expires.After(s.permissions[i].Expires) {
				s.permissions[i].Expires = expires
			}
			return nil
		}
	}
	s.permissions = append(s.permissions, Permission{IP: append(net.IP(nil), peer.IP...), Expires: expires})
	return nil
}

// ChannelFor returns the channel number bound to peer, if any.
func (s *Session) ChannelFor(peer Addr, now time.Time) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bindings {
		if s.bindings[i].Peer.Equal(peer) && s.bindings[i].Expires.After(now) {
			return s.bindings[i].Number, true
		}
	}
	return 0, false
}

// PeerFor returns the peer address bound to a channel number, if any.
func (s *Session) PeerFor(number uint16, now time.Time) (Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bindings {
		if s.bindings[i].Number == number && s.bindings[i].Expires.After(now) {
			return s.bindings[i].Peer, true
		}
	}
	return Addr{}, false
}

// prune drops permissions and bindings that expired at or before now.
// Called under the Manager's shard lock during Tick.
func (s *Session) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.permissions[:0]
	for _, p := range s.permissions {
		if !p.expired(now) {
			live = append(live, p)
		}
	}
	s.permissions = live

	liveBindings := s.bindings[:0]
	for _, b := range s.bindings {
		if b.Expires.After(now) {
			liveBindings = append(liveBindings, b)
		}
	}
	s.bindings = liveBindings
}
