package session

import (
	"net"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// shardsPerCPU sets the striped-lock fan-out: enough shards that
// concurrent allocations on different cores rarely contend on the same
// stripe, without the memory cost of one lock per session.
const shardsPerCPU = 16

type shard struct {
	mu      sync.RWMutex
	byTuple map[FiveTuple]*Session
	expiry  expiryQueue
}

// relayShard indexes sessions by relay port alone, for the peer-facing
// data path, which only knows the port data arrived on and not the
// client's five-tuple.
type relayShard struct {
	mu      sync.RWMutex
	byPort  map[int]*Session
}

// Manager indexes every live allocation by five-tuple (for client-facing
// requests, guarded by a lock striped on FiveTuple hash) and by relay
// port (for peer-facing data, guarded by a lock striped on port number),
// so unrelated allocations never contend on the same stripe.
type Manager struct {
	log    *zap.Logger
	ports  *PortAllocator
	relay  net.IP
	shards []*shard
	byPort []*relayShard
}

// Options configures a Manager.
type Options struct {
	Log *zap.Logger
	// RelayIP is the address advertised in XOR-RELAYED-ADDRESS.
	RelayIP net.IP
	// MinPort, MaxPort bound the virtual relay port range.
	MinPort, MaxPort int
}

// NewManager builds a Manager with shardsPerCPU*GOMAXPROCS stripes.
func NewManager(o Options) *Manager {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	n := runtime.GOMAXPROCS(0) * shardsPerCPU
	if n < 1 {
		n = shardsPerCPU
	}
	m := &Manager{
		log:    o.Log,
		ports:  NewPortAllocator(o.MinPort, o.MaxPort),
		relay:  o.RelayIP,
		shards: make([]*shard, n),
		byPort: make([]*relayShard, n),
	}
	for i := range m.shards {
		m.shards[i] = &shard{byTuple: make(map[FiveTuple]*Session)}
		m.byPort[i] = &relayShard{byPort: make(map[int]*Session)}
	}
	return m
}

// RelayIP returns the address this manager advertises in
// XOR-RELAYED-ADDRESS, so callers outside the package (the transport
// orchestrator, picking which interface owns outbound relay traffic)
// don't need to thread it through separately.
func (m *Manager) RelayIP() net.IP { return m.relay }

func (m *Manager) shardFor(t FiveTuple) *shard {
	return m.shards[t.hash()%uint64(len(m.shards))]
}

func (m *Manager) relayShardFor(port int) *relayShard {
	return m.byPort[uint64(port)%uint64(len(m.byPort))]
}

// Create allocates a fresh Session for tuple, assigning it a virtual
// relay port. Returns ErrAllocationExists if the tuple is already bound,
// matching RFC 5766 §6.2's 437 (Allocation Mismatch).
func (m *Manager) Create(tuple FiveTuple, username string, expires time.Time) (*Session, error) {
	sh := m.shardFor(tuple)
	sh.mu.Lock()
	if _, ok := sh.byTuple[tuple]; ok {
		sh.mu.Unlock()
		return nil, ErrAllocationExists
	}
	sh.mu.Unlock()

	port, err := m.ports.Allocate()
	if err != nil {
		return nil, err
	}

	s := &Session{
		Tuple:     tuple,
		RelayIP:   m.relay,
		RelayPort: port,
		Username:  username,
		Expires:   expires,
	}

	sh.mu.Lock()
	if _, ok := sh.byTuple[tuple]; ok {
		sh.mu.Unlock()
		m.ports.Release(port)
		return nil, ErrAllocationExists
	}
	sh.byTuple[tuple] = s
	sh.expiry.push(s)
	sh.mu.Unlock()

	rs := m.relayShardFor(port)
	rs.mu.Lock()
	rs.byPort[port] = s
	rs.mu.Unlock()

	if ce := m.log.Check(zap.DebugLevel, "allocated"); ce != nil {
		ce.Write(zap.Stringer("tuple", tuple), zap.Int("port", port))
	}
	return s, nil
}

// Lookup returns the Session for a client-facing five-tuple.
func (m *Manager) Lookup(tuple FiveTuple) (*Session, bool) {
	sh := m.shardFor(tuple)
	sh.mu.RLock()
	s, ok := sh.byTuple[tuple]
	sh.mu.RUnlock()
	return s, ok
}

// LookupByRelay returns the Session owning a relay port, for demuxing
// inbound peer data to the right client allocation.
func (m *Manager) LookupByRelay(port int) (*Session, bool) {
	rs := m.relayShardFor(port)
	rs.mu.RLock()
	s, ok := rs.byPort[port]
	rs.mu.RUnlock()
	return s, ok
}

// Refresh updates a session's expiry, or removes it immediately when
// expires is not after now (RFC 5766 §7.3: a Refresh with LIFETIME=0
// deletes the allocation).
func (m *Manager) Refresh(tuple FiveTuple, expires time.Time, now time.Time) error {
	sh := m.shardFor(tuple)
	sh.mu.Lock()
	s, ok := sh.byTuple[tuple]
	if !ok {
		sh.mu.Unlock()
		return ErrAllocationMismatch
	}
	if !expires.After(now) {
		m.removeFromTupleShard(sh, s)
		sh.mu.Unlock()
		m.removeFromRelayShard(s)
		m.ports.Release(s.RelayPort)
		return nil
	}
	s.Expires = expires
	sh.expiry.fix(s)
	sh.mu.Unlock()
	return nil
}

// Remove deletes the allocation for tuple.
func (m *Manager) Remove(tuple FiveTuple) error {
	sh := m.shardFor(tuple)
	sh.mu.Lock()
	s, ok := sh.byTuple[tuple]
	if !ok {
		sh.mu.Unlock()
		return ErrAllocationMismatch
	}
	m.removeFromTupleShard(sh, s)
	sh.mu.Unlock()
	m.removeFromRelayShard(s)
	m.ports.Release(s.RelayPort)
	return nil
}

func (m *Manager) removeFromTupleShard(sh *shard, s *Session) {
	delete(sh.byTuple, s.Tuple)
	sh.expiry.remove(s)
}

func (m *Manager) removeFromRelayShard(s *Session) {
	rs := m.relayShardFor(s.RelayPort)
	rs.mu.Lock()
	delete(rs.byPort, s.RelayPort)
	rs.mu.Unlock()
}

// CreatePermission installs or refreshes a permission on the session
// identified by tuple.
func (m *Manager) CreatePermission(tuple FiveTuple, peer net.IP, expires time.Time) error {
	s, ok := m.Lookup(tuple)
	if !ok {
		return ErrAllocationMismatch
	}
	s.CreatePermission(peer, expires)
	return nil
}

// ChannelBind installs or refreshes a channel binding on the session
// identified by tuple.
func (m *Manager) ChannelBind(tuple FiveTuple, number uint16, peer Addr, expires time.Time) error {
	if !ValidChannelNumber(number) {
		return ErrInvalidChannelNumber
	}
	s, ok := m.Lookup(tuple)
	if !ok {
		return ErrAllocationMismatch
	}
	return s.Bind(number, peer, expires)
}

// ValidChannelNumber reports whether n is in TURN's channel number range.
func ValidChannelNumber(n uint16) bool { return n >= 0x4000 && n <= 0x7FFF }

// FindByPeer scans live sessions for one with an active permission for
// peer. It exists because this server advertises relay ports virtually
// (no real per-session OS socket, see package session doc) rather than
// opening one real listener per allocation: a datagram that physically
// arrives on a shared interface socket carries no usable destination
// port to key LookupByRelay with, so the transport layer falls back to
// matching by the sender's address instead. Cost is O(live sessions);
// acceptable because it only runs for traffic that didn't classify as a
// STUN message or ChannelData frame.
func (m *Manager) FindByPeer(peer net.IP, now time.Time) (*Session, bool) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.byTuple {
			if s.AllowPeer(peer, now) {
				sh.mu.RUnlock()
				return s, true
			}
		}
		sh.mu.RUnlock()
	}
	return nil, false
}

// Tick reaps every session across every shard whose Expires is at or
// before now, and prunes expired permissions/bindings on the survivors.
// It returns the count of reaped sessions, for metrics. onExpire, if
// non-nil, is called once per reaped session (outside any shard lock) so
// a caller can report its own on_destroy-equivalent event; this package
// has no EventSink dependency of its own, per the capability-interface
// boundary the router owns.
func (m *Manager) Tick(now time.Time, onExpire func(*Session)) int {
	reaped := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		expired := sh.expiry.popExpired(now)
		for _, s := range expired {
			delete(sh.byTuple, s.Tuple)
		}
		for _, s := range sh.byTuple {
			s.prune(now)
		}
		sh.mu.Unlock()

		for _, s := range expired {
			m.removeFromRelayShard(s)
			m.ports.Release(s.RelayPort)
			if onExpire != nil {
				onExpire(s)
			}
		}
		reaped += len(expired)
	}
	if reaped > 0 {
		if ce := m.log.Check(zap.DebugLevel, "reaped"); ce != nil {
			ce.Write(zap.Int("count", reaped))
		}
	}
	return reaped
}

// ManagerStats summarizes the manager's current load, for metrics/logging.
type ManagerStats struct {
	Sessions int
	PortsUse int
}

// Snapshot returns the manager's aggregate stats.
func (m *Manager) Snapshot() ManagerStats {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.byTuple)
		sh.mu.RUnlock()
	}
	return ManagerStats{Sessions: n, PortsUse: m.ports.InUse()}
}
