package transport

import (
	"net"
	"strings"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/router"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

// udpInterface owns the real sockets for one configured UDP Interface,
// plus the channel its sockets drain to relay a PeerDelivery produced by
// a request served on a *different* interface (the cross-interface
// Exchange).
type udpInterface struct {
	cfg      Interface
	log      *zap.Logger
	router   *router.Router
	sessions *session.Manager
	server   net.Addr

	conns   []net.PacketConn
	pool    *workerPool
	relay   chan *router.PeerDelivery
	forward func(*router.PeerDelivery)
}

func newUDPInterface(cfg Interface, r *router.Router, m *session.Manager, log *zap.Logger, forward func(*router.PeerDelivery)) (*udpInterface, error) {
	server, err := net.ResolveUDPAddr("udp", cfg.External)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve external address for %s", cfg.Name)
	}
	u := &udpInterface{
		cfg:      cfg,
		log:      log.With(zap.String("iface", cfg.Name)),
		router:   r,
		sessions: m,
		server:   server,
		relay:    make(chan *router.PeerDelivery, 256),
		forward:  forward,
	}
	u.pool = &workerPool{
		WorkerFunc:      u.handle,
		MaxWorkersCount: workers(cfg.Workers),
		Logger:          u.log,
	}
	return u, nil
}

func workers(n int) int {
	if n > 0 {
		return n
	}
	return 128
}

// listen opens the interface's bind address. With ReusePort set and the
// kernel supporting SO_REUSEPORT, count distinct sockets are opened on
// the same address so their reads fan out across kernel-selected
// sockets instead of funneling through a single accept loop.
func (u *udpInterface) listen(count int) error {
	if !u.cfg.ReusePort || !reuseport.Available() {
		conn, err := net.ListenPacket("udp", u.cfg.Bind)
		if err != nil {
			return errors.Wrapf(err, "listen udp %s", u.cfg.Bind)
		}
		u.conns = append(u.conns, conn)
		return nil
	}
	for i := 0; i < count; i++ {
		conn, err := reuseport.ListenPacket("udp", u.cfg.Bind)
		if err != nil {
			if i == 0 {
				return errors.Wrapf(err, "reuseport listen udp %s", u.cfg.Bind)
			}
			u.log.Warn("failed to add reuseport socket", zap.Int("i", i), zap.Error(err))
			break
		}
		u.conns = append(u.conns, conn)
	}
	return nil
}

func (u *udpInterface) close() error {
	var first error
	for _, c := range u.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// serve runs one read loop per socket (one for non-reuseport, one per
// fanned-out socket otherwise) plus the relay drain loop, until stop
// fires.
func (u *udpInterface) serve(stop <-chan struct{}) {
	go u.drainRelay(stop)
	for _, conn := range u.conns {
		go u.readLoop(conn, stop)
	}
	u.pool.Start()
	<-stop
	u.pool.Stop()
}

func (u *udpInterface) readLoop(conn net.PacketConn, stop <-chan struct{}) {
	limit := bufSize(u.cfg.MTU)
	// One spare byte tells a datagram longer than limit apart from one of
	// exactly limit bytes, since ReadFrom truncates without reporting it.
	buf := make([]byte, limit+1)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if !isClosed(err) {
				u.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if n > limit {
			if ce := u.log.Check(zap.DebugLevel, "oversized datagram dropped"); ce != nil {
				ce.Write(zap.Int("limit", limit))
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		j := &job{conn: conn, addr: addr, data: data, arrived: time.Now()}
		if !u.pool.Serve(j) {
			u.log.Warn("worker pool saturated, dropping datagram")
		}
	}
}

func bufSize(mtu int) int {
	if mtu > 0 && mtu < 65507 {
		return mtu
	}
	return 2048
}

func (u *udpInterface) handle(j *job) {
	switch wire.Classify(j.data) {
	case wire.FrameSTUN:
		resp, relay := u.router.Dispatch(j.data, j.addr, u.server, session.ProtoUDP, j.arrived)
		if len(resp) > 0 {
			u.write(j.conn, resp, j.addr)
		}
		if relay != nil {
			u.forward(relay)
		}
	case wire.FrameChannelData:
		if relay := u.router.HandleChannelData(j.data, j.addr, u.server, session.ProtoUDP, false, j.arrived); relay != nil {
			u.forward(relay)
		}
	default:
		u.handlePeerData(j)
	}
}

// handlePeerData is the fallback demultiplex path documented on
// session.Manager.FindByPeer: datagrams that aren't STUN or ChannelData
// are assumed to be raw peer traffic arriving on this interface's
// shared socket, since no real per-session relay port is ever bound.
func (u *udpInterface) handlePeerData(j *job) {
	peer := toSessionAddr(j.addr)
	frame, dest, ok := u.router.HandlePeerDataByIP(peer, j.data, false, j.arrived)
	if !ok {
		return
	}
	u.write(j.conn, frame, dest)
}

// enqueue is the Exchange's single-producer-multi-consumer channel: any
// interface's Dispatch/HandleChannelData result lands here, and this
// interface's own drainRelay loop performs the actual socket send
// (relay traffic egresses via the interface whose External address
// matches the SessionManager's RelayIP, or the first UDP interface when
// none matches; the Orchestrator sets it as every interface's forward
// func).
func (u *udpInterface) enqueue(pd *router.PeerDelivery) {
	select {
	case u.relay <- pd:
	default:
		u.log.Warn("exchange channel saturated, dropping relay datagram")
	}
}

func (u *udpInterface) drainRelay(stop <-chan struct{}) {
	if len(u.conns) == 0 {
		return
	}
	conn := u.conns[0]
	for {
		select {
		case <-stop:
			return
		case pd := <-u.relay:
			u.write(conn, pd.Payload, pd.Dest)
		}
	}
}

func (u *udpInterface) write(conn net.PacketConn, b []byte, addr net.Addr) {
	if setErr := conn.SetWriteDeadline(time.Now().Add(time.Second)); setErr != nil {
		u.log.Warn("failed to set write deadline", zap.Error(setErr))
	}
	if _, err := conn.WriteTo(b, addr); err != nil && !isClosed(err) {
		u.log.Warn("write failed", zap.Error(err))
	}
}

func isClosed(err error) bool {
	return strings.HasSuffix(err.Error(), "use of closed network connection")
}

func toSessionAddr(a net.Addr) session.Addr {
	switch v := a.(type) {
	case *net.UDPAddr:
		return session.Addr{IP: v.IP, Port: v.Port}
	case *net.TCPAddr:
		return session.Addr{IP: v.IP, Port: v.Port}
	default:
		return session.Addr{}
	}
}
