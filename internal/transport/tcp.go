package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/router"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

// tcpInterface owns one TCP acceptor for a configured Interface. TURN
// over TCP (RFC 6062) multiplexes STUN control messages and
// ChannelData on the same stream per connection; framing is recovered
// with wire.PeekFrameLen instead of relying on one read per datagram.
type tcpInterface struct {
	cfg      Interface
	log      *zap.Logger
	router   *router.Router
	sessions *session.Manager
	server   net.Addr
	forward  func(*router.PeerDelivery)

	ln net.Listener
}

func newTCPInterface(cfg Interface, r *router.Router, m *session.Manager, log *zap.Logger, forward func(*router.PeerDelivery)) (*tcpInterface, error) {
	server, err := net.ResolveTCPAddr("tcp", cfg.External)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve external address for %s", cfg.Name)
	}
	return &tcpInterface{
		cfg:      cfg,
		log:      log.With(zap.String("iface", cfg.Name)),
		router:   r,
		sessions: m,
		server:   server,
		forward:  forward,
	}, nil
}

func (t *tcpInterface) listen() error {
	ln, err := net.Listen("tcp", t.cfg.Bind)
	if err != nil {
		return errors.Wrapf(err, "listen tcp %s", t.cfg.Bind)
	}
	t.ln = ln
	return nil
}

func (t *tcpInterface) close() error {
	if t.ln == nil {
		return nil
	}
	return t.ln.Close()
}

func (t *tcpInterface) serve(stop <-chan struct{}) {
	go func() {
		<-stop
		t.ln.Close()
	}()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if !isClosed(err) {
				t.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		go t.serveConn(conn, stop)
	}
}

const tcpScratchSize = 4096

func (t *tcpInterface) serveConn(conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()
	client := conn.RemoteAddr()
	idle := t.cfg.IdleTimeout
	if idle == 0 {
		idle = 2 * time.Minute
	}

	buf := make([]byte, 0, tcpScratchSize)
	read := make([]byte, tcpScratchSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		frameLen, ok := wire.PeekFrameLen(buf)
		for !ok {
			if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				t.log.Warn("failed to set read deadline", zap.Error(err))
			}
			n, err := conn.Read(read)
			if err != nil {
				return
			}
			buf = append(buf, read[:n]...)
			frameLen, ok = wire.PeekFrameLen(buf)
			if ok && frameLen > cap(buf) {
				grown := make([]byte, len(buf), frameLen)
				copy(grown, buf)
				buf = grown
			}
		}
		for len(buf) < frameLen {
			if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				t.log.Warn("failed to set read deadline", zap.Error(err))
			}
			n, err := conn.Read(read)
			if err != nil {
				return
			}
			buf = append(buf, read[:n]...)
		}

		frame := make([]byte, frameLen)
		copy(frame, buf[:frameLen])
		buf = buf[:copy(buf, buf[frameLen:])]

		t.handle(conn, client, frame)
	}
}

func (t *tcpInterface) handle(conn net.Conn, client net.Addr, frame []byte) {
	now := time.Now()
	switch wire.Classify(frame) {
	case wire.FrameSTUN:
		resp, relay := t.router.Dispatch(frame, client, t.server, session.ProtoTCP, now)
		if len(resp) > 0 {
			t.write(conn, resp)
		}
		if relay != nil {
			t.forward(relay)
		}
	case wire.FrameChannelData:
		if relay := t.router.HandleChannelData(frame, client, t.server, session.ProtoTCP, true, now); relay != nil {
			t.forward(relay)
		}
	}
}

func (t *tcpInterface) write(conn net.Conn, b []byte) {
	if err := conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		t.log.Warn("failed to set write deadline", zap.Error(err))
	}
	if _, err := conn.Write(b); err != nil && !isClosed(err) {
		t.log.Warn("write failed", zap.Error(err))
	}
}
