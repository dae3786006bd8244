// Package transport binds the configured listening interfaces, reads
// bytes off them, and drives the Router/SessionManager with what it
// decodes. It owns every real socket in the system; Router and
// SessionManager never see a net.Conn.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turnhub/turnd/internal/router"
	"github.com/turnhub/turnd/internal/session"
)

// Options configures an Orchestrator.
type Options struct {
	Log        *zap.Logger
	Router     *router.Router
	Sessions   *session.Manager
	Interfaces []Interface

	// TickInterval controls how often Sessions.Tick reaps expired
	// allocations. Defaults to 5s.
	TickInterval time.Duration
}

// Orchestrator binds every configured Interface and runs its accept/read
// loop until Close or its context is cancelled, per spec.md §4.4.
type Orchestrator struct {
	log      *zap.Logger
	router   *router.Router
	sessions *session.Manager
	tick     time.Duration

	udp []*udpInterface
	tcp []*tcpInterface

	stop chan struct{}
}

// New builds an Orchestrator and opens every configured Interface's
// socket(s), without yet starting their read loops (call Serve for
// that).
func New(o Options) (*Orchestrator, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.TickInterval == 0 {
		o.TickInterval = 5 * time.Second
	}
	orch := &Orchestrator{
		log:      o.Log,
		router:   o.Router,
		sessions: o.Sessions,
		tick:     o.TickInterval,
		stop:     make(chan struct{}),
	}

	relayIP := relayIPOf(o.Sessions)

	var udpIfaces []*udpInterface
	var tcpIfaces []*tcpInterface
	for _, cfg := range o.Interfaces {
		switch cfg.Transport {
		case TransportUDP:
			u, err := newUDPInterface(cfg, o.Router, o.Sessions, o.Log, nil)
			if err != nil {
				orch.closeAll(udpIfaces, tcpIfaces)
				return nil, err
			}
			udpIfaces = append(udpIfaces, u)
		case TransportTCP:
			t, err := newTCPInterface(cfg, o.Router, o.Sessions, o.Log, nil)
			if err != nil {
				orch.closeAll(udpIfaces, tcpIfaces)
				return nil, err
			}
			tcpIfaces = append(tcpIfaces, t)
		default:
			orch.closeAll(udpIfaces, tcpIfaces)
			return nil, errors.Errorf("interface %q: unknown transport", cfg.Name)
		}
	}

	forward := noopForward(o.Log)
	if owner := chooseRelayOwner(udpIfaces, relayIP); owner != nil {
		forward = owner.enqueue
	}
	for _, u := range udpIfaces {
		u.forward = forward
	}
	for _, t := range tcpIfaces {
		t.forward = forward
	}

	for _, u := range udpIfaces {
		count := workers(u.cfg.Workers)
		if !u.cfg.ReusePort {
			count = 1
		}
		if err := u.listen(count); err != nil {
			orch.closeAll(udpIfaces, tcpIfaces)
			return nil, err
		}
	}
	for _, t := range tcpIfaces {
		if err := t.listen(); err != nil {
			orch.closeAll(udpIfaces, tcpIfaces)
			return nil, err
		}
	}

	orch.udp = udpIfaces
	orch.tcp = tcpIfaces
	return orch, nil
}

// relayIPOf extracts the configured relay IP from a SessionManager via
// its Snapshot-adjacent constructor option; Orchestrator needs it only
// to pick which Interface owns outbound relay traffic.
func relayIPOf(m *session.Manager) net.IP {
	if m == nil {
		return nil
	}
	return m.RelayIP()
}

// chooseRelayOwner picks the UDP interface whose External address
// matches the SessionManager's configured relay IP, falling back to the
// first UDP interface for single-relay-address deployments (the common
// case: one external address, possibly several bind interfaces).
func chooseRelayOwner(ifaces []*udpInterface, relayIP net.IP) *udpInterface {
	for _, u := range ifaces {
		if host, ok := u.server.(*net.UDPAddr); ok && relayIP != nil && host.IP.Equal(relayIP) {
			return u
		}
	}
	if len(ifaces) > 0 {
		return ifaces[0]
	}
	return nil
}

// noopForward is used when no UDP interface exists to own outbound
// relay traffic (a TCP-only deployment): peer-facing relay is
// inherently UDP, so Send indications and bound-channel data simply
// have nowhere to go and are dropped with a log line rather than
// crashing on a nil owner.
func noopForward(log *zap.Logger) func(*router.PeerDelivery) {
	return func(*router.PeerDelivery) {
		log.Warn("dropping relay datagram: no UDP interface configured to own peer-facing relay")
	}
}

func (o *Orchestrator) closeAll(udp []*udpInterface, tcp []*tcpInterface) {
	for _, u := range udp {
		u.close()
	}
	for _, t := range tcp {
		t.close()
	}
}

// Serve runs every interface's accept/read loop and the expiry ticker
// until ctx is cancelled or Close is called, using an errgroup so one
// interface's fatal error brings the rest down cleanly (mirrors the
// teacher's Server.Serve supervising one worker goroutine per CPU, here
// generalized to one per configured interface).
func (o *Orchestrator) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	stop := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-o.stop:
		}
		close(stop)
		return nil
	})

	for _, u := range o.udp {
		u := u
		g.Go(func() error {
			u.serve(stop)
			return nil
		})
	}
	for _, t := range o.tcp {
		t := t
		g.Go(func() error {
			t.serve(stop)
			return nil
		})
	}
	g.Go(func() error {
		o.runTicker(stop)
		return nil
	})

	return g.Wait()
}

func (o *Orchestrator) runTicker(stop <-chan struct{}) {
	t := time.NewTicker(o.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if n := o.router.Tick(now); n > 0 {
				if ce := o.log.Check(zap.DebugLevel, "reaped expired allocations"); ce != nil {
					ce.Write(zap.Int("count", n))
				}
			}
		}
	}
}

// Close stops every interface's loops and closes its sockets.
func (o *Orchestrator) Close() error {
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
	var first error
	for _, u := range o.udp {
		if err := u.close(); err != nil && first == nil {
			first = err
		}
	}
	for _, t := range o.tcp {
		if err := t.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
