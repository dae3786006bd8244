// Package router implements the TURN/STUN request dispatcher: credential
// verification, per-method handlers, and the peer<->client relay framing
// decision (ChannelData vs Data indication). It owns no sockets; the
// transport layer calls into it with decoded bytes and gets back bytes
// to write, plus an optional instruction to forward to a peer.
package router

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/boundary"
	"github.com/turnhub/turnd/internal/filter"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

// Options configures a Router.
type Options struct {
	Log    *zap.Logger
	Realm  string
	// Software, if non-empty, is echoed in a SOFTWARE attribute on every
	// response (RFC 5389 §15.10).
	Software string

	Sessions *session.Manager
	Auth     boundary.AuthHandler
	Events   boundary.EventSink

	// PeerFilter gates which peer IPs CreatePermission/ChannelBind/Send
	// may target. ClientFilter gates which client IPs may be served at
	// all. Both default to a filter.List with no rules whose default
	// action is filter.Allow.
	PeerFilter   *filter.List
	ClientFilter *filter.List

	// DefaultLifetime and MaxLifetime bound allocation/permission/binding
	// lifetimes (RFC 5766 §2.2, §8).
	DefaultLifetime time.Duration
	MaxLifetime     time.Duration

	// AuthForSTUN requires authentication on Binding requests too, not
	// just TURN methods. RFC 5389 Binding is ordinarily unauthenticated.
	AuthForSTUN bool

	// NonceLifetime bounds how long an issued NONCE remains valid before
	// the router forces rotation via 438 (Stale Nonce).
	NonceLifetime time.Duration
}

// Router dispatches decoded STUN/TURN requests and ChannelData frames.
type Router struct {
	log      *zap.Logger
	realm    string
	software string

	sessions *session.Manager
	auth     boundary.AuthHandler
	events   boundary.EventSink

	peerFilter   *filter.List
	clientFilter *filter.List

	defaultLifetime time.Duration
	maxLifetime     time.Duration
	authForSTUN     bool

	nonces *nonceManager
}

// New builds a Router from Options, defaulting unset fields the way the
// rest of this codebase defaults zap loggers and filter lists.
func New(o Options) *Router {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Events == nil {
		o.Events = boundary.NoopEventSink{}
	}
	if o.PeerFilter == nil {
		o.PeerFilter = filter.NewFilter(filter.Allow)
	}
	if o.ClientFilter == nil {
		o.ClientFilter = filter.NewFilter(filter.Allow)
	}
	if o.DefaultLifetime == 0 {
		o.DefaultLifetime = 10 * time.Minute
	}
	if o.MaxLifetime == 0 {
		o.MaxLifetime = time.Hour
	}
	if o.NonceLifetime == 0 {
		o.NonceLifetime = 10 * time.Minute
	}
	return &Router{
		log:             o.Log,
		realm:           o.Realm,
		software:        o.Software,
		sessions:        o.Sessions,
		auth:            o.Auth,
		events:          o.Events,
		peerFilter:      o.PeerFilter,
		clientFilter:    o.ClientFilter,
		defaultLifetime: o.DefaultLifetime,
		maxLifetime:     o.MaxLifetime,
		authForSTUN:     o.AuthForSTUN,
		nonces:          newNonceManager(o.NonceLifetime),
	}
}

// PeerDelivery is what Dispatch (for a Send indication) or
// HandleChannelData asks the transport layer to send onward: a relayed
// payload addressed to a peer. Replies to the client and HandlePeerData's
// client-bound frames are returned as plain bytes instead.
type PeerDelivery struct {
	Dest    net.Addr
	Payload []byte
}

// Dispatch decodes and processes one client-facing datagram (a STUN
// message; ChannelData is handled by HandleChannelData instead). It
// returns the bytes to write back to the client (nil for indications and
// dropped frames) and, for a Send indication that passed its permission
// check, a PeerDelivery instruction for the transport layer to forward
// onward from the allocation's relay port.
func (r *Router) Dispatch(raw []byte, client, server net.Addr, proto session.Proto, now time.Time) ([]byte, *PeerDelivery) {
	if r.clientFilter.Action(addrIP(client)) == filter.Deny {
		return nil, nil
	}
	ctx := acquireContext()
	defer releaseContext(ctx)
	ctx.Client = client
	ctx.Server = server
	ctx.Proto = proto
	ctx.Now = now
	ctx.Tuple = session.FiveTuple{
		Client: toSessionAddr(client),
		Server: toSessionAddr(server),
		Proto:  proto,
	}

	if err := wire.Decode(raw, ctx.request); err != nil {
		if uae, ok := err.(*wire.UnknownAttributesError); ok {
			return r.buildError(ctx, wire.CodeUnknownAttribute, uae), nil
		}
		if ce := r.log.Check(zap.DebugLevel, "failed to decode request"); ce != nil {
			ce.Write(zap.Stringer("client", client), zap.Error(err))
		}
		return nil, nil
	}

	// Preamble: a response-class message was never a request the server
	// should act on (e.g. a spoofed MethodAllocate+ClassSuccessResponse),
	// and a method this server doesn't implement gets no reply at all —
	// 420 is reserved for a comprehension-required attribute the decoder
	// itself didn't recognize, not for an unsupported method.
	if !validRequestClass(ctx.request.Type.Class) || !supportedMethod(ctx.request.Type.Method) {
		if ce := r.log.Check(zap.DebugLevel, "dropping unsupported request"); ce != nil {
			ce.Write(zap.Stringer("method", ctx.request.Type.Method), zap.Stringer("class", ctx.request.Type.Class))
		}
		return nil, nil
	}

	if ctx.request.Contains(wire.AttrFingerprint) {
		if err := wire.CheckFingerprint(ctx.request); err != nil {
			return r.buildError(ctx, wire.CodeBadRequest, nil), nil
		}
	}

	if r.needsAuth(ctx.request) {
		if resp, ok := r.authenticate(ctx); !ok {
			return resp, nil
		}
	} else {
		ctx.realm = r.realm
	}

	resp := r.route(ctx)
	return resp, ctx.relay
}

// validRequestClass reports whether class is one the server should ever
// act on; ClassSuccessResponse/ClassErrorResponse only ever originate
// from this server, so an inbound message with one of those classes is
// spoofed or malformed and must be dropped, never processed as a live
// request.
func validRequestClass(c wire.Class) bool {
	return c == wire.ClassRequest || c == wire.ClassIndication
}

// supportedMethod reports whether this server has a handler for m.
// MethodData is deliberately excluded: it's the server's own Data
// Indication to the client, never a method a client sends.
func supportedMethod(m wire.Method) bool {
	switch m {
	case wire.MethodBinding, wire.MethodAllocate, wire.MethodRefresh,
		wire.MethodCreatePermission, wire.MethodChannelBind, wire.MethodSend:
		return true
	default:
		return false
	}
}

func (r *Router) needsAuth(m *wire.Message) bool {
	if r.auth == nil {
		return false
	}
	if m.Type.Class == wire.ClassIndication {
		return false
	}
	if m.Type.Method == wire.MethodBinding && !r.authForSTUN {
		return false
	}
	return true
}

func (r *Router) route(ctx *Context) []byte {
	switch ctx.request.Type.Method {
	case wire.MethodBinding:
		return r.handleBinding(ctx)
	case wire.MethodAllocate:
		return r.handleAllocate(ctx)
	case wire.MethodRefresh:
		return r.handleRefresh(ctx)
	case wire.MethodCreatePermission:
		return r.handleCreatePermission(ctx)
	case wire.MethodChannelBind:
		return r.handleChannelBind(ctx)
	case wire.MethodSend:
		return r.handleSendIndication(ctx)
	default:
		// Unreachable via Dispatch (supportedMethod already filtered),
		// kept as a defensive drop for any other caller of route.
		return nil
	}
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.IP
	case *net.TCPAddr:
		return v.IP
	default:
		return nil
	}
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
