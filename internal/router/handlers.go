package router

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/filter"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

func (r *Router) handleBinding(ctx *Context) []byte {
	r.events.Report(newEvent(boundaryBinding, ctx))
	return r.buildSuccess(ctx, func(e *wire.Encoder) {
		e.AddXORMappedAddress(ctx.Tuple.Client.IP, ctx.Tuple.Client.Port)
	})
}

func (r *Router) handleAllocate(ctx *Context) []byte {
	transport, err := wire.ParseRequestedTransport(ctx.request)
	if err != nil || transport != wire.RequestedTransportUDP {
		return r.buildError(ctx, wire.CodeBadRequest, nil)
	}
	// The session/port model is IPv4-only; a client asking for an IPv6
	// relay gets 440 rather than a silently-wrong IPv4 allocation.
	if family, err := wire.ParseRequestedAddressFamily(ctx.request); err == nil && family != wire.FamilyIPv4 {
		return r.buildError(ctx, wire.CodeAddrFamilyNotSupp, nil)
	}

	s, err := r.sessions.Create(ctx.Tuple, ctx.username, ctx.Now.Add(r.defaultLifetime))
	switch err {
	case nil:
		r.events.Report(newEvent(boundaryAllocationCreated, ctx))
		lifetime := r.defaultLifetime
		return r.buildSuccess(ctx, func(e *wire.Encoder) {
			e.AddXORMappedAddress(ctx.Tuple.Client.IP, ctx.Tuple.Client.Port)
			e.AddXORRelayedAddress(s.RelayIP, s.RelayPort)
			e.AddLifetime(uint32(lifetime.Seconds()))
		})
	case session.ErrAllocationExists:
		return r.buildError(ctx, wire.CodeAllocMismatch, nil)
	case session.ErrNoCapacity:
		return r.buildError(ctx, wire.CodeNoCapacity, nil)
	default:
		if ce := r.log.Check(zap.WarnLevel, "allocate failed"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return r.buildError(ctx, wire.CodeServerError, nil)
	}
}

func (r *Router) handleRefresh(ctx *Context) []byte {
	lifetime := r.defaultLifetime
	if v, err := wire.ParseLifetime(ctx.request); err == nil {
		lifetime = clampLifetime(v, r.maxLifetime)
	}

	var err error
	var destroyed bool
	if lifetime == 0 {
		err = r.sessions.Remove(ctx.Tuple)
		destroyed = err == nil
	} else {
		err = r.sessions.Refresh(ctx.Tuple, ctx.Now.Add(lifetime), ctx.Now)
	}
	switch err {
	case nil:
		if destroyed {
			r.events.Report(newEvent(boundaryAllocationDestroyed, ctx))
		} else {
			r.events.Report(newEvent(boundaryAllocationRefreshed, ctx))
		}
		return r.buildSuccess(ctx, func(e *wire.Encoder) {
			e.AddLifetime(uint32(lifetime.Seconds()))
		})
	case session.ErrAllocationMismatch:
		return r.buildError(ctx, wire.CodeAllocMismatch, nil)
	default:
		return r.buildError(ctx, wire.CodeServerError, nil)
	}
}

// handleCreatePermission installs a permission for every XOR-PEER-ADDRESS
// the request carries (RFC 5766 §9.1 allows more than one per request),
// not just the first.
func (r *Router) handleCreatePermission(ctx *Context) []byte {
	peerIPs, _, err := wire.ParseXORPeerAddresses(ctx.request)
	if err != nil || len(peerIPs) == 0 {
		return r.buildError(ctx, wire.CodeBadRequest, nil)
	}
	for _, peerIP := range peerIPs {
		if r.peerFilter.Action(peerIP) == filter.Deny {
			return r.buildError(ctx, wire.CodeForbidden, nil)
		}
	}
	lifetime := r.defaultLifetime
	if v, err := wire.ParseLifetime(ctx.request); err == nil {
		lifetime = clampLifetime(v, r.maxLifetime)
	}
	for _, peerIP := range peerIPs {
		switch err := r.sessions.CreatePermission(ctx.Tuple, peerIP, ctx.Now.Add(lifetime)); err {
		case nil:
		case session.ErrAllocationMismatch:
			return r.buildError(ctx, wire.CodeAllocMismatch, nil)
		default:
			return r.buildError(ctx, wire.CodeServerError, nil)
		}
	}
	r.events.Report(newEvent(boundaryPermissionCreated, ctx))
	return r.buildSuccess(ctx, nil)
}

func (r *Router) handleChannelBind(ctx *Context) []byte {
	peerIP, peerPort, err := wire.ParseXORPeerAddress(ctx.request)
	if err != nil {
		return r.buildError(ctx, wire.CodeBadRequest, nil)
	}
	number, err := wire.ParseChannelNumber(ctx.request)
	if err != nil || !session.ValidChannelNumber(number) {
		return r.buildError(ctx, wire.CodeBadRequest, nil)
	}
	if r.peerFilter.Action(peerIP) == filter.Deny {
		return r.buildError(ctx, wire.CodeForbidden, nil)
	}
	peer := session.Addr{IP: peerIP, Port: peerPort}
	switch err := r.sessions.ChannelBind(ctx.Tuple, number, peer, ctx.Now.Add(r.defaultLifetime)); err {
	case nil:
		r.events.Report(newEvent(boundaryChannelBound, ctx))
		return r.buildSuccess(ctx, nil)
	case session.ErrAllocationMismatch:
		return r.buildError(ctx, wire.CodeAllocMismatch, nil)
	case session.ErrChannelConflict:
		return r.buildError(ctx, wire.CodeBadRequest, nil)
	default:
		return r.buildError(ctx, wire.CodeServerError, nil)
	}
}

// handleSendIndication implements the client->peer direction of relay:
// Send is an indication (no response), so success is communicated
// through ctx.relay rather than a return value.
func (r *Router) handleSendIndication(ctx *Context) []byte {
	peerIP, peerPort, err := wire.ParseXORPeerAddress(ctx.request)
	if err != nil {
		return nil
	}
	data, err := wire.ParseData(ctx.request)
	if err != nil {
		return nil
	}
	s, ok := r.sessions.Lookup(ctx.Tuple)
	if !ok {
		return nil
	}
	if !s.AllowPeer(peerIP, ctx.Now) {
		if ce := r.log.Check(zap.DebugLevel, "send indication to unpermitted peer dropped"); ce != nil {
			ce.Write(zap.Stringer("tuple", ctx.Tuple), zap.String("peer", peerIP.String()))
		}
		return nil
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	ctx.relay = &PeerDelivery{
		Dest:    &net.UDPAddr{IP: append(net.IP(nil), peerIP...), Port: peerPort},
		Payload: payload,
	}
	s.Stats.AddOut(len(payload))
	return nil
}

func clampLifetime(seconds uint32, max time.Duration) time.Duration {
	d := time.Duration(seconds) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}
