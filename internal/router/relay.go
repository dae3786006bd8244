package router

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

// HandleChannelData processes a ChannelData frame from a client (the
// client->peer direction when a channel is bound, RFC 5766 §11.4). It
// returns the instruction to forward the payload to the peer, or nil if
// the frame is malformed or its channel isn't bound.
func (r *Router) HandleChannelData(raw []byte, client, server net.Addr, proto session.Proto, pad4 bool, now time.Time) *PeerDelivery {
	var cd wire.ChannelData
	if err := wire.DecodeChannelData(raw, pad4, &cd); err != nil {
		return nil
	}
	tuple := session.FiveTuple{
		Client: toSessionAddr(client),
		Server: toSessionAddr(server),
		Proto:  proto,
	}
	s, ok := r.sessions.Lookup(tuple)
	if !ok {
		return nil
	}
	peer, ok := s.PeerFor(cd.Number, now)
	if !ok {
		return nil
	}
	payload := make([]byte, len(cd.Data))
	copy(payload, cd.Data)
	s.Stats.AddOut(len(payload))
	return &PeerDelivery{
		Dest:    &net.UDPAddr{IP: append(net.IP(nil), peer.IP...), Port: peer.Port},
		Payload: payload,
	}
}

// HandlePeerDataByIP is the fallback peer-data path for transports that
// cannot key inbound traffic by relay port because no real per-session
// socket exists (see session.Manager.FindByPeer): it demuxes by matching
// the sender's address against every live session's permission list
// instead. Everything past that lookup is identical to HandlePeerData.
func (r *Router) HandlePeerDataByIP(peer session.Addr, payload []byte, pad4 bool, now time.Time) (frame []byte, client net.Addr, ok bool) {
	s, found := r.sessions.FindByPeer(peer.IP, now)
	if !found {
		return nil, nil, false
	}
	s.Stats.AddIn(len(payload))
	dest := &net.UDPAddr{IP: append(net.IP(nil), s.Tuple.Client.IP...), Port: s.Tuple.Client.Port}

	if number, bound := s.ChannelFor(peer, now); bound {
		return wire.EncodeChannelData(number, payload, pad4, nil), dest, true
	}

	e := wire.Extend(wire.MessageType{Method: wire.MethodData, Class: wire.ClassIndication}, newTransactionID(), nil)
	e.AddXORPeerAddress(peer.IP, peer.Port)
	e.AddData(payload)
	return e.Flush(wire.IntegrityNone, nil, true), dest, true
}

// HandlePeerData processes data arriving from a peer on a session's relay
// port (the peer->client direction, RFC 5766 §10.3). It returns the
// framed bytes to write to the client (ChannelData if the peer has a
// channel bound, otherwise a Data indication) and the client address to
// send them to. ok is false if no session owns relayPort or the peer
// lacks a permission, in which case the datagram must be dropped.
func (r *Router) HandlePeerData(relayPort int, peer session.Addr, payload []byte, pad4 bool, now time.Time) (frame []byte, client net.Addr, ok bool) {
	s, found := r.sessions.LookupByRelay(relayPort)
	if !found {
		return nil, nil, false
	}
	if !s.AllowPeer(peer.IP, now) {
		if ce := r.log.Check(zap.DebugLevel, "peer data dropped: no permission"); ce != nil {
			ce.Write(zap.Int("relayPort", relayPort), zap.String("peer", peer.IP.String()))
		}
		return nil, nil, false
	}
	s.Stats.AddIn(len(payload))
	dest := &net.UDPAddr{IP: append(net.IP(nil), s.Tuple.Client.IP...), Port: s.Tuple.Client.Port}

	if number, bound := s.ChannelFor(peer, now); bound {
		return wire.EncodeChannelData(number, payload, pad4, nil), dest, true
	}

	e := wire.Extend(wire.MessageType{Method: wire.MethodData, Class: wire.ClassIndication}, newTransactionID(), nil)
	e.AddXORPeerAddress(peer.IP, peer.Port)
	e.AddData(payload)
	return e.Flush(wire.IntegrityNone, nil, true), dest, true
}
