package router

import (
	"go.uber.org/zap"

	"github.com/turnhub/turnd/internal/wire"
)

// authenticate runs the long-term-credential challenge/verify flow (RFC
// 5389 §10.2): it issues or validates a NONCE, requires
// MESSAGE-INTEGRITY once a valid nonce is in play, and on success leaves
// ctx.key/ctx.realm set for the handler and for response signing.
//
// It returns (resp, true) when authentication succeeded and processing
// should continue, or (resp, false) with resp already the final error
// response to send (which may be nil, meaning drop silently).
func (r *Router) authenticate(ctx *Context) ([]byte, bool) {
	ctx.realm = r.realm

	presented := ""
	if a, ok := ctx.request.Get(wire.AttrNonce); ok {
		presented = string(a.Value)
	}
	nextNonce, nonceErr := r.nonces.Check(ctx.Tuple, presented, ctx.Now)
	ctx.nonce = nextNonce

	if !ctx.request.Contains(wire.AttrMessageIntegrity) && !ctx.request.Contains(wire.AttrMessageIntegritySHA256) {
		if ce := r.log.Check(zap.DebugLevel, "integrity required"); ce != nil {
			ce.Write(zap.Stringer("client", ctx.Client))
		}
		return r.buildError(ctx, wire.CodeUnauthorized, nil), false
	}
	if nonceErr == ErrStaleNonce {
		return r.buildError(ctx, wire.CodeStaleNonce, nil), false
	}

	username, err := wire.ParseUsername(ctx.request)
	if err != nil {
		return r.buildError(ctx, wire.CodeBadRequest, nil), false
	}

	cred, err := r.auth.Authenticate(username, ctx.realm, ctx.Client)
	if err != nil {
		if ce := r.log.Check(zap.DebugLevel, "authentication failed"); ce != nil {
			ce.Write(zap.String("username", username), zap.Error(err))
		}
		return r.buildError(ctx, wire.CodeUnauthorized, nil), false
	}

	if ctx.request.Contains(wire.AttrMessageIntegritySHA256) {
		if err := wire.CheckIntegritySHA256(ctx.request, cred.Key); err != nil {
			return r.buildError(ctx, wire.CodeUnauthorized, nil), false
		}
		ctx.mode = wire.IntegritySHA256
	} else {
		if err := wire.CheckIntegrity(ctx.request, cred.Key); err != nil {
			return r.buildError(ctx, wire.CodeUnauthorized, nil), false
		}
		ctx.mode = wire.IntegritySHA1
	}
	ctx.key = cred.Key
	ctx.realm = cred.Realm
	ctx.username = username
	return nil, true
}
