package router

import "github.com/turnhub/turnd/internal/wire"

// buildSuccess encodes a success response of the request's own method,
// with the given attribute-adding closure applied between the standard
// realm/nonce/software attributes and the integrity/fingerprint trailer.
func (r *Router) buildSuccess(ctx *Context, add func(*wire.Encoder)) []byte {
	return r.build(ctx, wire.ClassSuccessResponse, add)
}

// buildError encodes an error response carrying ERROR-CODE code. If
// unknownAttrs is non-nil, an UNKNOWN-ATTRIBUTES attribute listing its
// Types is appended too (the 420 flow, RFC 5389 §7.3.4).
func (r *Router) buildError(ctx *Context, code int, unknownAttrs *wire.UnknownAttributesError) []byte {
	reason := errorReason(code)
	return r.build(ctx, wire.ClassErrorResponse, func(e *wire.Encoder) {
		e.AddErrorCode(code, reason)
		if unknownAttrs != nil {
			e.AddUnknownAttributes(unknownAttrs.Types)
		}
	})
}

func (r *Router) build(ctx *Context, class wire.Class, add func(*wire.Encoder)) []byte {
	if ctx.request.Type.Class == wire.ClassIndication {
		return nil
	}
	t := wire.MessageType{Method: ctx.request.Type.Method, Class: class}
	e := wire.Extend(t, ctx.request.TransactionID, ctx.respBuf)
	e.AddRealm(ctx.realm)
	if ctx.nonce != "" {
		e.AddNonce(ctx.nonce)
	}
	e.AddSoftware(r.software)
	if add != nil {
		add(e)
	}
	ctx.resp = e.Flush(ctx.mode, ctx.key, true)
	ctx.respBuf = ctx.resp
	return ctx.resp
}

func errorReason(code int) string {
	switch code {
	case wire.CodeBadRequest:
		return "Bad Request"
	case wire.CodeUnauthorized:
		return "Unauthorized"
	case wire.CodeForbidden:
		return "Forbidden"
	case wire.CodeAllocMismatch:
		return "Allocation Mismatch"
	case wire.CodeStaleNonce:
		return "Stale Nonce"
	case wire.CodeAddrFamilyNotSupp:
		return "Address Family not Supported"
	case wire.CodeUnknownAttribute:
		return "Unknown Attribute"
	case wire.CodeNoCapacity:
		return "Allocation Quota Reached"
	default:
		return "Server Error"
	}
}
