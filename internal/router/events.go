package router

import (
	"time"

	"github.com/turnhub/turnd/internal/boundary"
	"github.com/turnhub/turnd/internal/session"
)

const (
	boundaryAllocationCreated   = boundary.EventAllocationCreated
	boundaryAllocationRefreshed = boundary.EventAllocationRefreshed
	boundaryAllocationDestroyed = boundary.EventAllocationDestroyed
	boundaryPermissionCreated   = boundary.EventPermissionCreated
	boundaryChannelBound        = boundary.EventChannelBound
	boundaryBinding             = boundary.EventBinding
)

func newEvent(kind boundary.EventKind, ctx *Context) boundary.Event {
	return boundary.Event{
		Kind:     kind,
		Username: ctx.username,
		Client:   ctx.Client,
		At:       ctx.Now,
	}
}

// Tick reaps expired sessions and reports one on_destroy-equivalent
// event per reaped session, the natural-expiry counterpart to the
// on_destroy handleRefresh reports for an explicit LIFETIME=0 Refresh.
// The transport orchestrator calls this instead of SessionManager.Tick
// directly so expiry never bypasses the EventSink.
func (r *Router) Tick(now time.Time) int {
	return r.sessions.Tick(now, func(s *session.Session) {
		r.events.Report(boundary.Event{
			Kind:     boundaryAllocationDestroyed,
			Username: s.Username,
			At:       now,
		})
	})
}
