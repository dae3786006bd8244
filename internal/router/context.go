package router

import (
	"net"
	"sync"
	"time"

	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/wire"
)

var contextPool = sync.Pool{
	New: func() interface{} {
		return &Context{
			request:  new(wire.Message),
			reqBuf:   make([]byte, 0, 1500),
			respBuf:  make([]byte, 0, 1500),
		}
	},
}

// acquireContext returns a pooled Context ready for Decode.
func acquireContext() *Context {
	return contextPool.Get().(*Context)
}

func releaseContext(c *Context) {
	c.reset()
	contextPool.Put(c)
}

// Context carries everything a single request needs as it flows through
// Router.Dispatch: the decoded request, the caller's five-tuple, and the
// scratch buffer the response is encoded into.
//
// A Context is pooled; callers must not retain one (or its Response())
// past the Dispatch call that produced it.
type Context struct {
	Client net.Addr
	Server net.Addr
	Proto  session.Proto
	Tuple  session.FiveTuple
	Now    time.Time

	request *wire.Message
	reqBuf  []byte

	realm    string
	key      []byte
	mode     wire.IntegrityMode
	nonce    string
	username string

	respBuf []byte
	resp    []byte // set once Dispatch has built a response; nil for indications
	relay   *PeerDelivery
}

func (c *Context) reset() {
	c.Client = nil
	c.Server = nil
	c.Proto = 0
	c.Tuple = session.FiveTuple{}
	c.Now = time.Time{}
	c.realm = ""
	c.key = nil
	c.mode = wire.IntegrityNone
	c.nonce = ""
	c.username = ""
	c.resp = nil
	c.relay = nil
	c.respBuf = c.respBuf[:0]
}

// Response returns the bytes to write back to the client, or nil if the
// request was an indication (no reply) or produced no output.
func (c *Context) Response() []byte { return c.resp }
