package client

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/scribelog/scribec/config"
	"github.com/scribelog/scribec/internal"
	"github.com/scribelog/scribec/protocol"
	"github.com/scribelog/scribec/scribe"
)

// conn is one established connection to the collector. The client owns it
// for its whole lifetime: a reconnect replaces the conn, it is never reused.
type conn struct {
	conf   *config.Config
	nc     net.Conn
	client *Client

	wmu sync.Mutex
	w   *protocol.Writer

	r *protocol.Reader

	mu      sync.Mutex
	seq     int32
	pending map[int32]*Call
	closed  bool
}

func newConn(conf *config.Config, nc net.Conn, c *Client) *conn {
	return &conn{
		conf:    conf,
		nc:      nc,
		client:  c,
		w:       protocol.NewWriter(conf, bufio.NewWriter(nc)),
		r:       protocol.NewReader(conf, bufio.NewReader(nc)),
		pending: make(map[int32]*Call),
	}
}

// register allocates the next sequence id and tracks the call under it.
// Sequence ids are monotonic per connection; an id is never reused while its
// call is unresolved.
func (cn *conn) register(call *Call) (int32, bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return 0, false
	}
	cn.seq++
	call.Seq = cn.seq
	cn.pending[cn.seq] = call
	return cn.seq, true
}

// take removes and returns the pending call for seq. Whoever takes a call
// owns its resolution; this is what makes resolution exactly-once.
func (cn *conn) take(seq int32) *Call {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	call := cn.pending[seq]
	delete(cn.pending, seq)
	return call
}

// send encodes and flushes one Log call. A write failure means the
// connection is gone.
func (cn *conn) send(call *Call, entries []scribe.LogEntry) {
	seq, ok := cn.register(call)
	if !ok {
		call.fail(connectivityErr("connection closed", nil))
		return
	}

	cn.wmu.Lock()
	if cn.conf.Timeout > 0 {
		internal.IgnoreError(cn.nc.SetWriteDeadline(time.Now().Add(cn.conf.Timeout)))
	}
	err := scribe.WriteLogCall(cn.w, seq, entries)
	cn.wmu.Unlock()

	if err != nil {
		if c := cn.take(seq); c != nil {
			c.fail(connectivityErr("write failed", err))
		}
		cn.teardown(connectivityErr("write failed", err))
	}
}

// readLoop decodes replies until the connection dies. One loop per conn,
// started by the client on connect.
func (cn *conn) readLoop() {
	for {
		name, kind, seq, err := cn.r.ReadMessageBegin()
		if err != nil {
			cn.teardown(connectivityErr("connection lost", err))
			return
		}

		call := cn.take(seq)
		if call == nil {
			// a reply we never asked for means the decode stream can't be
			// trusted anymore
			cn.teardown(protocolErr("reply for unknown sequence id", nil))
			return
		}

		switch kind {
		case protocol.Exception:
			exc, rerr := protocol.ReadApplicationException(cn.r)
			if rerr != nil {
				call.fail(protocolErr("malformed exception", rerr))
				cn.teardown(connectivityErr("connection lost", rerr))
				return
			}
			call.fail(exceptionErr(exc))
		case protocol.Reply:
			if name != scribe.MethodLog {
				call.fail(protocolErr("reply for unexpected method "+name, nil))
				break
			}
			code, rerr := scribe.ReadLogResult(cn.r)
			if rerr == scribe.ErrMissingResult {
				call.fail(missingResultErr(rerr))
				break
			}
			if rerr != nil {
				call.fail(protocolErr("malformed reply", rerr))
				cn.teardown(connectivityErr("connection lost", rerr))
				return
			}
			call.resolve(code)
		default:
			// inbound CALL on a client connection
			call.fail(protocolErr("unexpected message kind "+kind.String(), nil))
		}

		if err := cn.r.ReadMessageEnd(); err != nil {
			cn.teardown(connectivityErr("connection lost", err))
			return
		}
	}
}

// teardown closes the connection, notifies the client, and fails every
// still-pending call with err. Safe to call more than once; only the first
// call does anything.
func (cn *conn) teardown(err *Error) {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	pending := cn.pending
	cn.pending = nil
	cn.mu.Unlock()

	internal.IgnoreError(cn.nc.Close())
	cn.client.lost(cn, err)

	for _, call := range pending {
		call.fail(err)
	}
}
