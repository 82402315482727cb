// Package client implements an asynchronous scribe collector client. One
// logical connection is shared by any number of concurrent callers;
// connecting happens lazily on the first call and at most one connection
// attempt is in flight regardless of how many callers arrive while it runs.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/scribelog/scribec/config"
	"github.com/scribelog/scribec/internal"
	"github.com/scribelog/scribec/scribe"
)

type connState uint32

const (
	_ connState = iota

	stateNotConnected
	stateConnecting
	stateConnected
)

func (s connState) String() string {
	switch s {
	case stateNotConnected:
		return "NOT_CONNECTED"
	case stateConnecting:
		return "CONNECTING"
	case stateConnected:
		return "CONNECTED"
	default:
		return "<invalid connState value>"
	}
}

// Dialer defines an interface for connecting to collectors. It can be used
// for mocking in tests.
type Dialer interface {
	DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error)
}

type netDialer struct{}

func (nd *netDialer) DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}

// connWaiter is a caller parked while a connect attempt is in flight. Parked
// callers resume in the order they arrived.
type connWaiter func(cn *conn, err error)

// Client submits categorized log entries to a scribe collector.
type Client struct {
	conf   *config.Config
	dialer Dialer

	mu      sync.Mutex
	state   connState
	cn      *conn
	waiters []connWaiter
}

// New returns a new instance of Client. No connection is made until the
// first call.
func New(conf *config.Config) *Client {
	return &Client{
		conf:   conf,
		dialer: &netDialer{},
		state:  stateNotConnected,
	}
}

// SetDialer replaces the dialer. For testing purposes.
func (c *Client) SetDialer(d Dialer) *Client {
	c.dialer = d
	return c
}

// Log submits messages under category and blocks until the collector
// replies. A single message is the one-element batch convenience case.
func (c *Client) Log(category string, messages ...string) (scribe.ResultCode, error) {
	return c.LogAsync(category, messages).Wait()
}

// LogEntries submits an already-built batch and blocks for the reply.
func (c *Client) LogEntries(entries []scribe.LogEntry) (scribe.ResultCode, error) {
	return c.submit(entries).Wait()
}

// LogAsync submits messages under category and returns the in-flight call.
// If the connect attempt fails, the call fails with that connect error;
// entries are never buffered for a later retry.
func (c *Client) LogAsync(category string, messages []string) *Call {
	entries := make([]scribe.LogEntry, len(messages))
	for i, m := range messages {
		entries[i] = scribe.LogEntry{Category: category, Message: m}
	}
	return c.submit(entries)
}

func (c *Client) submit(entries []scribe.LogEntry) *Call {
	call := newCall()
	c.withConn(func(cn *conn, err error) {
		if err != nil {
			call.fail(err)
			return
		}
		cn.send(call, entries)
	})
	return call
}

// withConn resolves the shared connection and runs fn with it. While a
// connect attempt is in flight callers queue up FIFO; they all observe the
// outcome of that one attempt.
func (c *Client) withConn(fn connWaiter) {
	c.mu.Lock()
	switch c.state {
	case stateConnected:
		cn := c.cn
		c.mu.Unlock()
		fn(cn, nil)
	case stateConnecting:
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
	default:
		c.state = stateConnecting
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
		go c.connect()
	}
}

func (c *Client) connect() {
	internal.Debugf(c.conf, "connecting to %s", c.conf.Host)
	nc, err := c.dialer.DialTimeout("tcp", c.conf.Host, c.conf.DialTimeout)
	if err != nil {
		if nc != nil {
			internal.IgnoreError(nc.Close())
		}
		c.connectFailed(err)
		return
	}
	c.connected(nc)
}

func (c *Client) connected(nc net.Conn) {
	cn := newConn(c.conf, nc, c)

	c.mu.Lock()
	c.state = stateConnected
	c.cn = cn
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	internal.Debugf(c.conf, "connected to %s", c.conf.Host)
	go cn.readLoop()

	for _, fn := range waiters {
		fn(cn, nil)
	}
}

func (c *Client) connectFailed(err error) {
	c.mu.Lock()
	c.state = stateNotConnected
	c.cn = nil
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	internal.Logf("could not connect to collector %s: %+v", c.conf.Host, err)

	cerr := connectivityErr("connect to "+c.conf.Host+" failed", err)
	for _, fn := range waiters {
		fn(nil, cerr)
	}
}

// lost is called by a conn tearing itself down. Reconnection is lazy: the
// next call starts a fresh connect attempt.
func (c *Client) lost(cn *conn, err *Error) {
	c.mu.Lock()
	if c.cn == cn {
		c.state = stateNotConnected
		c.cn = nil
	}
	c.mu.Unlock()

	internal.Logf("connection lost to collector %s: %v", c.conf.Host, err)
}

// Close tears down the current connection, failing any in-flight calls. The
// client remains usable; a later call reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.cn
	c.mu.Unlock()

	if cn != nil {
		cn.teardown(connectivityErr("client closed", nil))
	}
	return nil
}
