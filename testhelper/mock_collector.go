package testhelper

import (
	"bytes"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/scribelog/scribec/config"
	"github.com/scribelog/scribec/internal"
	"github.com/scribelog/scribec/protocol"
	"github.com/scribelog/scribec/scribe"
)

// Expectation inspects one decoded Log call and produces the response to
// write back. Returning nil writes nothing.
type Expectation func(seq int32, entries []scribe.LogEntry) io.WriterTo

// MockCollector speaks the collector's side of the framed protocol over a
// net.Conn, usually one end of a net.Pipe. Expectations are consumed in
// order, one per inbound call.
type MockCollector struct {
	conf *config.Config
	c    net.Conn
	in   chan Expectation
	done chan struct{}
	once sync.Once
}

// NewMockCollector returns a new MockCollector reading from c.
func NewMockCollector(conf *config.Config, c net.Conn) *MockCollector {
	s := &MockCollector{
		conf: conf,
		c:    c,
		in:   make(chan Expectation, 100),
		done: make(chan struct{}),
	}

	go s.loop()
	return s
}

// Pipe returns a MockCollector and the client end of its connection.
func Pipe(conf *config.Config) (*MockCollector, net.Conn) {
	server, client := net.Pipe()
	return NewMockCollector(conf, server), client
}

// Expect queues an expectation for the next inbound call.
func (s *MockCollector) Expect(cb Expectation) {
	s.in <- cb
}

// ExpectReply queues an expectation that responds with code.
func (s *MockCollector) ExpectReply(code scribe.ResultCode) {
	s.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		return NewLogReply(s.conf, seq, code)
	})
}

// Send writes a response outside the expectation flow, for replies that
// should land while a call is still being held open.
func (s *MockCollector) Send(wt io.WriterTo) error {
	_, err := wt.WriteTo(s.c)
	return err
}

// CloseConn closes the server end of the connection, simulating a drop.
func (s *MockCollector) CloseConn() error {
	return s.c.Close()
}

// Close stops the read loop and closes the connection.
func (s *MockCollector) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.c.Close()
	})
	return err
}

func (s *MockCollector) loop() {
	r := protocol.NewReader(s.conf, s.c)
	for {
		select {
		case <-s.done:
			return
		case cb := <-s.in:
			s.handleExpectation(r, cb)
		}
	}
}

func (s *MockCollector) handleExpectation(r *protocol.Reader, cb Expectation) {
	internal.IgnoreError(s.c.SetReadDeadline(time.Now().Add(2 * time.Second)))
	name, kind, seq, err := r.ReadMessageBegin()
	if err != nil {
		log.Panicf("expected request but read failed: %+v", err)
	}
	if kind != protocol.Call {
		log.Panicf("expected CALL but got %s", kind)
	}
	if name != scribe.MethodLog {
		log.Panicf("expected %s call but got %q", scribe.MethodLog, name)
	}

	entries, err := scribe.ReadLogArgs(r)
	if err != nil {
		log.Panicf("reading call args: %+v", err)
	}
	internal.IgnoreError(r.ReadMessageEnd())

	resp := cb(seq, entries)
	if resp == nil {
		return
	}
	if _, err := resp.WriteTo(s.c); err != nil {
		log.Printf("writing response: %+v", err)
	}
}

type rendered struct {
	b bytes.Buffer
}

func (rd *rendered) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(rd.b.Bytes())
	return int64(n), err
}

// NewLogReply returns a REPLY response carrying code for seq.
func NewLogReply(conf *config.Config, seq int32, code scribe.ResultCode) io.WriterTo {
	rd := &rendered{}
	w := protocol.NewWriter(conf, &rd.b)
	internal.PanicOnError(scribe.WriteLogReply(w, seq, code))
	return rd
}

// NewEmptyLogReply returns a REPLY whose result struct has no fields.
func NewEmptyLogReply(conf *config.Config, seq int32) io.WriterTo {
	rd := &rendered{}
	w := protocol.NewWriter(conf, &rd.b)
	internal.PanicOnError(scribe.WriteEmptyLogReply(w, seq))
	return rd
}

// NewLogException returns an EXCEPTION response for seq.
func NewLogException(conf *config.Config, seq int32, code int32, msg string) io.WriterTo {
	rd := &rendered{}
	w := protocol.NewWriter(conf, &rd.b)
	exc := &protocol.ApplicationException{Message: msg, Code: code}
	internal.PanicOnError(protocol.WriteException(w, scribe.MethodLog, seq, exc))
	return rd
}
