package client

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/scribelog/scribec/config"
	"github.com/scribelog/scribec/protocol"
	"github.com/scribelog/scribec/scribe"
	"github.com/scribelog/scribec/testhelper"
)

// mockDialer hands out net.Pipe connections backed by MockCollectors. It can
// gate connect attempts so tests control exactly when one completes, and it
// counts every attempt.
type mockDialer struct {
	conf *config.Config

	mu      sync.Mutex
	dials   int
	failN   int
	gate    chan struct{}
	servers []*testhelper.MockCollector
}

func newMockDialer(conf *config.Config) *mockDialer {
	return &mockDialer{conf: conf}
}

func (d *mockDialer) DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.failN > 0
	if fail {
		d.failN--
	}
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("connection refused")
	}

	server, client := net.Pipe()
	s := testhelper.NewMockCollector(d.conf, server)
	d.mu.Lock()
	d.servers = append(d.servers, s)
	d.mu.Unlock()
	return client, nil
}

func (d *mockDialer) setGate(gate chan struct{}) {
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}

func (d *mockDialer) failNext(n int) {
	d.mu.Lock()
	d.failN = n
	d.mu.Unlock()
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) server(i int) *testhelper.MockCollector {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.servers) {
		return nil
	}
	return d.servers[i]
}

func (d *mockDialer) closeAll() {
	d.mu.Lock()
	servers := d.servers
	d.mu.Unlock()
	for _, s := range servers {
		s.Close()
	}
}

func (c *Client) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(t *testing.T) (*config.Config, *mockDialer, *Client) {
	t.Helper()
	conf := testhelper.TestConfig(testing.Verbose())
	d := newMockDialer(conf)
	c := New(conf).SetDialer(d)
	t.Cleanup(func() {
		c.Close()
		d.closeAll()
	})
	return conf, d, c
}

// connectAndLog establishes the shared connection with one successful call.
func connectAndLog(t *testing.T, d *mockDialer, c *Client) *testhelper.MockCollector {
	t.Helper()
	call := c.LogAsync("app", []string{"hello"})
	waitFor(t, "first connection", func() bool { return d.server(0) != nil })
	srv := d.server(0)
	srv.ExpectReply(scribe.OK)
	if _, err := call.Wait(); err != nil {
		t.Fatalf("unexpected error on first call: %+v", err)
	}
	return srv
}

func TestSingleConnectAttempt(t *testing.T) {
	_, d, c := newTestClient(t)
	gate := make(chan struct{})
	d.setGate(gate)

	const n = 5
	calls := make([]*Call, n)
	for i := 0; i < n; i++ {
		calls[i] = c.LogAsync("app", []string{"hello"})
	}

	waitFor(t, "all callers queued", func() bool { return c.waiterCount() == n })
	waitFor(t, "connect attempt to start", func() bool { return d.dialCount() > 0 })
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected exactly 1 connect attempt for %d concurrent calls, got %d", n, got)
	}
	if state := c.currentState(); state != stateConnecting {
		t.Fatalf("expected state %s but got %s", stateConnecting, state)
	}

	close(gate)
	waitFor(t, "connection", func() bool { return d.server(0) != nil })
	srv := d.server(0)
	for i := 0; i < n; i++ {
		srv.ExpectReply(scribe.OK)
	}

	for i, call := range calls {
		code, err := call.Wait()
		if err != nil {
			t.Fatalf("call %d: unexpected error: %+v", i, err)
		}
		if code != scribe.OK {
			t.Fatalf("call %d: expected %s but got %s", i, scribe.OK, code)
		}
	}
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected 1 connect attempt but got %d", got)
	}
}

func TestWaitersResolveInOrder(t *testing.T) {
	_, d, c := newTestClient(t)
	gate := make(chan struct{})
	d.setGate(gate)

	msgs := []string{"tag-0", "tag-1", "tag-2", "tag-3", "tag-4"}
	calls := make([]*Call, len(msgs))
	for i, m := range msgs {
		calls[i] = c.LogAsync("app", []string{m})
	}
	waitFor(t, "all callers queued", func() bool { return c.waiterCount() == len(msgs) })

	close(gate)
	waitFor(t, "connection", func() bool { return d.server(0) != nil })
	srv := d.server(0)

	var mu sync.Mutex
	var got []string
	for range msgs {
		srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
			mu.Lock()
			got = append(got, entries[0].Message)
			mu.Unlock()
			return testhelper.NewLogReply(d.conf, seq, scribe.OK)
		})
	}

	for i, call := range calls {
		if _, err := call.Wait(); err != nil {
			t.Fatalf("call %d: unexpected error: %+v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, m := range msgs {
		if got[i] != m {
			t.Fatalf("expected enqueue order %v but calls arrived as %v", msgs, got)
		}
	}
	// sequence ids are allocated in the same order
	for i, call := range calls {
		if call.Seq != int32(i+1) {
			t.Fatalf("call %d: expected seq %d but got %d", i, i+1, call.Seq)
		}
	}
}

func TestConnectFailureRejectsAllWaiters(t *testing.T) {
	_, d, c := newTestClient(t)
	gate := make(chan struct{})
	d.setGate(gate)
	d.failNext(1)

	const n = 5
	calls := make([]*Call, n)
	for i := 0; i < n; i++ {
		calls[i] = c.LogAsync("app", []string{"doomed"})
	}
	waitFor(t, "all callers queued", func() bool { return c.waiterCount() == n })
	close(gate)

	for i, call := range calls {
		_, err := call.Wait()
		if err == nil {
			t.Fatalf("call %d: expected connect error", i)
		}
		if !IsRetryable(err) {
			t.Fatalf("call %d: expected retryable connectivity error but got %+v", i, err)
		}
	}
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected 1 connect attempt but got %d", got)
	}
	if state := c.currentState(); state != stateNotConnected {
		t.Fatalf("expected state %s but got %s", stateNotConnected, state)
	}
}

// entries riding a failed connect are failed back to the caller, never held
// for a later attempt. intentional: availability over delivery here, an
// outbox would be a separate layer.
func TestFailedEpisodeEntriesNotRequeued(t *testing.T) {
	_, d, c := newTestClient(t)
	d.setGate(nil)
	d.failNext(1)

	if _, err := c.Log("app", "lost forever"); err == nil {
		t.Fatal("expected connect error")
	}

	call := c.LogAsync("app", []string{"fresh"})
	waitFor(t, "second connection", func() bool { return d.server(0) != nil })
	srv := d.server(0)

	gotC := make(chan []scribe.LogEntry, 1)
	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		gotC <- entries
		return testhelper.NewLogReply(d.conf, seq, scribe.OK)
	})
	if _, err := call.Wait(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	entries := <-gotC
	if len(entries) != 1 || entries[0].Message != "fresh" {
		t.Fatalf("expected only the fresh entry on the wire, got %v", entries)
	}
	if got := d.dialCount(); got != 2 {
		t.Fatalf("expected 2 connect attempts but got %d", got)
	}
}

func TestReconnectAfterLoss(t *testing.T) {
	_, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	if state := c.currentState(); state != stateConnected {
		t.Fatalf("expected state %s but got %s", stateConnected, state)
	}

	srv.CloseConn()
	waitFor(t, "loss detection", func() bool { return c.currentState() == stateNotConnected })

	// reconnection is lazy: nothing happens until the next call
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected no proactive reconnect, got %d dials", got)
	}

	gate := make(chan struct{})
	d.setGate(gate)
	call := c.LogAsync("app", []string{"after"})
	waitFor(t, "reconnect start", func() bool { return c.currentState() == stateConnecting })
	close(gate)

	waitFor(t, "second connection", func() bool { return d.server(1) != nil })
	d.server(1).ExpectReply(scribe.OK)
	code, err := call.Wait()
	if err != nil {
		t.Fatalf("unexpected error after reconnect: %+v", err)
	}
	if code != scribe.OK {
		t.Fatalf("expected %s but got %s", scribe.OK, code)
	}
	if got := d.dialCount(); got != 2 {
		t.Fatalf("expected 2 connect attempts but got %d", got)
	}
}

func TestLossFailsPendingCalls(t *testing.T) {
	_, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	// collector reads the call but never replies
	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		return nil
	})
	call := c.LogAsync("app", []string{"in flight"})
	select {
	case <-call.Done:
		t.Fatal("call resolved before loss")
	default:
	}

	srv.CloseConn()
	_, err := call.Wait()
	if err == nil {
		t.Fatal("expected in-flight call to fail on loss")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected connectivity error but got %+v", err)
	}
}

func TestExceptionFailsOnlyMatchingCall(t *testing.T) {
	conf, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	seqAC := make(chan int32, 1)
	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		seqAC <- seq
		return nil // hold the reply
	})
	srv.ExpectReply(scribe.OK)

	callA := c.LogAsync("app", []string{"a"})
	callB := c.LogAsync("app", []string{"b"})

	codeB, errB := callB.Wait()
	if errB != nil {
		t.Fatalf("expected unrelated call to succeed but got %+v", errB)
	}
	if codeB != scribe.OK {
		t.Fatalf("expected %s but got %s", scribe.OK, codeB)
	}
	select {
	case <-callA.Done:
		t.Fatal("held call resolved early")
	default:
	}

	if err := srv.Send(testhelper.NewLogException(conf, <-seqAC, 2, "batch rejected")); err != nil {
		t.Fatalf("sending exception: %+v", err)
	}
	_, errA := callA.Wait()
	cerr, ok := errA.(*Error)
	if !ok {
		t.Fatalf("expected *Error but got %+v", errA)
	}
	if cerr.Kind != Application || cerr.Code != 2 || cerr.Msg != "batch rejected" {
		t.Fatalf("expected application error with collector fields, got %+v", cerr)
	}
}

func TestUnknownMethodExceptionIsProtocolError(t *testing.T) {
	conf, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		return testhelper.NewLogException(conf, seq, protocol.ExcUnknownMethod, "unknown function Log")
	})
	_, err := c.Log("app", "hello")
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error but got %+v", err)
	}
	if cerr.Kind != Protocol {
		t.Fatalf("expected protocol error for unknown method, got %s", cerr.Kind)
	}
	if IsRetryable(err) {
		t.Fatal("protocol errors must not be classified retryable")
	}
}

func TestMissingResultIsDistinctError(t *testing.T) {
	conf, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		return testhelper.NewEmptyLogReply(conf, seq)
	})
	_, err := c.Log("app", "hello")
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error but got %+v", err)
	}
	if cerr.Kind != MissingResult {
		t.Fatalf("expected missing-result error, got %s", cerr.Kind)
	}
	if cerr.Kind == Application {
		t.Fatal("missing result must not look like a collector rejection")
	}
}

func TestUnmatchedSequenceIDFailsPending(t *testing.T) {
	conf, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		// reply to a sequence id that was never issued
		return testhelper.NewLogReply(conf, seq+1000, scribe.OK)
	})
	_, err := c.Log("app", "hello")
	if err == nil {
		t.Fatal("expected unmatched sequence id to fail the call")
	}
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error but got %+v", err)
	}
	if cerr.Kind != Protocol {
		t.Fatalf("expected protocol error, got %s", cerr.Kind)
	}
	// the decode stream can't be trusted anymore
	waitFor(t, "teardown", func() bool { return c.currentState() == stateNotConnected })
}

func TestSingleMessageIsOneElementBatch(t *testing.T) {
	_, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	gotC := make(chan []scribe.LogEntry, 1)
	srv.Expect(func(seq int32, entries []scribe.LogEntry) io.WriterTo {
		gotC <- entries
		return testhelper.NewLogReply(d.conf, seq, scribe.OK)
	})
	if _, err := c.Log("app", "just one"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	entries := <-gotC
	if len(entries) != 1 {
		t.Fatalf("expected a one-element batch but got %d entries", len(entries))
	}
	want := scribe.LogEntry{Category: "app", Message: "just one"}
	if entries[0] != want {
		t.Fatalf("expected %v but got %v", want, entries[0])
	}
}

func TestTryLaterSurfacedNotRetried(t *testing.T) {
	_, d, c := newTestClient(t)
	srv := connectAndLog(t, d, c)

	srv.ExpectReply(scribe.TryLater)
	code, err := c.Log("app", "busy")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if code != scribe.TryLater {
		t.Fatalf("expected %s but got %s", scribe.TryLater, code)
	}
	// no transparent retry happened
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected 1 connect attempt but got %d", got)
	}
}
