package client

import (
	"fmt"

	"github.com/scribelog/scribec/scribe"
)

// Call is an in-flight log submission. It is resolved exactly once, either
// with a result code or an error, and Done receives it when that happens.
type Call struct {
	Seq    int32
	Status scribe.ResultCode
	Err    error

	// Done receives the call itself on resolution. Buffered, so resolution
	// never blocks on a caller that hasn't gotten around to receiving.
	Done chan *Call
}

func newCall() *Call {
	return &Call{
		Done: make(chan *Call, 1),
	}
}

func (call *Call) String() string {
	return fmt.Sprintf("Call<seq: %d, status: %s, err: %v>", call.Seq, call.Status, call.Err)
}

func (call *Call) resolve(code scribe.ResultCode) {
	call.Status = code
	call.Done <- call
}

func (call *Call) fail(err error) {
	call.Err = err
	call.Done <- call
}

func failedCall(err error) *Call {
	call := newCall()
	call.fail(err)
	return call
}

// Wait blocks until the call resolves, then returns its outcome.
func (call *Call) Wait() (scribe.ResultCode, error) {
	c := <-call.Done
	return c.Status, c.Err
}
