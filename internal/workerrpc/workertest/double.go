// Package workertest provides a scripted worker double for exercising the
// state engine and dispatcher without a real worker child process, in the
// style of the teacher's hand-rolled stub implementations (see
// internal/infrastructure/publishing.Stub*) rather than a generated mock.
package workertest

import (
	"context"
	"fmt"

	"github.com/nullcache/cachemgr/internal/ctlerrors"
)

// Reply is one scripted (status, body) pair.
type Reply struct {
	Status ctlerrors.Status
	Body   string
}

// OK builds a 200-class reply with the given body.
func OK(body string) Reply {
	return Reply{Status: ctlerrors.StatusOK, Body: body}
}

// Double is a worker stand-in whose replies are scripted in advance (FIFO)
// or computed by an optional handler function, and which records every
// command it received for assertions.
type Double struct {
	// Script is consumed one reply per Call, in order. When exhausted and
	// Handler is nil, Call returns OK("").
	Script []Reply

	// Handler, when set, is consulted instead of Script and receives the
	// raw command line.
	Handler func(command string) Reply

	Received []string
}

// Call implements workerrpc.Caller.
func (d *Double) Call(_ context.Context, command string) (ctlerrors.Status, string, error) {
	d.Received = append(d.Received, command)

	if d.Handler != nil {
		r := d.Handler(command)
		return r.Status, r.Body, nil
	}

	if len(d.Script) == 0 {
		return ctlerrors.StatusOK, "", nil
	}
	r := d.Script[0]
	d.Script = d.Script[1:]
	return r.Status, r.Body, nil
}

// LastReceived returns the most recent command, or an empty string if none
// was received yet — convenient for the "no worker RPCs issued" assertions
// the rollback scenarios check.
func (d *Double) LastReceived() string {
	if len(d.Received) == 0 {
		return ""
	}
	return d.Received[len(d.Received)-1]
}

// String renders the received command log for failure messages.
func (d *Double) String() string {
	return fmt.Sprintf("%v", d.Received)
}
