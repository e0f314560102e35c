package workerrpc_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/workerrpc"
)

type recordingReadWriter struct {
	written bytes.Buffer
	reply   *bytes.Buffer
}

func (rw *recordingReadWriter) Write(p []byte) (int, error) {
	return rw.written.Write(p)
}

func (rw *recordingReadWriter) Read(p []byte) (int, error) {
	return rw.reply.Read(p)
}

func TestCallWritesCommandAndParsesReply(t *testing.T) {
	rw := &recordingReadWriter{reply: bytes.NewBufferString("200 ok\n")}
	c := workerrpc.New(rw, rw, nil, nil)

	status, body, err := c.Call(context.Background(), "vcl.use \"A\"")
	require.NoError(t, err)
	require.Equal(t, ctlerrors.StatusOK, status)
	require.Equal(t, "ok", body)
	require.Equal(t, "vcl.use \"A\"\n", rw.written.String())
}

func TestCallPropagatesCantStatus(t *testing.T) {
	rw := &recordingReadWriter{reply: bytes.NewBufferString("108 label is warm-only\n")}
	c := workerrpc.New(rw, rw, nil, nil)

	status, body, err := c.Call(context.Background(), "vcl.state L 1label")
	require.NoError(t, err)
	require.Equal(t, ctlerrors.StatusCant, status)
	require.Equal(t, "label is warm-only", body)
}

func TestAsErrorNilOnSuccess(t *testing.T) {
	require.Nil(t, workerrpc.AsError(ctlerrors.StatusOK, "ok"))
}

func TestAsErrorWrapsFailureStatus(t *testing.T) {
	err := workerrpc.AsError(ctlerrors.StatusParam, "bad name")
	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
	require.Equal(t, "bad name", err.Message)
}

func TestAbsentClientElidesCalls(t *testing.T) {
	c := workerrpc.Absent()

	status, body, err := c.Call(context.Background(), "vcl.use \"A\"")
	require.NoError(t, err)
	require.Equal(t, ctlerrors.StatusOK, status)
	require.Empty(t, body)
}

// wedgedReadWriter accepts writes but never yields a reply, modeling a
// worker process that hung mid-command.
type wedgedReadWriter struct {
	written bytes.Buffer
	block   chan struct{}
}

func (rw *wedgedReadWriter) Write(p []byte) (int, error) { return rw.written.Write(p) }
func (rw *wedgedReadWriter) Read(p []byte) (int, error) {
	<-rw.block
	return 0, nil
}

func TestCallTimesOutAgainstAWedgedWorker(t *testing.T) {
	rw := &wedgedReadWriter{block: make(chan struct{})}
	defer close(rw.block)
	c := workerrpc.New(rw, rw, nil, nil)
	c.Timeout = 10 * time.Millisecond

	_, _, err := c.Call(context.Background(), "vcl.use \"A\"")
	require.Error(t, err)
}

func TestCallAfterTimeoutFailsFastWithoutWritingAgain(t *testing.T) {
	rw := &wedgedReadWriter{block: make(chan struct{})}
	defer close(rw.block)
	c := workerrpc.New(rw, rw, nil, nil)
	c.Timeout = 10 * time.Millisecond

	_, _, err := c.Call(context.Background(), "vcl.use \"A\"")
	require.Error(t, err)

	written := rw.written.Len()
	_, _, err = c.Call(context.Background(), "vcl.use \"B\"")
	require.Error(t, err)
	require.Equal(t, written, rw.written.Len(), "a broken client must not send a second command")
}

func TestCallCancellationOfOneCallerDoesNotBreakTheClientForTheNext(t *testing.T) {
	rw := &recordingReadWriter{reply: bytes.NewBufferString("200 ok\n200 ok\n")}
	c := workerrpc.New(rw, rw, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Call(ctx, "vcl.use \"A\"")
	require.Error(t, err, "a context canceled before the call is even made must still fail")

	status, _, err := c.Call(context.Background(), "vcl.use \"B\"")
	require.NoError(t, err, "an unrelated caller's canceled context must not poison the shared connection")
	require.Equal(t, ctlerrors.StatusOK, status)
}

func TestLoadCommandFormatsStateLiteral(t *testing.T) {
	require.Equal(t, `vcl.load "A" /tmp/a.vcl 1auto`, workerrpc.LoadCommand("A", "/tmp/a.vcl", true, "auto"))
	require.Equal(t, `vcl.load "A" /tmp/a.vcl 0cold`, workerrpc.LoadCommand("A", "/tmp/a.vcl", false, "cold"))
}

func TestStateCommandFormatsStateLiteral(t *testing.T) {
	require.Equal(t, "vcl.state A 1warm", workerrpc.StateCommand("A", true, "warm"))
}
