// Package workerrpc implements §4.D: the synchronous, line-oriented text
// protocol the manager speaks to its worker process. It is a
// single-writer/single-reader channel over the worker's stdin/stdout pipes,
// grounded on the teacher's convention (internal/infrastructure/lock) of
// wrapping a narrow external protocol behind a small Go interface rather
// than leaking *os.Process / net.Conn details into callers.
package workerrpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nullcache/cachemgr/internal/ctlerrors"
)

// Caller is what the dispatcher and poker actually depend on, so tests can
// substitute workertest.Double for a real Client without touching pipes.
type Caller interface {
	Call(ctx context.Context, command string) (ctlerrors.Status, string, error)
}

// Client is a request/response channel to a single worker process. Calls are
// serialized with a mutex the way the spec's single-threaded event loop
// would naturally serialize them anyway; the mutex exists so Client remains
// safe to use if that assumption is ever relaxed.
type Client struct {
	mu     sync.Mutex
	w      io.Writer
	r      *bufio.Reader
	closer io.Closer
	logger *slog.Logger

	// present is false when no worker process exists (pid negative per
	// §4.D); every call is then elided and treated as success.
	present bool

	// Timeout bounds how long Call waits for one reply before giving up.
	// Zero means wait forever — "if the worker is wedged, the manager
	// wedges with it" is still the default, this just lets an operator
	// opt out of it via config.WorkerConfig.Timeout.
	Timeout time.Duration

	// broken is set once a Call times out while a read is still
	// outstanding. The stdin/stdout pipe gives no way to abandon that
	// read, so the reply it eventually gets would otherwise be handed to
	// whatever the next Call happens to be waiting on; every Call after
	// that point fails fast instead.
	broken bool
}

// New wraps an existing worker connection (the child process's stdin for
// writes, stdout for reads). Pass a nil closer if the caller owns the
// underlying process's lifecycle.
func New(w io.Writer, r io.Reader, closer io.Closer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		w:       w,
		r:       bufio.NewReader(r),
		closer:  closer,
		logger:  logger.With("component", "workerrpc"),
		present: true,
	}
}

// Absent returns a client with no backing worker process. Every call
// returns success immediately without touching the wire, matching §4.D's
// "pid negative" elision rule.
func Absent() *Client {
	return &Client{}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Call sends one command line and parses the worker's one-line response of
// the form "<status> <body...>". body may itself contain spaces and, for
// vcl.list, embedded newlines escaped by the worker; this client treats the
// entire remainder of the line after the status as the body verbatim.
//
// When Timeout is non-zero, Call gives up waiting for the reply after that
// long and returns an error. Once that happens the client is permanently
// broken (see the broken field) and every later Call fails immediately,
// since the abandoned read's eventual reply can never be safely matched
// back up to its request.
//
// ctx cancellation does not by itself abandon the read or mark the client
// broken: callers like the admin HTTP bridge pass in their own request's
// context, which one client disconnecting has no business poisoning a
// connection every other caller shares. ctx is still honored before the
// command is even written — there's nothing outstanding to abandon yet —
// but once the command is on the wire, only Timeout governs how long Call
// waits for its reply.
func (c *Client) Call(ctx context.Context, command string) (ctlerrors.Status, string, error) {
	if !c.present {
		return ctlerrors.StatusOK, "", nil
	}
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return 0, "", fmt.Errorf("workerrpc: connection abandoned after a prior timeout, command %q not sent", command)
	}

	c.logger.Debug("worker request", "command", command)

	if _, err := io.WriteString(c.w, command+"\n"); err != nil {
		return 0, "", fmt.Errorf("workerrpc: write %q: %w", command, err)
	}

	if c.Timeout <= 0 {
		return c.readReply(command)
	}

	type result struct {
		status ctlerrors.Status
		body   string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, body, err := c.readReply(command)
		done <- result{status, body, err}
	}()

	select {
	case res := <-done:
		return res.status, res.body, res.err
	case <-time.After(c.Timeout):
		c.broken = true
		return 0, "", fmt.Errorf("workerrpc: reply to %q: %w", command, context.DeadlineExceeded)
	}
}

func (c *Client) readReply(command string) (ctlerrors.Status, string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return 0, "", fmt.Errorf("workerrpc: read reply to %q: %w", command, err)
	}
	line = strings.TrimRight(line, "\r\n")

	status, body, perr := parseReply(line)
	if perr != nil {
		return 0, "", fmt.Errorf("workerrpc: malformed reply to %q: %w", command, perr)
	}

	c.logger.Debug("worker reply", "command", command, "status", status, "body", body)
	return status, body, nil
}

func parseReply(line string) (ctlerrors.Status, string, error) {
	fields := strings.SplitN(line, " ", 2)
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("non-numeric status %q", fields[0])
	}
	body := ""
	if len(fields) == 2 {
		body = fields[1]
	}
	return ctlerrors.Status(code), body, nil
}

// AsError converts a raw (status, body) pair into a *ctlerrors.Error when
// status is not in the 200 class, or nil on success. Callers use this to
// turn a worker reply directly into the error a dispatcher command returns.
func AsError(status ctlerrors.Status, body string) *ctlerrors.Error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &ctlerrors.Error{Status: status, Message: body}
}
