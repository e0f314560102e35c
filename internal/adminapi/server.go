package adminapi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server listens for admin CLI connections speaking the line protocol of
// §6, one goroutine per connection, grounded on the same
// mutex-serialized-single-reader shape as workerrpc.Client but on the
// accept side instead of the dial side.
type Server struct {
	Router *Router
	Logger *slog.Logger

	// RateLimit and RateBurst configure the per-connection token bucket
	// guarding against a misbehaving or compromised client flooding the
	// single-threaded command loop (§11.F). A request over the limit gets
	// CLIS_CANT rather than queuing unboundedly.
	RateLimit float64
	RateBurst int

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server; RateLimit/RateBurst default to 20/s burst 40
// when zero.
func NewServer(router *Router, logger *slog.Logger, rateLimit float64, rateBurst int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if rateLimit <= 0 {
		rateLimit = 20
	}
	if rateBurst <= 0 {
		rateBurst = 40
	}
	return &Server{
		Router:    router,
		Logger:    logger.With("component", "adminapi"),
		RateLimit: rateLimit,
		RateBurst: rateBurst,
	}
}

// Serve accepts connections on ln until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("adminapi: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections. Open connections are not closed,
// by Close or by cancelling ctx: each one's handler returns when its client
// disconnects or a read fails.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// maxCommandLine bounds one line-protocol command, generously sized for
// vcl.inline's source text — bufio.Scanner's own default (~64KiB) is too
// small for a config of any real size and would otherwise drop the
// connection with no diagnostic the moment one is pasted in.
const maxCommandLine = 4 << 20

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Limit(s.RateLimit), s.RateBurst)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxCommandLine)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		requestID := uuid.NewString()

		if !limiter.Allow() {
			writeReply(conn, 108, "rate limit exceeded, retry shortly")
			continue
		}

		status, body := s.Router.Dispatch(ctx, requestID, line)
		if err := writeReply(conn, int(status), body); err != nil {
			if err != io.EOF {
				s.Logger.Warn("adminapi: write reply failed", "error", err)
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.Logger.Warn("adminapi: connection read failed", "error", err)
	}
}

// escapeBody collapses embedded newlines (vcl.list's multi-line rendering)
// into a literal "\n" so one reply always fits on one wire line; cachectl
// reverses this for display.
func escapeBody(body string) string {
	return strings.ReplaceAll(body, "\n", "\\n")
}

func writeReply(w io.Writer, status int, body string) error {
	_, err := fmt.Fprintf(w, "%d %s\n", status, escapeBody(body))
	return err
}
