// Package adminapi exposes the seven administrative verbs of §6 over two
// transports: a line-oriented listener matching the worker RPC wire shape
// (internal/workerrpc), and an HTTP/JSON bridge for operators who'd rather
// curl than speak the line protocol. Router holds the verb-dispatch logic
// both transports share.
package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nullcache/cachemgr/internal/audit"
	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/dispatcher"
	"github.com/nullcache/cachemgr/internal/eventbus"
	"github.com/nullcache/cachemgr/internal/metrics"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/telemetry"
	"github.com/nullcache/cachemgr/pkg/logger"
)

// verbEvent maps an admin verb onto the eventbus event type a successful
// call of it produces. vcl.list has no side effect and is absent.
var verbEvent = map[string]string{
	"vcl.load":    eventbus.EventConfigLoaded,
	"vcl.inline":  eventbus.EventConfigLoaded,
	"vcl.use":     eventbus.EventConfigUsed,
	"vcl.state":   eventbus.EventStateChanged,
	"vcl.discard": eventbus.EventConfigDiscarded,
	"vcl.label":   eventbus.EventLabelUpdated,
}

// Router parses one admin command line and dispatches it, shared by the
// line-protocol listener and the HTTP bridge so both stay byte-for-byte
// consistent about what each verb accepts.
type Router struct {
	Dispatcher *dispatcher.Dispatcher
	Audit      *audit.Log
	Metrics    *metrics.Metrics

	// Bus and Mirror are optional observers of successful mutating
	// commands: Bus fans the transition out to dashboard subscribers,
	// Mirror publishes it to Redis for out-of-process observers. Both are
	// nil-receiver-safe, so leaving them unset just means no one is
	// watching.
	Bus    *eventbus.Bus
	Mirror *telemetry.Mirror

	// Logger, when set, receives one logger.LogCommand call per dispatched
	// command, correlated by the same requestID the audit log records.
	Logger *slog.Logger

	// mu serializes Dispatch calls onto a single logical event loop: the
	// Dispatcher, Registry, Engine and graph packages all assume (per their
	// own doc comments) that only one mutating call runs at a time, but the
	// line-protocol listener spawns a goroutine per connection and the HTTP
	// bridge runs each request on its own net/http goroutine. Taking this
	// lock around each dispatcher call restores that single-caller
	// invariant without pushing locking down into every package that
	// relies on it. DispatchArgs releases it before the audit, metrics,
	// logging and event side effects run.
	mu sync.Mutex
}

// New builds a Router. Either of a, m may be nil/disabled, in which case
// the corresponding side effect is simply skipped. Bus, Mirror and Logger
// are optional fields the caller sets after New.
func New(d *dispatcher.Dispatcher, a *audit.Log, m *metrics.Metrics) *Router {
	return &Router{Dispatcher: d, Audit: a, Metrics: m}
}

// Lock and Unlock make Router a sync.Locker, so internal/poker can take the
// same lock Dispatch does before ticking — the poker's own SetState calls
// bypass Dispatch entirely, but they mutate the same Registry/Engine and so
// need the same single-caller guarantee.
func (r *Router) Lock()   { r.mu.Lock() }
func (r *Router) Unlock() { r.mu.Unlock() }

func parseIntent(raw string) (model.Intent, *ctlerrors.Error) {
	switch raw {
	case "", "auto":
		return model.IntentAuto, nil
	case "cold":
		return model.IntentCold, nil
	case "warm":
		return model.IntentWarm, nil
	default:
		return "", ctlerrors.Param("State must be one of auto, cold or warm.")
	}
}

// Dispatch parses and executes one admin command line (e.g. `vcl.use A`),
// requestID identifying it for the audit log. It never returns a transport
// error itself: parse failures and command failures both come back as a
// *ctlerrors.Error body, exactly as a real worker's wire reply would.
//
// splitCommand's trailing-state inference for vcl.inline is inherently
// ambiguous for unquoted source text (see splitTrailingState) — callers
// that already have verb/args as separate structured fields, like the
// HTTP bridge, should use DispatchArgs instead of reconstructing a line.
func (r *Router) Dispatch(ctx context.Context, requestID, line string) (ctlerrors.Status, string) {
	verb, args := splitCommand(line)
	return r.DispatchArgs(ctx, requestID, verb, args)
}

// DispatchArgs executes one admin command given its verb and arguments
// directly, skipping splitCommand's text-line parsing entirely. This is
// what Dispatch itself calls after tokenizing a line; callers that already
// hold structured fields (the HTTP bridge's loadOrInlineRequest, say)
// should call it directly rather than re-joining those fields into a line
// and handing it back to Dispatch, which would reintroduce the inline
// source/trailing-state ambiguity Dispatch has to tolerate for the raw
// line protocol.
func (r *Router) DispatchArgs(ctx context.Context, requestID, verb string, args []string) (ctlerrors.Status, string) {
	r.mu.Lock()
	start := time.Now()
	status, body, cerr := r.dispatch(ctx, verb, args)
	elapsed := time.Since(start)
	r.mu.Unlock()

	if cerr != nil {
		status, body = cerr.Status, cerr.Message
	}

	r.Audit.Append(ctx, audit.Entry{
		RequestID: requestID,
		Verb:      verb,
		Args:      args,
		Status:    int(status),
		Body:      body,
		Duration:  elapsed,
		Occurred:  start,
	})
	r.Metrics.ObserveCommand(verb, outcomeOf(status), elapsed.Seconds())
	logger.LogCommand(r.Logger, requestID, verb, status)

	if outcomeOf(status) == "ok" {
		r.notify(verb, args)
	}

	return status, body
}

// notify fans a successful mutating command out to the eventbus and
// telemetry mirror, best-effort — a dropped event or a Redis hiccup never
// affects the command's own outcome, which has already been decided.
func (r *Router) notify(verb string, args []string) {
	eventType, ok := verbEvent[verb]
	if !ok || len(args) == 0 {
		return
	}
	name := args[0]

	if r.Bus != nil {
		r.Bus.Publish(eventbus.NewEvent(eventType, name, nil))
	}

	if r.Mirror != nil {
		if transition, ok := r.snapshot(name); ok {
			r.Mirror.Publish(context.Background(), transition)
		}
	}
}

// snapshot reads name's current registry state under r.mu, the same lock
// Dispatch holds while mutating it — notify runs after Dispatch has already
// released that lock, so without its own lock here it would race whatever
// command another goroutine dispatches next.
func (r *Router) snapshot(name string) (telemetry.Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.Dispatcher.Registry.Find(name)
	if c == nil {
		return telemetry.Transition{}, false
	}
	return telemetry.Transition{
		Name:      c.Name,
		Intent:    string(c.Intent),
		Warm:      c.Warm,
		Active:    r.Dispatcher.Registry.Active() == c,
		Timestamp: time.Now(),
	}, true
}

func outcomeOf(status ctlerrors.Status) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "error"
}

func (r *Router) dispatch(ctx context.Context, verb string, args []string) (ctlerrors.Status, string, *ctlerrors.Error) {
	switch verb {
	case "vcl.load":
		if len(args) < 2 {
			return 0, "", ctlerrors.Param("vcl.load requires name and path.")
		}
		intent, perr := parseIntent(thirdArg(args))
		if perr != nil {
			return 0, "", perr
		}
		if cerr := r.Dispatcher.Load(ctx, args[0], args[1], intent); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	case "vcl.inline":
		if len(args) < 2 {
			return 0, "", ctlerrors.Param("vcl.inline requires name and source.")
		}
		intent, perr := parseIntent(thirdArg(args))
		if perr != nil {
			return 0, "", perr
		}
		if cerr := r.Dispatcher.Inline(ctx, args[0], args[1], intent); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	case "vcl.use":
		if len(args) < 1 {
			return 0, "", ctlerrors.Param("vcl.use requires name.")
		}
		if cerr := r.Dispatcher.Use(ctx, args[0]); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	case "vcl.state":
		if len(args) < 2 {
			return 0, "", ctlerrors.Param("vcl.state requires name and state.")
		}
		intent, perr := parseIntent(args[1])
		if perr != nil {
			return 0, "", perr
		}
		if cerr := r.Dispatcher.State(ctx, args[0], intent); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	case "vcl.discard":
		if len(args) < 1 {
			return 0, "", ctlerrors.Param("vcl.discard requires name.")
		}
		if cerr := r.Dispatcher.Discard(ctx, args[0]); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	case "vcl.list":
		body, cerr := r.Dispatcher.List(ctx)
		if cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, body, nil

	case "vcl.label":
		if len(args) < 2 {
			return 0, "", ctlerrors.Param("vcl.label requires label and target.")
		}
		if cerr := r.Dispatcher.Label(ctx, args[0], args[1]); cerr != nil {
			return 0, "", cerr
		}
		return ctlerrors.StatusOK, "", nil

	default:
		return 0, "", ctlerrors.Param(fmt.Sprintf("unknown command %q", verb))
	}
}

func thirdArg(args []string) string {
	if len(args) >= 3 {
		return args[2]
	}
	return ""
}

// splitCommand tokenizes an admin line into its verb and arguments. Source
// text for vcl.inline is taken as the remainder of the line after the name,
// so it may itself contain spaces; every other verb is simple whitespace
// splitting.
func splitCommand(line string) (verb string, args []string) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb = fields[0]

	if verb == "vcl.inline" {
		rest := strings.TrimSpace(strings.TrimPrefix(line, verb))
		nameEnd := strings.IndexByte(rest, ' ')
		if nameEnd < 0 {
			return verb, []string{rest}
		}
		name := rest[:nameEnd]
		remainder := strings.TrimSpace(rest[nameEnd+1:])
		sourceAndState := splitTrailingState(remainder)
		return verb, append([]string{name}, sourceAndState...)
	}

	return verb, fields[1:]
}

// splitTrailingState recognizes a trailing " auto"/" cold"/" warm" token on
// an inline source body, since the body itself may contain arbitrary
// whitespace-separated text. This is a genuine ambiguity inherent to an
// unquoted line protocol: source text that itself ends in one of those
// three bare words is indistinguishable from an explicit trailing state
// and will have it stripped. The HTTP bridge's loadOrInlineRequest avoids
// it entirely by calling Router.DispatchArgs with its already-separated
// fields instead of reconstructing a line; `cmd/cachectl inline` and any
// other raw line-protocol caller still carry the ambiguity, the same way
// an unquoted CLI argument list always would.
func splitTrailingState(remainder string) []string {
	for _, state := range []string{"auto", "cold", "warm"} {
		if strings.HasSuffix(remainder, " "+state) {
			return []string{strings.TrimSuffix(remainder, " "+state), state}
		}
	}
	return []string{remainder}
}
