package adminapi_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/nullcache/cachemgr/internal/adminapi"
	"github.com/nullcache/cachemgr/internal/audit"
	"github.com/nullcache/cachemgr/internal/compiler"
	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/dispatcher"
	"github.com/nullcache/cachemgr/internal/registry"
	"github.com/nullcache/cachemgr/internal/state"
	"github.com/nullcache/cachemgr/internal/workerrpc/workertest"
)

var _ sync.Locker = (*adminapi.Router)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type passthroughCompiler struct{}

func (passthroughCompiler) Compile(_ context.Context, name, _, _ string, _ bool) (string, *compiler.Diagnostic, error) {
	return "/artifacts/" + name + "/config.vcl", nil, nil
}

func newTestRouter(t *testing.T) *adminapi.Router {
	t.Helper()
	reg := registry.New(discardLogger())
	worker := &workertest.Double{}
	clk := testclock.NewClock(time.Now())
	eng := state.New(worker, reg, clk, 30*time.Second)
	disp := dispatcher.New(reg, eng, passthroughCompiler{}, clk, discardLogger())

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	return adminapi.New(disp, auditLog, nil)
}

func TestDispatchLoadThenListRoundTrips(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	status, body := r.Dispatch(ctx, "req-1", `vcl.load A /src/a.vcl`)
	require.Equal(t, ctlerrors.StatusOK, status)
	require.Empty(t, body)

	status, body = r.Dispatch(ctx, "req-2", "vcl.list")
	require.Equal(t, ctlerrors.StatusOK, status)
	require.Contains(t, body, "A")
}

func TestDispatchUnknownStateYieldsParamError(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	require.Equal(t, ctlerrors.StatusOK, first(r.Dispatch(ctx, "req-1", "vcl.load A /src/a.vcl")))

	status, body := r.Dispatch(ctx, "req-2", "vcl.state A bogus")

	require.Equal(t, ctlerrors.StatusParam, status)
	require.Equal(t, "State must be one of auto, cold or warm.", body)
}

func TestDispatchUnknownVerbYieldsParamError(t *testing.T) {
	r := newTestRouter(t)
	status, _ := r.Dispatch(context.Background(), "req-1", "vcl.frobnicate A")
	require.Equal(t, ctlerrors.StatusParam, status)
}

func TestDispatchMissingArgsYieldsParamError(t *testing.T) {
	r := newTestRouter(t)
	status, _ := r.Dispatch(context.Background(), "req-1", "vcl.load A")
	require.Equal(t, ctlerrors.StatusParam, status)
}

func TestDispatchRecordsEveryCommandToAudit(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	r.Dispatch(ctx, "req-1", "vcl.load A /src/a.vcl")
	r.Dispatch(ctx, "req-2", "vcl.discard A")

	entries, err := r.Audit.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "vcl.discard", entries[0].Verb)
	require.Equal(t, "vcl.load", entries[1].Verb)
	for _, e := range entries {
		require.False(t, e.Occurred.IsZero(), "audit entry must record when the command ran")
	}
}

func TestInlineSourceTextMayContainSpaces(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	status, _ := r.Dispatch(ctx, "req-1", `vcl.inline A sub vcl_recv { return (pass); }`)

	require.Equal(t, ctlerrors.StatusOK, status)
}

func first(a ctlerrors.Status, _ string) ctlerrors.Status { return a }

// TestDispatchSerializesConcurrentCommands exercises Router under the race
// detector: Registry, Dispatcher and state.Engine all assume a single
// caller at a time, and concurrent vcl.load calls for distinct names would
// corrupt that invariant if DispatchArgs didn't hold its lock around each
// dispatcher call.
func TestDispatchSerializesConcurrentCommands(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("C%d", i)
			status, _ := r.Dispatch(ctx, fmt.Sprintf("req-%d", i), fmt.Sprintf("vcl.load %s /src/%s.vcl", name, name))
			require.Equal(t, ctlerrors.StatusOK, status)
		}(i)
	}
	wg.Wait()

	status, body := r.Dispatch(ctx, "req-list", "vcl.list")
	require.Equal(t, ctlerrors.StatusOK, status)
	for i := 0; i < 20; i++ {
		require.Contains(t, body, fmt.Sprintf("C%d", i))
	}
}
