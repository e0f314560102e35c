package dispatcher_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/nullcache/cachemgr/internal/compiler"
	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/dispatcher"
	"github.com/nullcache/cachemgr/internal/listcache"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/registry"
	"github.com/nullcache/cachemgr/internal/state"
	"github.com/nullcache/cachemgr/internal/workerrpc/workertest"
)

const window = 30 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeCompiler struct {
	fail map[string]string
}

func (f *fakeCompiler) Compile(_ context.Context, name, _, _ string, _ bool) (string, *compiler.Diagnostic, error) {
	if msg, ok := f.fail[name]; ok {
		return "", &compiler.Diagnostic{Message: msg}, nil
	}
	return "/artifacts/" + name + "/config.vcl", nil, nil
}

type harness struct {
	reg    *registry.Registry
	worker *workertest.Double
	clk    *testclock.Clock
	disp   *dispatcher.Dispatcher
}

func newHarness(t *testing.T, fail map[string]string) *harness {
	t.Helper()
	reg := registry.New(discardLogger())
	worker := &workertest.Double{}
	clk := testclock.NewClock(time.Now())
	eng := state.New(worker, reg, clk, window)
	comp := &fakeCompiler{fail: fail}
	disp := dispatcher.New(reg, eng, comp, clk, discardLogger())
	disp.AttachWorker(worker)
	return &harness{reg: reg, worker: worker, clk: clk, disp: disp}
}

func TestLoadSuccessRegistersConfigAndCallsWorker(t *testing.T) {
	h := newHarness(t, nil)

	err := h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto)

	require.Nil(t, err)
	c := h.reg.Find("A")
	require.NotNil(t, c)
	require.Equal(t, "/artifacts/A/config.vcl", c.ArtifactPath)
	require.Equal(t, []string{`vcl.load "A" /artifacts/A/config.vcl 1auto`}, h.worker.Received)
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))

	err := h.disp.Load(context.Background(), "A", "/src/a2.vcl", model.IntentAuto)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
}

func TestCompilerFailureRollsBack(t *testing.T) {
	h := newHarness(t, map[string]string{"X": "syntax"})

	err := h.disp.Inline(context.Background(), "X", "bad vcl", model.IntentAuto)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
	require.Equal(t, "syntax", err.Message)
	require.Nil(t, h.reg.Find("X"))
	require.Empty(t, h.worker.Received, "no worker RPCs on compiler rejection")
}

func TestLoadRollsBackOnWorkerRejection(t *testing.T) {
	h := newHarness(t, nil)
	h.worker.Script = []workertest.Reply{{Status: ctlerrors.StatusCant, Body: "no room"}}

	err := h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusCant, err.Status)
	require.Nil(t, h.reg.Find("A"))
}

func TestUseSwapsActiveAndSchedulesPreviousForCooldown(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))
	h.worker.Received = nil

	err := h.disp.Use(context.Background(), "B")

	require.Nil(t, err)
	require.Equal(t, []string{`vcl.use "B"`}, h.worker.Received)

	a := h.reg.Find("A")
	b := h.reg.Find("B")
	require.Same(t, b, h.reg.Active())
	require.True(t, a.Warm, "previous active stays warm until the poker runs")
	require.False(t, a.GoColdAt.IsZero())

	h.clk.Advance(window + time.Second)
	poke := state.New(h.worker, h.reg, h.clk, window)
	require.Nil(t, poke.SetState(context.Background(), a, model.IntentAuto))
	require.False(t, a.Warm)
	require.Contains(t, h.worker.Received, "vcl.state A 0auto")
}

func TestUseOnAlreadyActiveIsSilentNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	h.worker.Received = nil

	err := h.disp.Use(context.Background(), "A")

	require.Nil(t, err)
	require.Empty(t, h.worker.Received)
}

func TestUseRevertsCandidateOnWorkerRejection(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))
	h.worker.Script = []workertest.Reply{{Status: ctlerrors.StatusCant, Body: "rejected"}}

	err := h.disp.Use(context.Background(), "B")

	require.NotNil(t, err)
	b := h.reg.Find("B")
	require.Equal(t, model.IntentAuto, b.Intent)
	require.False(t, b.GoColdAt.IsZero())
	require.Same(t, h.reg.Find("A"), h.reg.Active())
}

func TestDiscardWithDependentsIsRefused(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Use(context.Background(), "B")) // so A is no longer active
	require.Nil(t, h.disp.Label(context.Background(), "L", "A"))

	err := h.disp.Discard(context.Background(), "A")

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
	require.Contains(t, err.Message, "A")
	require.Contains(t, err.Message, "L")
	require.NotNil(t, h.reg.Find("A"), "registry must be unchanged on refusal")
}

func TestRelabelSeversOldEdge(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Label(context.Background(), "L", "A"))

	err := h.disp.Label(context.Background(), "L", "B")

	require.Nil(t, err)
	l := h.reg.Find("L")
	a := h.reg.Find("A")
	b := h.reg.Find("B")
	require.Same(t, b, l.LabelTarget)
	require.Same(t, l, b.LabelTarget)
	require.Nil(t, a.LabelTarget)
	require.Empty(t, a.Incoming)
	require.True(t, b.Warm)
}

func TestLabelRollbackRestoresTargetIntentAndWarmOnWorkerRejection(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentCold))
	a := h.reg.Find("A")
	require.Equal(t, model.IntentCold, a.Intent)
	require.False(t, a.Warm)

	h.worker.Handler = func(command string) workertest.Reply {
		if strings.HasPrefix(command, "vcl.label") {
			return workertest.Reply{Status: ctlerrors.StatusCant, Body: "label rejected"}
		}
		return workertest.OK("")
	}

	err := h.disp.Label(context.Background(), "L", "A")

	require.NotNil(t, err)
	require.Equal(t, model.IntentCold, a.Intent, "a rejected label must not leave the target's intent flipped")
	require.False(t, a.Warm, "a rejected label must not leave the target warm")
	require.Nil(t, a.LabelTarget)
	require.Nil(t, h.reg.Find("L"), "a freshly created label must be rolled back on rejection")
}

func TestStateOnActiveConfigRejectsCold(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))

	err := h.disp.State(context.Background(), "A", model.IntentCold)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
}

func TestStateOnLabeledTargetRejectsCold(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Use(context.Background(), "B"))
	require.Nil(t, h.disp.Label(context.Background(), "L", "A"))

	err := h.disp.State(context.Background(), "A", model.IntentCold)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusCant, err.Status)
}

func TestStateOnLabelRejectsAnyRequest(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))
	require.Nil(t, h.disp.Label(context.Background(), "L", "A"))

	err := h.disp.State(context.Background(), "L", model.IntentWarm)

	require.NotNil(t, err)
	require.Equal(t, ctlerrors.StatusParam, err.Status)
	require.Equal(t, "Labels are always warm", err.Message)
}

func TestListRendersLocallyWithoutWorker(t *testing.T) {
	reg := registry.New(discardLogger())
	worker := &workertest.Double{}
	clk := testclock.NewClock(time.Now())
	eng := state.New(worker, reg, clk, window)
	disp := dispatcher.New(reg, eng, &fakeCompiler{}, clk, discardLogger())
	require.Nil(t, disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))

	body, err := disp.List(context.Background())

	require.Nil(t, err)
	require.Contains(t, body, "active auto/warm  A")
}

func TestListForwardsToWorkerWhenAttached(t *testing.T) {
	h := newHarness(t, nil)
	h.worker.Script = []workertest.Reply{workertest.OK("active A\navailable B\n")}

	body, err := h.disp.List(context.Background())

	require.Nil(t, err)
	require.Equal(t, "active A\navailable B\n", body)
}

func TestListCacheServesRepeatedCallsUntilAMutation(t *testing.T) {
	reg := registry.New(discardLogger())
	worker := &workertest.Double{}
	clk := testclock.NewClock(time.Now())
	eng := state.New(worker, reg, clk, window)
	disp := dispatcher.New(reg, eng, &fakeCompiler{}, clk, discardLogger())
	cache, err := listcache.New(8)
	require.NoError(t, err)
	disp.ListCache = cache

	require.Nil(t, disp.Load(context.Background(), "A", "/src/a.vcl", model.IntentAuto))

	first, cerr := disp.List(context.Background())
	require.Nil(t, cerr)
	hits, misses := cache.Stats()
	require.Equal(t, int64(0), hits)
	require.Equal(t, int64(1), misses)

	second, cerr := disp.List(context.Background())
	require.Nil(t, cerr)
	require.Equal(t, first, second)
	hits, misses = cache.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)

	require.Nil(t, disp.Load(context.Background(), "B", "/src/b.vcl", model.IntentAuto))

	third, cerr := disp.List(context.Background())
	require.Nil(t, cerr)
	require.Contains(t, third, "B")
	_, misses = cache.Stats()
	require.Equal(t, int64(2), misses, "a mutation must invalidate the previous epoch's cached body")
}
