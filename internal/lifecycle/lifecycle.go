// Package lifecycle implements §4.G: the startup sequence that pushes the
// whole registry to a freshly attached worker, and the shutdown sequence
// that purges every artifact the manager owns.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/registry"
	"github.com/nullcache/cachemgr/internal/state"
	"github.com/nullcache/cachemgr/internal/workerrpc"
)

// Lifecycle owns the one-time startup push and the final teardown sweep.
// It talks to the worker directly (bypassing the dispatcher's transactional
// command handling) because both sequences operate on the whole registry
// at once rather than one named config.
type Lifecycle struct {
	Registry *registry.Registry
	Engine   *state.Engine
	Logger   *slog.Logger
}

// New builds a Lifecycle.
func New(reg *registry.Registry, engine *state.Engine, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{Registry: reg, Engine: engine, Logger: logger.With("component", "lifecycle")}
}

// Start runs the five-step sequence in §4.G against worker. Any worker
// error aborts the sequence immediately with that error; steps already
// applied (vcl.load calls already accepted) are not rolled back, matching
// the spec's silence on partial-startup recovery — a fresh worker process
// that rejects load is considered unrecoverable by this core.
func (l *Lifecycle) Start(ctx context.Context, worker workerrpc.Caller) *ctlerrors.Error {
	active := l.Registry.Active()
	if active != nil {
		// The active config is always warm already, so this call changes
		// nothing and issues no worker RPC.
		_ = l.Engine.SetState(ctx, active, model.IntentWarm)
	}

	for _, c := range l.Registry.All() {
		if c.IsLabel() {
			continue
		}
		if err := call(ctx, worker, workerrpc.LoadCommand(c.Name, c.ArtifactPath, c.Warm, string(c.Intent))); err != nil {
			return err
		}
	}

	for _, c := range l.Registry.All() {
		if !c.IsLabel() {
			continue
		}
		if err := call(ctx, worker, workerrpc.LabelCommand(c.Name, c.LabelTarget.Name)); err != nil {
			return err
		}
	}

	if active != nil {
		if err := call(ctx, worker, workerrpc.UseCommand(active.Name)); err != nil {
			return err
		}
	}

	return call(ctx, worker, workerrpc.StartCommand())
}

func call(ctx context.Context, worker workerrpc.Caller, command string) *ctlerrors.Error {
	status, body, err := worker.Call(ctx, command)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.StatusCant, "worker RPC failed", err)
	}
	return workerrpc.AsError(status, body)
}

// Shutdown destroys every registered config in reverse insertion order, so
// that labels are removed (severing their edge) before the targets they
// point at. Filesystem cleanup failures are ignored per §7 category 5; no
// worker RPCs are issued since the worker process is assumed to be exiting
// alongside the manager.
func (l *Lifecycle) Shutdown(_ context.Context) {
	all := l.Registry.All()
	for i := len(all) - 1; i >= 0; i-- {
		l.Registry.Remove(all[i])
	}
}
