// Package dispatcher implements §4.E: the seven administrative commands,
// each a transaction over the registry and graph that either commits
// cleanly or leaves both exactly as they were before the call. This is the
// largest component by design share and is where every other package gets
// wired together.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/juju/clock"

	"github.com/nullcache/cachemgr/internal/compiler"
	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/graph"
	"github.com/nullcache/cachemgr/internal/listcache"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/registry"
	"github.com/nullcache/cachemgr/internal/state"
	"github.com/nullcache/cachemgr/internal/workerrpc"
)

// Dispatcher wires the registry, graph, state engine, compiler, and worker
// RPC client together behind the seven admin verbs. Every exported method
// assumes it is the only caller running at a time (the single event loop
// in §5 guarantees that); Dispatcher itself takes no lock.
type Dispatcher struct {
	Registry *registry.Registry
	Engine   *state.Engine
	Compiler compiler.Compiler
	Clock    clock.Clock
	Logger   *slog.Logger

	// ListCache, when non-nil, memoizes the locally-rendered vcl.list body
	// across repeated list() calls between mutations; it is never
	// consulted while a worker is attached, since that path forwards
	// vcl.list to the worker verbatim instead.
	ListCache *listcache.Cache

	worker        workerrpc.Caller
	workerPresent bool
	epoch         int64
}

// New builds a Dispatcher with no worker attached; lifecycle.Start (or a
// direct call to AttachWorker) supplies one later.
func New(reg *registry.Registry, engine *state.Engine, comp compiler.Compiler, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Registry: reg,
		Engine:   engine,
		Compiler: comp,
		Clock:    clk,
		Logger:   logger.With("component", "dispatcher"),
		worker:   workerrpc.Absent(),
	}
}

// AttachWorker wires a live worker connection in; until this is called,
// list() renders locally and every RPC the dispatcher issues is elided.
func (d *Dispatcher) AttachWorker(w workerrpc.Caller) {
	d.worker = w
	d.workerPresent = true
}

func (d *Dispatcher) callWorker(ctx context.Context, command string) *ctlerrors.Error {
	status, body, err := d.worker.Call(ctx, command)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.StatusCant, "worker RPC failed", err)
	}
	return workerrpc.AsError(status, body)
}

// bumpEpochOnSuccess increments the list-cache epoch when the command this
// defer guards returns without error, invalidating any cached vcl.list
// rendering from before the mutation.
func (d *Dispatcher) bumpEpochOnSuccess(errOut **ctlerrors.Error) {
	if *errOut == nil {
		d.epoch++
	}
}

func effectiveIntent(intent model.Intent) model.Intent {
	if intent == "" {
		return model.IntentAuto
	}
	return intent
}

// Load implements load(name, source_path, intent?).
func (d *Dispatcher) Load(ctx context.Context, name, sourcePath string, intent model.Intent) *ctlerrors.Error {
	return d.create(ctx, name, "", sourcePath, effectiveIntent(intent))
}

// Inline implements inline(name, source_text, intent?).
func (d *Dispatcher) Inline(ctx context.Context, name, sourceText string, intent model.Intent) *ctlerrors.Error {
	return d.create(ctx, name, sourceText, "", effectiveIntent(intent))
}

func (d *Dispatcher) create(ctx context.Context, name, sourceText, sourcePath string, intent model.Intent) (cerr *ctlerrors.Error) {
	defer d.bumpEpochOnSuccess(&cerr)

	c, err := d.Registry.Add(name, intent)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s: %v", name, err), err)
	}

	path, diag, compileErr := d.Compiler.Compile(ctx, name, sourceText, sourcePath, false)
	if compileErr != nil {
		d.Registry.Remove(c)
		return ctlerrors.Wrap(ctlerrors.StatusCant, "compiler unavailable", compileErr)
	}
	if diag != nil {
		d.Registry.Remove(c)
		return ctlerrors.Param("%s", diag.Message)
	}

	c.ArtifactPath = path

	if cerr := d.callWorker(ctx, workerrpc.LoadCommand(name, path, c.Warm, string(c.Intent))); cerr != nil {
		d.Registry.Remove(c)
		return cerr
	}

	return nil
}

// Use implements use(name).
func (d *Dispatcher) Use(ctx context.Context, name string) (cerr *ctlerrors.Error) {
	defer d.bumpEpochOnSuccess(&cerr)

	candidate := d.Registry.Find(name)
	if candidate == nil {
		return ctlerrors.Param("%s: config not found", name)
	}
	if d.Registry.Active() == candidate {
		return nil
	}

	if err := d.Engine.SetState(ctx, candidate, model.IntentWarm); err != nil {
		return err
	}

	if cerr := d.callWorker(ctx, workerrpc.UseCommand(name)); cerr != nil {
		candidate.Intent = model.IntentAuto
		candidate.GoColdAt = d.Clock.Now()
		d.Engine.SetState(ctx, candidate, model.IntentAuto)
		return cerr
	}

	previous := d.Registry.Active()
	d.Registry.SetActive(candidate)
	if previous != nil && previous != candidate {
		previous.Intent = model.IntentAuto
		previous.GoColdAt = d.Clock.Now()
		d.Engine.SetState(ctx, previous, model.IntentAuto)
	}
	return nil
}

// State implements state(name, requested).
func (d *Dispatcher) State(ctx context.Context, name string, requested model.Intent) (cerr *ctlerrors.Error) {
	defer d.bumpEpochOnSuccess(&cerr)

	c := d.Registry.Find(name)
	if c == nil {
		return ctlerrors.Param("%s: config not found", name)
	}

	switch requested {
	case model.IntentAuto, model.IntentCold, model.IntentWarm:
	default:
		return ctlerrors.Param("State must be one of auto, cold or warm.")
	}

	if c.IsLabel() {
		return ctlerrors.Wrap(ctlerrors.StatusParam, "Labels are always warm", model.ErrLabelWarmOnly)
	}

	switch requested {
	case model.IntentAuto:
		c.Intent = model.IntentAuto
		if d.Registry.Active() != c {
			c.GoColdAt = d.Clock.Now()
			return d.Engine.SetState(ctx, c, model.IntentAuto)
		}
		return nil

	case model.IntentCold:
		if d.Registry.Active() == c {
			return ctlerrors.Param("%s: active config cannot be made cold", name)
		}
		if c.LabelTarget != nil {
			return ctlerrors.Wrap(ctlerrors.StatusCant, fmt.Sprintf("%s is labeled by %s", name, c.LabelTarget.Name), model.ErrTargetLabeled)
		}
		c.Intent = model.IntentAuto
		return d.Engine.SetState(ctx, c, model.IntentCold)

	default: // warm
		if err := d.Engine.SetState(ctx, c, model.IntentWarm); err != nil {
			return err
		}
		c.Intent = model.IntentWarm
		return nil
	}
}

// Discard implements discard(name).
func (d *Dispatcher) Discard(ctx context.Context, name string) (cerr *ctlerrors.Error) {
	defer d.bumpEpochOnSuccess(&cerr)

	c := d.Registry.Find(name)
	if c == nil {
		return ctlerrors.Param("%s: config not found", name)
	}
	if d.Registry.Active() == c {
		return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s: cannot discard the active config", name), model.ErrActive)
	}

	if c.HasIncoming() {
		if !c.IsLabel() && c.LabelTarget != nil {
			return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s is labeled by %s", name, c.LabelTarget.Name), model.ErrTargetLabeled)
		}
		return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s: %s", name, dependentsList(c)), model.ErrHasIncoming)
	}

	if c.IsLabel() {
		target := c.LabelTarget
		graph.DetachOutgoing(c)
		c.LabelTarget = nil
		if target != nil {
			target.LabelTarget = nil
		}
	} else if err := d.Engine.SetState(ctx, c, model.IntentCold); err != nil {
		d.Logger.Warn("discard: cold transition rejected, proceeding anyway", "name", name, "error", err)
	}

	if cerr := d.callWorker(ctx, workerrpc.DiscardCommand(name)); cerr != nil {
		d.Logger.Warn("discard: worker rejected vcl.discard, removing locally anyway", "name", name, "error", cerr)
	}

	d.Registry.Remove(c)
	return nil
}

func dependentsList(c *model.Config) string {
	names := make([]string, 0, len(c.Incoming))
	for _, e := range c.Incoming {
		names = append(names, e.From.Name)
	}
	truncated := false
	if len(names) > 5 {
		names = names[:5]
		truncated = true
	}
	body := "in use by " + strings.Join(names, ", ")
	if truncated {
		body += " [...]"
	}
	return body
}

// List implements list().
func (d *Dispatcher) List(ctx context.Context) (string, *ctlerrors.Error) {
	if d.workerPresent {
		status, body, err := d.worker.Call(ctx, workerrpc.ListCommand())
		if err != nil {
			return "", ctlerrors.Wrap(ctlerrors.StatusCant, "worker RPC failed", err)
		}
		if cerr := workerrpc.AsError(status, body); cerr != nil {
			return "", cerr
		}
		return body, nil
	}

	if d.ListCache != nil {
		if body, ok := d.ListCache.Get(d.epoch); ok {
			return body, nil
		}
	}

	var b strings.Builder
	for i, c := range d.Registry.All() {
		if i > 0 {
			b.WriteByte('\n')
		}
		activeWord := "available"
		if d.Registry.Active() == c {
			activeWord = "active"
		}
		warmWord := "cold"
		if c.Warm {
			warmWord = "warm"
		}
		fmt.Fprintf(&b, "%s %s/%s  %s", activeWord, c.Intent, warmWord, c.Name)
		switch {
		case c.IsLabel() && c.LabelTarget != nil:
			fmt.Fprintf(&b, " -> %s", c.LabelTarget.Name)
		case !c.IsLabel() && c.LabelTarget != nil:
			fmt.Fprintf(&b, " <- %s", c.LabelTarget.Name)
		}
	}
	body := b.String()
	if d.ListCache != nil {
		d.ListCache.Put(d.epoch, body)
	}
	return body, nil
}

// Label implements label(label_name, target_name).
func (d *Dispatcher) Label(ctx context.Context, labelName, targetName string) (cerr *ctlerrors.Error) {
	defer d.bumpEpochOnSuccess(&cerr)

	target := d.Registry.Find(targetName)
	if target == nil {
		return ctlerrors.Param("%s: config not found", targetName)
	}
	if target.IsLabel() {
		return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s is a label", targetName), model.ErrAlreadyLabel)
	}
	if target.LabelTarget != nil {
		return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s is already labeled by %s", targetName, target.LabelTarget.Name), model.ErrTargetLabeled)
	}

	label := d.Registry.Find(labelName)
	createdLabel := false
	var previousTarget *model.Config

	if label != nil {
		if !label.IsLabel() {
			return ctlerrors.Wrap(ctlerrors.StatusParam, fmt.Sprintf("%s is not a label", labelName), model.ErrNotLabel)
		}
		previousTarget = label.LabelTarget
		if previousTarget != nil {
			graph.DetachOutgoing(label)
			previousTarget.LabelTarget = nil
		}
	} else {
		if strings.Contains(labelName, ".") {
			return ctlerrors.Wrap(ctlerrors.StatusParam, "label names may not contain '.'", model.ErrLabelDotInName)
		}
		var err error
		label, err = d.Registry.Add(labelName, model.IntentLabel)
		if err != nil {
			return ctlerrors.Wrap(ctlerrors.StatusParam, err.Error(), err)
		}
		createdLabel = true
	}

	previousTargetIntent := target.Intent
	previousTargetWarm := target.Warm

	rollback := func() {
		graph.DetachOutgoing(label)
		target.LabelTarget = nil
		target.Intent = previousTargetIntent
		target.Warm = previousTargetWarm
		label.LabelTarget = nil
		if previousTarget != nil {
			graph.AddEdge(label, previousTarget)
			label.LabelTarget = previousTarget
			previousTarget.LabelTarget = label
		}
		if createdLabel {
			d.Registry.Remove(label)
		}
	}

	graph.AddEdge(label, target)
	label.Warm = true
	label.LabelTarget = target
	target.LabelTarget = label

	if target.Intent == model.IntentCold {
		target.Intent = model.IntentAuto
	}

	if err := d.Engine.SetState(ctx, target, model.IntentWarm); err != nil {
		rollback()
		return err
	}

	if cerr := d.callWorker(ctx, workerrpc.LabelCommand(labelName, targetName)); cerr != nil {
		rollback()
		return cerr
	}

	return nil
}
