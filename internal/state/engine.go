// Package state implements §4.C: the single set_state resolution rule that
// every intent-changing path in the dispatcher and the cooldown poker
// funnels through. It is pure with respect to the dependency graph — label
// enforcement happens one layer up, in the dispatcher.
package state

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/nullcache/cachemgr/internal/ctlerrors"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/workerrpc"
)

// ActiveProvider reports the registry's current active config, letting the
// engine apply Rule 1's "or is active" clause without owning the registry
// itself.
type ActiveProvider interface {
	Active() *model.Config
}

// Engine applies set_state against a worker, using clock for every
// go_cold_at computation so tests can drive cooldown transitions without
// sleeping.
type Engine struct {
	Worker         workerrpc.Caller
	Registry       ActiveProvider
	Clock          clock.Clock
	CooldownWindow time.Duration
}

// New builds an Engine. A nil clock defaults to clock.WallClock.
func New(worker workerrpc.Caller, registry ActiveProvider, clk clock.Clock, cooldownWindow time.Duration) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{Worker: worker, Registry: registry, Clock: clk, CooldownWindow: cooldownWindow}
}

// SetState runs the five resolution rules in §4.C and, when the worker
// needs to be told, issues vcl.state. The warm field is updated before the
// worker call completes; on worker rejection the manager is left holding a
// more permissive (warm) view than the worker actually has. This ordering
// is preserved deliberately — see DESIGN.md's note on the open question —
// rather than reordered to be transactional.
func (e *Engine) SetState(ctx context.Context, c *model.Config, requested model.Intent) *ctlerrors.Error {
	if e.mustStayWarm(c) {
		c.Warm = true
		return nil
	}

	wantWarm, err := e.resolveWantWarm(c, requested)
	if err != nil {
		return err
	}

	if wantWarm == c.Warm {
		return nil
	}

	c.Warm = wantWarm
	if !wantWarm {
		c.ClearCooldown()
	}

	if e.Worker == nil {
		return nil
	}

	status, body, callErr := e.Worker.Call(ctx, workerrpc.StateCommand(c.Name, c.Warm, string(c.Intent)))
	if callErr != nil {
		return ctlerrors.Wrap(ctlerrors.StatusCant, "worker RPC failed", callErr)
	}
	return workerrpc.AsError(status, body)
}

// mustStayWarm implements Rule 1: active configs and anything touching a
// label relation (in either direction) never leave warm.
func (e *Engine) mustStayWarm(c *model.Config) bool {
	if c.LabelTarget != nil {
		return true
	}
	return e.Registry != nil && e.Registry.Active() == c
}

// resolveWantWarm implements Rules 2-3: auto recomputes from the cooldown
// deadline; warm/cold map straight to a boolean.
func (e *Engine) resolveWantWarm(c *model.Config, requested model.Intent) (bool, *ctlerrors.Error) {
	switch requested {
	case model.IntentAuto:
		want := c.Warm
		if c.EligibleForCooldown() && c.Intent == model.IntentAuto && !e.Clock.Now().Before(c.GoColdAt.Add(e.CooldownWindow)) {
			want = false
		}
		return want, nil
	case model.IntentWarm:
		return true, nil
	case model.IntentCold:
		return false, nil
	default:
		return false, ctlerrors.Param("unknown state %q", requested)
	}
}
