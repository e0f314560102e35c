// Package poker implements §4.F: a single recurring timer that asks the
// state engine to re-evaluate every registered config under intent auto,
// demoting whichever ones are warm and past their cooldown deadline.
package poker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nullcache/cachemgr/internal/metrics"
	"github.com/nullcache/cachemgr/internal/model"
	"github.com/nullcache/cachemgr/internal/state"
)

// ConfigSource is the slice of the registry the poker needs: everything to
// iterate, nothing to mutate structurally.
type ConfigSource interface {
	All() []*model.Config
}

// Poker ticks on its own goroutine and drives state.Engine.SetState(auto)
// across every config on each tick, the way the teacher's cache warmer
// runs its own background refresh loop against a shared manager.
type Poker struct {
	Registry ConfigSource
	Engine   *state.Engine
	Period   time.Duration
	Logger   *slog.Logger

	// Metrics, when non-nil, records one ticks_total and
	// transitions_total observation per Tick.
	Metrics *metrics.Metrics

	// Lock, when non-nil, is held for the duration of each Tick. Registry
	// and Engine assume a single caller at a time, same as
	// adminapi.Router.Dispatch does — wiring Router itself in here (it
	// implements sync.Locker) keeps the poker's SetState calls, which
	// bypass Dispatch entirely, from racing an in-flight admin command.
	Lock sync.Locker

	stop chan struct{}
	done chan struct{}
}

// Period derives the poker's tick interval from the cooldown window per
// §6: 0.45 times the configured window.
func Period(cooldownWindow time.Duration) time.Duration {
	return time.Duration(float64(cooldownWindow) * 0.45)
}

// New builds a Poker. logger may be nil.
func New(reg ConfigSource, engine *state.Engine, cooldownWindow time.Duration, logger *slog.Logger) *Poker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poker{
		Registry: reg,
		Engine:   engine,
		Period:   Period(cooldownWindow),
		Logger:   logger.With("component", "poker"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks ticking until ctx is canceled or Stop is called. It is meant
// to be launched with `go poker.Run(ctx)`.
func (p *Poker) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Stop signals Run to return and waits for it to do so. Safe to call at
// most once.
func (p *Poker) Stop() {
	close(p.stop)
	<-p.done
}

// Tick runs one poker sweep synchronously; exported so tests and direct
// callers don't have to wait on a timer.
func (p *Poker) Tick(ctx context.Context) {
	if p.Lock != nil {
		p.Lock.Lock()
		defer p.Lock.Unlock()
	}

	transitions := 0
	for _, c := range p.Registry.All() {
		wasWarm := c.Warm
		if err := p.Engine.SetState(ctx, c, model.IntentAuto); err != nil {
			p.Logger.Warn("poker: re-evaluation failed", "name", c.Name, "error", err)
			continue
		}
		if wasWarm && !c.Warm {
			transitions++
		}
	}
	p.Metrics.ObserveTick(transitions)
}
