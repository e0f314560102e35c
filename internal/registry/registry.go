// Package registry implements §4.B: the ordered set of known configs, keyed
// by name, with the distinguished "active" pointer. It owns each config's
// artifact file on disk the way pkg/history/cache.Manager owns its cache
// tiers — unlink on remove (the compiler, not Add, creates the file).
package registry

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nullcache/cachemgr/internal/graph"
	"github.com/nullcache/cachemgr/internal/model"
)

// Registry is the single-threaded owner of every known config. Nothing in
// this package takes a lock: the whole manager runs on one event loop (§5)
// and every mutation here happens on that loop.
type Registry struct {
	byName map[string]*model.Config
	order  []*model.Config
	active *model.Config

	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*model.Config),
		logger: logger.With("component", "registry"),
	}
}

// Add creates a config with the given name and intent. warm is computed
// exactly as §4.B specifies: true unless intent is cold. The first config
// ever added becomes active.
func (r *Registry) Add(name string, intent model.Intent) (*model.Config, error) {
	if _, exists := r.byName[name]; exists {
		return nil, model.ErrDuplicateName
	}

	c := &model.Config{
		Name:   name,
		Intent: intent,
		Warm:   intent != model.IntentCold,
	}
	r.byName[name] = c
	r.order = append(r.order, c)

	if r.active == nil {
		r.active = c
		c.Warm = true
	}

	r.logger.Info("config added", "name", name, "intent", intent, "warm", c.Warm, "active", r.active == c)
	return c, nil
}

// Find looks up a config by name, returning nil if it doesn't exist.
func (r *Registry) Find(name string) *model.Config {
	return r.byName[name]
}

// Active returns the currently active config, or nil before the first
// successful load.
func (r *Registry) Active() *model.Config {
	return r.active
}

// SetActive updates the active pointer. Callers (the dispatcher's use())
// are responsible for warming the new active config and demoting the old
// one before calling this.
func (r *Registry) SetActive(c *model.Config) {
	r.active = c
}

// All returns every config in insertion order. Callers must not mutate the
// slice; it is retained by the registry.
func (r *Registry) All() []*model.Config {
	return r.order
}

// Remove detaches c's outgoing edges and deletes it from the registry,
// unlinking its artifact file and removing its now-empty directory on a
// best-effort basis. The caller (the dispatcher) must already have
// established that c has no incoming edges and is not active; Remove does
// not re-check either (see DESIGN.md's note on the edge-cleanup
// precondition).
func (r *Registry) Remove(c *model.Config) {
	graph.DetachOutgoing(c)
	delete(r.byName, c.Name)
	r.order = removeFromOrder(r.order, c)

	r.unlinkArtifact(c)
	r.logger.Info("config removed", "name", c.Name)
}

func (r *Registry) unlinkArtifact(c *model.Config) {
	if c.ArtifactPath == "" {
		return
	}
	if err := os.Remove(c.ArtifactPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("failed to unlink artifact", "name", c.Name, "path", c.ArtifactPath, "error", err)
	}
	// rmdir is expected to fail silently when sibling files (coverage data,
	// leftover temp files) remain in the directory; that failure is ignored.
	_ = os.Remove(filepath.Dir(c.ArtifactPath))
}

func removeFromOrder(order []*model.Config, target *model.Config) []*model.Config {
	for i, c := range order {
		if c == target {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
