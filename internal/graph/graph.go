// Package graph implements §4.A: directed dependency edges between configs
// (label targets, compiler-recorded includes). There is no separately
// materialized adjacency index — edges live intrusively on the endpoints'
// own Outgoing/Incoming slices (internal/model.Config), and the only query
// this package or its callers ever need is "does this config have any
// incoming edges". Cycles are not expected (labels can't point to labels;
// includes are acyclic by compiler construction) and are never checked for.
package graph

import "github.com/nullcache/cachemgr/internal/model"

// AddEdge creates one edge from -> to and registers it on both endpoints.
func AddEdge(from, to *model.Config) *model.Edge {
	e := &model.Edge{From: from, To: to}
	from.Outgoing = append(from.Outgoing, e)
	to.Incoming = append(to.Incoming, e)
	return e
}

// RemoveEdge detaches e from both endpoints' lists.
//
// Per the design note carried over from the original implementation (see
// DESIGN.md "open question decisions"), this only needs to find e on the
// endpoints it actually holds; it never scans the whole registry. Callers
// that violate the "remove only empties endpoints you still reference"
// contract (e.g. calling RemoveEdge twice) get a no-op on the second call,
// not a crash — detach is idempotent by construction (removeFrom is a
// no-op if e is already gone).
func RemoveEdge(e *model.Edge) {
	e.From.Outgoing = removeFrom(e.From.Outgoing, e)
	e.To.Incoming = removeFrom(e.To.Incoming, e)
}

func removeFrom(edges []*model.Edge, target *model.Edge) []*model.Edge {
	for i, e := range edges {
		if e == target {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}

// DetachOutgoing severs every edge c originates, e.g. when c is about to be
// removed from the registry. It does not touch c.Incoming: callers must
// have already established that c has no incoming edges (registry.Remove's
// precondition), per the latent behavior documented in DESIGN.md.
func DetachOutgoing(c *model.Config) {
	for _, e := range append([]*model.Edge(nil), c.Outgoing...) {
		RemoveEdge(e)
	}
}
