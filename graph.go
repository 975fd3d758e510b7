// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"fmt"
	"sort"

	"github.com/grailbio/flow/errors"
	"github.com/grailbio/flow/log"
	"github.com/grailbio/flow/schema"
	"github.com/grailbio/flow/store"
)

// Graph is a DAG of nodes: a mapping from node id to node, plus each
// processor node's input bindings. Node ids are chosen by the caller and
// are never reassigned.
//
// A Graph is not safe for concurrent use; it is meant to be driven by a
// single goroutine, matching Flow's single-threaded execution model
// (see executor.go).
type Graph struct {
	store store.Store
	log   *log.Logger

	// OverrideFunc, when set, is applied to a node's adopted output --
	// whether served from cache or freshly computed -- before it is
	// used as a downstream input or returned from RunUpTo. It does not
	// affect the node's Fingerprint: cache keys remain the
	// computation's, never the override's, so overriding a node does
	// not poison the cache for a future run without the override.
	OverrideFunc func(id NodeID, output Value) Value

	nodes   map[NodeID]*node
	running bool
}

// NewGraph returns an empty Graph persisting through s (s may be nil,
// in which case RunUpTo still works but never hits or populates a
// cache) and logging through logger (logger may be nil).
func NewGraph(s store.Store, logger *log.Logger) *Graph {
	return &Graph{
		store: s,
		log:   logger,
		nodes: map[NodeID]*node{},
	}
}

// AddConstantNode adds a node holding a directly-set value with no
// inputs. Its value is typically set immediately with ConstantNode.Set,
// and re-set between batch items.
func (g *Graph) AddConstantNode(id NodeID, name string) (*ConstantNode, error) {
	if g.running {
		return nil, errors.Construction("add_constant_node", "graph is running")
	}
	if _, exists := g.nodes[id]; exists {
		return nil, errors.Construction("add_constant_node", fmt.Sprintf("duplicate node id %d", id))
	}
	g.nodes[id] = &node{id: id, name: name, constant: true}
	g.log.Debugf("graph: add_constant_node %d (%s)", id, name)
	return &ConstantNode{g: g, id: id}, nil
}

// setConstant assigns a constant node's value. It is called by
// ConstantNode.Set.
func (g *Graph) setConstant(id NodeID, v Value) error {
	n, ok := g.nodes[id]
	if !ok || !n.constant {
		return errors.Construction("set_constant", fmt.Sprintf("node %d is not a constant node", id))
	}
	n.constValue = v
	n.constValueSet = true
	n.hasOutput, n.output, n.fp = false, nil, Fingerprint{}
	return nil
}

// AddNode constructs a processor node from kind, bound to bindings (one
// entry per kind.Schema() parameter) and initialized with initArgs (one
// entry per kind.InitSchema() parameter). Both are validated immediately
// and in full: an unknown or missing parameter name, a binding whose
// referent does not yet exist, or a literal whose value does not match
// its declared type all raise a ConstructionError and leave the graph
// unchanged.
func (g *Graph) AddNode(id NodeID, k Kind, bindings Bindings, initArgs Values) (*ProcessorNode, error) {
	if g.running {
		return nil, errors.Construction("add_node", "graph is running")
	}
	if _, exists := g.nodes[id]; exists {
		return nil, errors.Construction("add_node", fmt.Sprintf("duplicate node id %d", id))
	}
	if k == nil {
		return nil, errors.Construction("add_node", "nil kind")
	}
	if bindings == nil {
		bindings = Bindings{}
	}
	if initArgs == nil {
		initArgs = Values{}
	}
	exists := func(ref NodeID) bool {
		_, ok := g.nodes[ref]
		return ok
	}
	if err := validateBindings(k.Schema(), bindings, exists); err != nil {
		return nil, errors.Construction("add_node", fmt.Sprintf("node %d (%s): %v", id, k.Name(), err))
	}
	if err := validateArgs(k.InitSchema(), initArgs); err != nil {
		return nil, errors.Construction("add_node", fmt.Sprintf("node %d (%s): %v", id, k.Name(), err))
	}

	deps := make([]NodeID, 0, len(bindings))
	for _, b := range bindings {
		if b.isRef {
			deps = append(deps, b.ref)
		}
	}
	n := &node{
		id:       id,
		name:     k.Name(),
		kind:     k,
		bindings: bindings,
		initArgs: initArgs,
		deps:     deps,
		phase:    Uninitialized,
	}
	g.nodes[id] = n
	// Every reference a node binds to must already be present in the
	// graph (checked by validateBindings via exists), so a new node can
	// never be wired as an ancestor of a node added earlier: edges only
	// ever point from the new node backward, to existing nodes. A cycle
	// is therefore structurally impossible at add-time; detectCycle is
	// a defensive assertion of that invariant, mirroring
	// graph_algorithms.py's explicit raise on cycle detection.
	if err := g.detectCycle(); err != nil {
		delete(g.nodes, id)
		return nil, err
	}
	g.log.Debugf("graph: add_node %d (%s), deps=%v", id, n.name, deps)
	return &ProcessorNode{g: g, id: id}, nil
}

func validateBindings(params schema.Params, bindings Bindings, exists func(NodeID) bool) error {
	declared := params.Names()
	for name := range bindings {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("unknown binding parameter %q", name)
		}
	}
	for name := range declared {
		if _, ok := bindings[name]; !ok {
			return fmt.Errorf("missing binding for parameter %q", name)
		}
	}
	for name, b := range bindings {
		t := declared[name]
		if b.isRef {
			if !exists(b.ref) {
				return fmt.Errorf("parameter %q references unknown node id %d", name, b.ref)
			}
			continue
		}
		if !schema.Matches(b.lit, t) {
			return fmt.Errorf("parameter %q: literal value does not match declared type %v", name, t)
		}
	}
	return nil
}

func validateArgs(params schema.Params, args Values) error {
	declared := params.Names()
	for name := range args {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("unknown construction argument %q", name)
		}
	}
	for name, t := range declared {
		v, ok := args[name]
		if !ok {
			return fmt.Errorf("missing construction argument %q", name)
		}
		if !schema.Matches(v, t) {
			return fmt.Errorf("construction argument %q: value does not match declared type %v", name, t)
		}
	}
	return nil
}

// detectCycle reports a ConstructionError if the current dependency
// graph is not acyclic.
func (g *Graph) detectCycle() error {
	all := make(map[NodeID]bool, len(g.nodes))
	for id := range g.nodes {
		all[id] = true
	}
	if _, err := g.kahnOrder(all); err != nil {
		return errors.Construction("add_node", "adding this node would introduce a cycle")
	}
	return nil
}

// TopologicalSort returns target and all of its ancestors, in
// dependency order (every node before any node that depends on it),
// breaking ties by ascending node id.
func (g *Graph) TopologicalSort(target NodeID) ([]NodeID, error) {
	if _, ok := g.nodes[target]; !ok {
		return nil, errors.Construction("topological_sort", fmt.Sprintf("unknown node id %d", target))
	}
	return g.kahnOrder(g.ancestors(target))
}

// TopologicalSortMulti returns the union of targets and all of their
// ancestors, in dependency order with ties broken by ascending node id,
// the same guarantee TopologicalSort makes for a single target. It is
// what the batch runner uses to compute one sweep order covering every
// target it must evaluate.
func (g *Graph) TopologicalSortMulti(targets []NodeID) ([]NodeID, error) {
	anc := map[NodeID]bool{}
	for _, t := range targets {
		if _, ok := g.nodes[t]; !ok {
			return nil, errors.Construction("topological_sort", fmt.Sprintf("unknown node id %d", t))
		}
		for id := range g.ancestors(t) {
			anc[id] = true
		}
	}
	return g.kahnOrder(anc)
}

// kahnOrder computes a deterministic topological order of the given
// node-id set using Kahn's algorithm, with ties among simultaneously
// ready nodes broken by ascending id.
func (g *Graph) kahnOrder(anc map[NodeID]bool) ([]NodeID, error) {
	indeg := make(map[NodeID]int, len(anc))
	children := make(map[NodeID][]NodeID, len(anc))
	for id := range anc {
		indeg[id] = 0
	}
	for id := range anc {
		for _, d := range g.nodes[id].deps {
			indeg[id]++
			children[d] = append(children[d], id)
		}
	}

	var ready []NodeID
	for id, deg := range indeg {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]NodeID, 0, len(anc))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var newlyReady []NodeID
		for _, c := range children[id] {
			indeg[c]--
			if indeg[c] == 0 {
				newlyReady = append(newlyReady, c)
			}
		}
		if len(newlyReady) > 0 {
			ready = append(ready, newlyReady...)
			sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		}
	}
	if len(order) != len(anc) {
		return nil, errors.Construction("topological_sort", "cycle detected")
	}
	return order, nil
}

// ancestors returns the set of node ids reachable from target by
// following dependency edges, including target itself.
func (g *Graph) ancestors(target NodeID) map[NodeID]bool {
	seen := map[NodeID]bool{target: true}
	stack := []NodeID{target}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.nodes[id].deps {
			if !seen[d] {
				seen[d] = true
				stack = append(stack, d)
			}
		}
	}
	return seen
}

// ReleaseResources calls Release on every initialized node's kind,
// in ascending node-id order. The graph itself remains usable
// afterward; nodes are simply re-initialized, lazily, the next time
// RunUpTo needs them.
func (g *Graph) ReleaseResources() error {
	for _, id := range g.sortedIDs() {
		n := g.nodes[id]
		if n.constant || n.phase != Initialized {
			continue
		}
		if err := n.kind.Release(n.state); err != nil {
			return errors.ResourceFailure("release_resources", int(id), err)
		}
		n.state = nil
		n.phase = Uninitialized
		g.log.Debugf("graph: released node %d (%s)", id, n.name)
	}
	return nil
}

// Persist forwards to the bound store's Bind, designating location as
// the active persistence location for subsequent runs.
func (g *Graph) Persist(location string) error {
	if g.store == nil {
		return errors.Construction("persist", "graph has no store")
	}
	return g.store.Bind(location)
}

// Reset forgets node id's persisted and in-memory output, forcing it to
// re-run on the next RunUpTo that needs it even if its fingerprint would
// otherwise still match the stored entry. Descendants are not reset
// explicitly: their own fingerprints change naturally once this node's
// output changes, by the same mechanism a changed constant uses.
func (g *Graph) Reset(id NodeID) error {
	n, ok := g.nodes[id]
	if !ok {
		return errors.Construction("reset", fmt.Sprintf("unknown node id %d", id))
	}
	if g.store != nil {
		if err := g.store.Forget(int(id)); err != nil {
			return errors.ResourceFailure("reset", int(id), err)
		}
	}
	n.hasOutput, n.output, n.fp = false, nil, Fingerprint{}
	return nil
}

// ResetAll resets every node in the graph.
func (g *Graph) ResetAll() error {
	for _, id := range g.sortedIDs() {
		if err := g.Reset(id); err != nil {
			return err
		}
	}
	return nil
}

// Output returns node id's last adopted output, if any, and whether one
// is available.
func (g *Graph) Output(id NodeID) (Value, bool) {
	n, ok := g.nodes[id]
	if !ok || !n.hasOutput {
		return nil, false
	}
	return n.output, true
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
