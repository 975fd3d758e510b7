// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/flow/errors"
)

// RunUpTo computes target's output, walking its ancestors in
// topological order. For each node, it resolves bindings, computes a
// Fingerprint, and either adopts a cached output from the bound store
// or initializes (lazily) and calls the node's kind before storing and
// adopting a fresh one. Execution is strictly serial: no two Process
// calls overlap, and ctx is checked for cancellation between nodes.
//
// A Process failure aborts RunUpTo immediately with a NodeError naming
// the failing node; any already-persisted upstream outputs are
// retained untouched.
func (g *Graph) RunUpTo(ctx context.Context, target NodeID) (Value, error) {
	if _, ok := g.nodes[target]; !ok {
		return nil, errors.Construction("run_upto", fmt.Sprintf("unknown node id %d", target))
	}
	order, err := g.TopologicalSort(target)
	if err != nil {
		return nil, err
	}
	g.running = true
	defer func() { g.running = false }()

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := g.runNode(ctx, g.nodes[id]); err != nil {
			return nil, err
		}
	}
	out, _ := g.Output(target)
	return out, nil
}

func (g *Graph) runNode(ctx context.Context, n *node) error {
	if n.constant {
		return g.runConstant(n)
	}

	resolved, inputs, err := g.resolveBindings(n)
	if err != nil {
		return err
	}
	fp, err := computeFingerprint(n.name, n.kind.Version(), resolved)
	if err != nil {
		return errors.NodeFailure("run_upto", int(n.id), fp.Digest, err)
	}

	if g.store != nil {
		raw, ok, lookupErr := g.store.Lookup(int(n.id), fp.String())
		if lookupErr != nil {
			return errors.ResourceFailure("lookup", int(n.id), lookupErr)
		}
		if ok {
			v, decodeErr := g.decodeValue(n, raw)
			if decodeErr != nil {
				return errors.NodeFailure("decode", int(n.id), fp.Digest, decodeErr)
			}
			g.adopt(n, fp, v)
			g.log.Debugf("executor: cache hit node=%d(%s) fp=%s", n.id, n.name, fp.Short())
			return nil
		}
	}

	if n.phase != Initialized {
		state, initErr := n.kind.Init(n.initArgs)
		if initErr != nil {
			return errors.ResourceFailure("init", int(n.id), initErr)
		}
		n.state, n.phase = state, Initialized
		g.log.Debugf("executor: init node=%d(%s)", n.id, n.name)
	}

	out, procErr := n.kind.Process(n.state, inputs)
	if procErr != nil {
		return errors.NodeFailure("process", int(n.id), fp.Digest, procErr)
	}

	if g.store != nil {
		raw, encErr := g.encodeValue(n, out)
		if encErr != nil {
			return errors.NodeFailure("encode", int(n.id), fp.Digest, encErr)
		}
		if putErr := g.store.Put(int(n.id), fp.String(), raw); putErr != nil {
			return errors.ResourceFailure("store", int(n.id), putErr)
		}
	}
	g.adopt(n, fp, out)
	g.log.Debugf("executor: ran node=%d(%s) fp=%s", n.id, n.name, fp.Short())
	return nil
}

// runConstant adopts a constant node's current value. Constants have no
// process cost, so there is nothing to cache: the store is never
// consulted for them.
func (g *Graph) runConstant(n *node) error {
	if !n.constValueSet {
		return errors.Construction("run_upto", fmt.Sprintf("constant node %d (%s) has no value set", n.id, n.name))
	}
	fp, err := computeFingerprint(n.name, "constant", map[string]resolvedArg{
		"value": {value: n.constValue},
	})
	if err != nil {
		return errors.NodeFailure("run_upto", int(n.id), fp.Digest, err)
	}
	g.adopt(n, fp, n.constValue)
	return nil
}

// resolveBindings resolves n's bindings into the canonicalizable form
// computeFingerprint needs (resolved) and the concrete inputs n.kind's
// Process receives.
func (g *Graph) resolveBindings(n *node) (map[string]resolvedArg, Values, error) {
	resolved := make(map[string]resolvedArg, len(n.bindings))
	inputs := make(Values, len(n.bindings))
	for name, b := range n.bindings {
		if !b.isRef {
			resolved[name] = resolvedArg{value: b.lit}
			inputs[name] = b.lit
			continue
		}
		dep := g.nodes[b.ref]
		if dep == nil || !dep.hasOutput {
			return nil, nil, errors.Construction("run_upto",
				fmt.Sprintf("node %d (%s): input %q references node %d, which has no output yet", n.id, n.name, name, b.ref))
		}
		resolved[name] = resolvedArg{isRef: true, ref: dep.fp}
		inputs[name] = dep.output
	}
	return resolved, inputs, nil
}

// adopt records v as n's current output under fingerprint fp, applying
// Graph.OverrideFunc if set. The override affects only the in-memory
// value seen by callers and downstream nodes; the stored value was
// already persisted by runNode before adopt is called, and fp itself is
// unaffected, since it was already computed from the real inputs.
func (g *Graph) adopt(n *node, fp Fingerprint, v Value) {
	if g.OverrideFunc != nil {
		v = g.OverrideFunc(n.id, v)
	}
	n.hasOutput, n.output, n.fp = true, v, fp
}

func (g *Graph) encodeValue(n *node, v Value) (json.RawMessage, error) {
	if enc, ok := n.kind.(Encoder); ok {
		return enc.EncodeValue(v)
	}
	return json.Marshal(markFloats(v))
}

// decodeValue restores a generic value from its stored JSON form. A bare
// json.Unmarshal into interface{} decodes every JSON number as float64,
// so an int-valued output would come back as a different Go type on a
// cache hit than it was on the run that computed it -- violating the
// invariant that a cached run_upto and a freshly computed one yield
// identical outputs. decodeValue instead decodes numbers with UseNumber
// and recovers int against float the same way encoding/json's own number
// literals distinguish them: a literal with no '.' or exponent is an
// integer. markFloats makes the encoding side of that distinction hold by
// forcing a decimal point onto any float64 Go value before it is
// marshaled, even when its value happens to be whole.
func (g *Graph) decodeValue(n *node, raw json.RawMessage) (Value, error) {
	if dec, ok := n.kind.(Decoder); ok {
		return dec.DecodeValue(raw)
	}
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var v interface{}
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return unmarkNumbers(v), nil
}

// markFloats walks v, rewriting every float64 leaf to a jsonFloat so it
// marshals with an explicit decimal point.
func markFloats(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return jsonFloat(t)
	case map[string]interface{}:
		for k, e := range t {
			t[k] = markFloats(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = markFloats(e)
		}
		return t
	default:
		return v
	}
}

// unmarkNumbers walks a json.Decoder(UseNumber)-decoded value, turning
// each json.Number into an int (literal has no '.' or exponent) or a
// float64 (it does), recursing into maps and slices.
func unmarkNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		s := string(t)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return int(i)
			}
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = unmarkNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = unmarkNumbers(e)
		}
		return t
	default:
		return v
	}
}

// jsonFloat marshals a float64 with a decimal point even when its value
// is whole, so it is never lexically indistinguishable from a marshaled
// int.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}
