// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

// Binding is a processor node's input for one declared parameter:
// either a literal value fixed at construction time, or a reference to
// another node whose current output is resolved each time the referring
// node runs.
type Binding struct {
	isRef bool
	ref   NodeID
	lit   Value
}

// Literal returns a Binding that always resolves to v.
func Literal(v Value) Binding {
	return Binding{lit: v}
}

// Ref returns a Binding that resolves to node id's current output.
func Ref(id NodeID) Binding {
	return Binding{isRef: true, ref: id}
}

// IsRef reports whether b is a node reference, as opposed to a literal.
func (b Binding) IsRef() bool { return b.isRef }

// NodeID returns the referenced node id. It panics if b is not a
// reference; callers should guard with IsRef.
func (b Binding) NodeID() NodeID {
	if !b.isRef {
		panic("flow: NodeID called on a literal binding")
	}
	return b.ref
}

// Literal returns the bound literal value. It panics if b is a
// reference; callers should guard with IsRef.
func (b Binding) Literal() Value {
	if b.isRef {
		panic("flow: Literal called on a reference binding")
	}
	return b.lit
}

// Bindings maps a processor node's declared parameter names to their
// Binding. Every name in a Kind's Schema must appear exactly once.
type Bindings map[string]Binding
