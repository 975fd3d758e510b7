// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"encoding/json"

	"github.com/grailbio/flow/schema"
)

// State is a processor kind's lazily initialized internal state, as
// produced by Init and consumed by Process and Release. A Kind with no
// resources to manage can return nil from Init.
type State = interface{}

// Kind is a processor kind: the declarative template a processor node
// is instantiated from (the counterpart of original_source's
// ProcessNode subclasses, minus the runtime signature inspection Go
// doesn't have -- Schema stands in for inspect.signature).
//
// A node's Init is called at most once per lifecycle (uninitialized ->
// initialized), lazily, immediately before the first Process call that
// needs it; Release returns the node to uninitialized and must be safe
// to call on state Init never produced (state == nil). This is the hook
// a heavy, single-instance resource -- a loaded model, a subprocess, a
// GPU context -- uses to free itself between batch levels that don't
// need it resident.
type Kind interface {
	// Name identifies this kind. It participates in every node's
	// Fingerprint, so renaming a kind invalidates its nodes' cached
	// results.
	Name() string

	// Version participates in Fingerprint alongside Name. Bump it
	// whenever Process's observable behavior changes, so that stale
	// cached results are not mistaken for current ones.
	Version() string

	// Schema declares the keyword inputs Process expects, in place of
	// runtime signature reflection.
	Schema() schema.Params

	// InitSchema declares the construction arguments Init expects,
	// checked once by Graph.AddNode the same way Schema's parameters
	// are checked against bindings.
	InitSchema() schema.Params

	// Init acquires whatever resources Process needs from the
	// construction arguments supplied to Graph.AddNode, and returns
	// internal state to be threaded through subsequent Process and
	// Release calls. Init may be called again after a Release.
	Init(args Values) (State, error)

	// Process computes the node's output from its resolved,
	// schema-validated inputs and current state. Process must be
	// deterministic in inputs and state: the same inputs against
	// equivalent state must yield an equivalent output, since its
	// result may be served from store.Store on a future run instead of
	// being recomputed.
	Process(state State, inputs Values) (Value, error)

	// Release discards the resources held by state. It must tolerate
	// state == nil (Init was never called, or already released).
	Release(state State) error
}

// NoInit can be embedded in a Kind that needs no Init-acquired state and
// no construction arguments.
type NoInit struct{}

// InitSchema declares no construction arguments.
func (NoInit) InitSchema() schema.Params { return nil }

// Init returns nil state and no error.
func (NoInit) Init(Values) (State, error) { return nil, nil }

// NoRelease can be embedded in a Kind with nothing to release.
type NoRelease struct{}

// Release is a no-op.
func (NoRelease) Release(State) error { return nil }

// Encoder is implemented by a Kind whose Process output is not natively
// JSON-representable. EncodeValue converts it to a JSON-storable form
// for store.Store to persist.
type Encoder interface {
	EncodeValue(Value) (json.RawMessage, error)
}

// Decoder is implemented by a Kind whose persisted output must be
// converted back from its stored JSON form before being handed to a
// downstream node as an input. A Kind that implements Encoder should
// also implement Decoder.
type Decoder interface {
	DecodeValue(json.RawMessage) (Value, error)
}
