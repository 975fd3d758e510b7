// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package flowtest contains processor kind constructors convenient for
// testing graphs built with package flow, mirroring the role
// test/flow.Exec/Intern/Extern play for grailbio/reflow's Flow.
package flowtest

import (
	"fmt"
	"sync"

	"github.com/grailbio/flow"
	"github.com/grailbio/flow/schema"
)

// SumInt is a Kind that adds its two integer inputs, a and b. Its
// Version is mutable so tests can exercise fingerprint invalidation on
// a version bump.
type SumInt struct {
	flow.NoInit
	flow.NoRelease

	ver string

	mu        sync.Mutex
	processed int
}

// NewSumInt returns a SumInt kind at version "1".
func NewSumInt() *SumInt { return &SumInt{ver: "1"} }

// Name implements flow.Kind.
func (k *SumInt) Name() string { return "SumInt" }

// Version implements flow.Kind.
func (k *SumInt) Version() string { return k.ver }

// SetVersion updates the kind's version, as if a new build changed its
// process's meaning.
func (k *SumInt) SetVersion(v string) { k.ver = v }

// Schema implements flow.Kind.
func (k *SumInt) Schema() schema.Params {
	return schema.Params{
		{Name: "a", Type: schema.TInt},
		{Name: "b", Type: schema.TInt},
	}
}

// Process implements flow.Kind.
func (k *SumInt) Process(_ flow.State, inputs flow.Values) (flow.Value, error) {
	k.mu.Lock()
	k.processed++
	k.mu.Unlock()
	a, err := asInt(inputs["a"])
	if err != nil {
		return nil, err
	}
	b, err := asInt(inputs["b"])
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// ProcessCount returns the number of times Process has been called.
func (k *SumInt) ProcessCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.processed
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("flowtest: %v (%T) is not an int", v, v)
	}
}

// Resource is a Kind simulating a heavy, exclusively-held resource: Init
// and Release are counted and Init fails if called while already
// initialized, so tests can assert the one-init-per-sweep invariant.
type Resource struct {
	name    string
	ver     string
	process func(inputs flow.Values) (flow.Value, error)

	mu        sync.Mutex
	live      bool
	initCount int
	relCount  int
}

// NewResource returns a Resource kind named name at version ver, whose
// Process delegates to fn.
func NewResource(name, ver string, fn func(inputs flow.Values) (flow.Value, error)) *Resource {
	return &Resource{name: name, ver: ver, process: fn}
}

// Name implements flow.Kind.
func (k *Resource) Name() string { return k.name }

// Version implements flow.Kind.
func (k *Resource) Version() string { return k.ver }

// Schema implements flow.Kind. Resource accepts a single passthrough
// input, in, of any type.
func (k *Resource) Schema() schema.Params {
	return schema.Params{{Name: "in", Type: schema.TAny}}
}

// InitSchema implements flow.Kind; Resource takes no construction
// arguments.
func (k *Resource) InitSchema() schema.Params { return nil }

// Init implements flow.Kind.
func (k *Resource) Init(flow.Values) (flow.State, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.live {
		return nil, fmt.Errorf("flowtest: %s initialized while already live", k.name)
	}
	k.live = true
	k.initCount++
	return k.name + "-handle", nil
}

// Release implements flow.Kind.
func (k *Resource) Release(state flow.State) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.live = false
	k.relCount++
	return nil
}

// Process implements flow.Kind.
func (k *Resource) Process(state flow.State, inputs flow.Values) (flow.Value, error) {
	k.mu.Lock()
	live := k.live
	k.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("flowtest: %s.Process called while uninitialized", k.name)
	}
	if k.process != nil {
		return k.process(inputs)
	}
	return inputs["in"], nil
}

// InitCount returns the number of times Init has succeeded.
func (k *Resource) InitCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.initCount
}

// ReleaseCount returns the number of times Release has been called.
func (k *Resource) ReleaseCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.relCount
}

// Failing is a Kind whose Process always fails with err, useful for
// exercising NodeError propagation and per-item batch isolation.
type Failing struct {
	flow.NoInit
	flow.NoRelease
	name string
	err  error
}

// NewFailing returns a Failing kind named name whose Process always
// returns err.
func NewFailing(name string, err error) *Failing {
	return &Failing{name: name, err: err}
}

// Name implements flow.Kind.
func (k *Failing) Name() string { return k.name }

// Version implements flow.Kind.
func (k *Failing) Version() string { return "1" }

// Schema implements flow.Kind.
func (k *Failing) Schema() schema.Params {
	return schema.Params{{Name: "in", Type: schema.TAny}}
}

// Process implements flow.Kind.
func (k *Failing) Process(flow.State, flow.Values) (flow.Value, error) {
	return nil, k.err
}
