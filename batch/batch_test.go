// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package batch_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/grailbio/flow"
	"github.com/grailbio/flow/batch"
	"github.com/grailbio/flow/flowtest"
	"github.com/grailbio/flow/store"
)

// chainGraph builds c0(constant) -> n1(Resource) -> n2(Resource), each
// Resource kind passing its input through, so a run's final output is
// traceable back to the item used to prepare c0.
func chainGraph(t *testing.T) (*flow.Graph, *flow.ConstantNode, *flowtest.Resource, *flowtest.Resource) {
	t.Helper()
	g := flow.NewGraph(store.NewFileStore(nil), nil)
	c0, err := g.AddConstantNode(0, "c0")
	if err != nil {
		t.Fatal(err)
	}
	r1 := flowtest.NewResource("r1", "1", nil)
	n1, err := g.AddNode(1, r1, flow.Bindings{"in": flow.Ref(0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2 := flowtest.NewResource("r2", "1", nil)
	if _, err := g.AddNode(2, r2, flow.Bindings{"in": flow.Ref(n1.ID())}, nil); err != nil {
		t.Fatal(err)
	}
	return g, c0, r1, r2
}

func prepareFunc(t *testing.T, g *flow.Graph, c0 *flow.ConstantNode, dir string, items []interface{}) batch.PrepareFunc {
	return func(ctx context.Context, index int, item interface{}) error {
		loc := filepath.Join(dir, fmt.Sprintf("item-%d.json", index))
		if err := g.Persist(loc); err != nil {
			return err
		}
		return c0.Set(item)
	}
}

func TestBatchBreadthFirstInitCounts(t *testing.T) {
	g, c0, r1, r2 := chainGraph(t)
	items := []interface{}{"a", "b", "c"}
	dir := t.TempDir()
	runner := &batch.Runner{
		Graph:   g,
		Targets: []flow.NodeID{2},
		Prepare: prepareFunc(t, g, c0, dir, items),
	}
	report, err := runner.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(report.Successes), 3; got != want {
		t.Fatalf("got %d successes, want %d", got, want)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("got failures %v, want none", report.Failures)
	}
	// Breadth-first: r1 initializes at most once across the whole
	// sweep (it is released before r2's sweep begins), and likewise
	// for r2, regardless of how many items there are.
	if got, want := r1.InitCount(), 1; got != want {
		t.Errorf("r1 init count = %d, want %d", got, want)
	}
	if got, want := r2.InitCount(), 1; got != want {
		t.Errorf("r2 init count = %d, want %d", got, want)
	}
}

func TestBatchPerItemFailureIsolation(t *testing.T) {
	g := flow.NewGraph(store.NewFileStore(nil), nil)
	c0, err := g.AddConstantNode(0, "c0")
	if err != nil {
		t.Fatal(err)
	}
	r1 := flowtest.NewResource("r1", "1", nil)
	n1, err := g.AddNode(1, r1, flow.Bindings{"in": flow.Ref(0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	failing := flowtest.NewResource("r2", "1", func(inputs flow.Values) (flow.Value, error) {
		if inputs["in"] == "b" {
			return nil, fmt.Errorf("item b is poison")
		}
		return inputs["in"], nil
	})
	n2, err := g.AddNode(2, failing, flow.Bindings{"in": flow.Ref(n1.ID())}, nil)
	if err != nil {
		t.Fatal(err)
	}

	items := []interface{}{"a", "b", "c"}
	dir := t.TempDir()
	runner := &batch.Runner{
		Graph:   g,
		Targets: []flow.NodeID{n2.ID()},
		Prepare: prepareFunc(t, g, c0, dir, items),
	}
	report, err := runner.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := report.Successes, []int{0, 2}; !equalInts(got, want) {
		t.Errorf("got successes %v, want %v", got, want)
	}
	if got, want := len(report.Failures), 1; got != want {
		t.Fatalf("got %d failures, want %d", got, want)
	}
	f := report.Failures[0]
	if f.Index != 1 || f.Node != n2.ID() {
		t.Errorf("got failure %+v, want index=1 node=%v", f, n2.ID())
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
