// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package batch implements Flow's batch runner: a breadth-first driver
// that sweeps one node across an entire batch of items before moving on
// to the next, so that a node's resources need be resident only once
// per sweep rather than once per item. It is the Go counterpart of
// original_source's ProcessGraph.process_batch.
package batch

import (
	"context"
	"sort"
	"time"

	"github.com/grailbio/flow"
	"github.com/grailbio/flow/errors"
	"github.com/grailbio/flow/log"
)

// PrepareFunc is called before each item runs, at every level. It is
// responsible for binding the value store to a per-item persistence
// location (typically via graph.Persist) and for setting the item's
// values onto the graph's constant nodes.
type PrepareFunc func(ctx context.Context, index int, item interface{}) error

// ReleasePolicy decides, after a level finishes, whether
// Graph.ReleaseResources must run before the next level starts. next
// and hasNext describe the following node in the sweep order; hasNext
// is false after the final level (which is always released
// unconditionally). A nil ReleasePolicy releases after every level.
type ReleasePolicy func(node flow.NodeID, next flow.NodeID, hasNext bool) bool

// Failure records one item's failure at one node during a Run.
type Failure struct {
	Index int
	Item  interface{}
	Node  flow.NodeID
	Err   error
}

// Report is the outcome of a batch Run: which item indices reached
// every target successfully, and which failed, where, and why.
type Report struct {
	Successes []int
	Failures  []Failure
}

// Runner drives Graph over a sequence of items, breadth-first.
type Runner struct {
	// Graph is the graph to run. It is mutated (constants set, nodes
	// initialized/released) over the course of Run.
	Graph *flow.Graph
	// Targets are the terminal nodes each item must reach.
	Targets []flow.NodeID
	// Prepare binds the store and sets constants for each item.
	Prepare PrepareFunc
	// ShouldReleaseBetween overrides the default release-every-level
	// policy.
	ShouldReleaseBetween ReleasePolicy
	// AbortOnResourceError stops the batch immediately, returning the
	// partial Report, the first time a node's Init or Release fails.
	// The default (false) matches Flow's documented default: continue
	// on any per-item failure, including resource failures.
	AbortOnResourceError bool
	// Log receives per-level progress at InfoLevel and per-item
	// failures at ErrorLevel. May be nil.
	Log *log.Logger
}

// Run sweeps the runner's targets' topological order across items,
// breadth-first: for each node in the order, Run calls Prepare then
// Graph.RunUpTo(node) for every item not already marked failed, then
// consults ShouldReleaseBetween before advancing to the next node.
// Resources are released unconditionally after the final level and on
// cancellation.
//
// A failing item does not abort the batch: it is recorded in the
// returned Report and skipped for the remainder of the sweep, since its
// descendants can never complete without it.
func (r *Runner) Run(ctx context.Context, items []interface{}) (*Report, error) {
	order, err := r.Graph.TopologicalSortMulti(r.Targets)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	failed := make([]bool, len(items))

	for level, id := range order {
		levelStart := time.Now()
		for index, item := range items {
			if failed[index] {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				if relErr := r.Graph.ReleaseResources(); relErr != nil {
					return report, relErr
				}
				return r.finish(report, failed, items), ctxErr
			}
			if r.Prepare != nil {
				if err := r.Prepare(ctx, index, item); err != nil {
					r.fail(report, failed, index, item, id, err)
					continue
				}
			}
			if _, err := r.Graph.RunUpTo(ctx, id); err != nil {
				r.fail(report, failed, index, item, id, err)
				if r.AbortOnResourceError && errors.IsResource(err) {
					_ = r.Graph.ReleaseResources()
					return r.finish(report, failed, items), err
				}
				continue
			}
		}

		var next flow.NodeID
		hasNext := level+1 < len(order)
		if hasNext {
			next = order[level+1]
		}
		release := true
		if r.ShouldReleaseBetween != nil {
			release = r.ShouldReleaseBetween(id, next, hasNext)
		}
		if !hasNext {
			release = true // the final level is always released unconditionally
		}
		if release {
			if err := r.Graph.ReleaseResources(); err != nil {
				return report, err
			}
		}
		elapsed := time.Since(levelStart)
		r.log().Printf("batch: level %d/%d (node %d) complete, %d items in %s (%.1f items/s)",
			level+1, len(order), id, len(items), elapsed, float64(len(items))/elapsed.Seconds())
	}

	return r.finish(report, failed, items), nil
}

func (r *Runner) fail(report *Report, failed []bool, index int, item interface{}, node flow.NodeID, err error) {
	failed[index] = true
	report.Failures = append(report.Failures, Failure{Index: index, Item: item, Node: node, Err: err})
	r.log().Errorf("batch: item %d failed at node %d: %v", index, node, err)
}

func (r *Runner) finish(report *Report, failed []bool, items []interface{}) *Report {
	for index := range items {
		if !failed[index] {
			report.Successes = append(report.Successes, index)
		}
	}
	sort.Ints(report.Successes)
	return report
}

func (r *Runner) log() *log.Logger {
	return r.Log
}
