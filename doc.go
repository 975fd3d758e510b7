// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package flow implements Flow, a general-purpose workflow manager for
// offline machine-learning pipelines expressed as a directed acyclic graph
// of processing nodes.
//
// Flow's job is to execute such graphs correctly, resumably, and cheaply
// in the presence of expensive, resource-hungry nodes (a local LLM server,
// a GPU model, a large media decoder) whose initialization cost dwarfs
// per-item processing. It is deliberately single-threaded per run: one
// heavy model is resident at a time, and a Graph is never shared across
// concurrent runs. Higher-level parallelism, if wanted, is achieved by
// running independent Graphs in separate processes against distinct
// persistence locations.
//
// A Flow graph is built from two kinds of node. A constant node holds a
// directly-set value and has no inputs; a processor node is instantiated
// from a Kind, which declares a typed input schema (package schema), a
// process step, and optional init/release hooks for heavy resources.
// Each processor node's inputs are bound, at construction, to either a
// literal value or a reference to another node's output.
//
// Running a Graph up to a target node (Graph.RunUpTo) walks the target's
// ancestors in topological order, consulting a content-addressed
// store.Store for each node's cached output before falling back to calling
// the node's Process method. The store package documents the on-disk
// format and caching contract; package batch documents the breadth-first
// strategy used to amortize heavy nodes' init cost across many items.
package flow
