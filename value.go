// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

// Value is the output of a node: a constant's literal content, or a
// processor node's Process result. Values must be representable in the
// JSON data model (string, float64, bool, nil, []interface{},
// map[string]interface{}, or a Go type that marshals to one of those) so
// that store.Store can persist them and computeFingerprint can
// canonicalize them. A Kind whose natural output isn't JSON-native
// should implement Encoder and Decoder (see kind.go) to bridge it.
type Value = interface{}

// Values is the resolved, type-checked keyword-argument input passed to
// a Kind's Process method, one entry per declared schema.Param.
type Values map[string]Value
