// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"crypto"
	_ "crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/digest"
)

// Digester is the Digester used throughout Flow. We use a SHA256 digest,
// as grailbio/reflow does.
var Digester = digest.Digester(crypto.SHA256)

// Fingerprint identifies a node's resolved computation: its kind's name
// and version together with its resolved inputs. Two nodes (in the same
// or different graphs, in the same or different processes) that produce
// the same Fingerprint are required to produce equivalent outputs, which
// is exactly the property store.Store relies on to skip recomputation.
type Fingerprint struct {
	digest.Digest
}

// IsZero reports whether f is the zero Fingerprint.
func (f Fingerprint) IsZero() bool {
	return f.Digest.IsZero()
}

// String renders the fingerprint's hex digest.
func (f Fingerprint) String() string {
	return f.Digest.String()
}

// Short renders an abbreviated hex digest, for log lines that name a
// node's fingerprint without the noise of the full digest.
func (f Fingerprint) Short() string {
	return f.Digest.Short()
}

// resolvedArg is a single resolved keyword input to computeFingerprint:
// either a literal value (canonicalized by JSON encoding) or a reference
// to another node, in which case only that node's Fingerprint -- not its
// value -- enters the digest. This is what lets a downstream node's
// Fingerprint be computed without re-reading or re-hashing a large
// upstream value.
type resolvedArg struct {
	isRef bool
	ref   Fingerprint
	value Value
}

// computeFingerprint derives the Fingerprint for a processor node with
// the given kind name and version, given its bindings already resolved
// to either literal values or upstream fingerprints.
//
// The digest is built by writing, in the sorted order of parameter
// names, the parameter name followed by either the upstream fingerprint
// (for a node reference) or a canonical JSON encoding of the literal
// value. Sorting by name makes the digest independent of the order
// bindings were supplied in; encoding/json.Marshal already renders
// map[string]T values with keys in sorted order and slices in their
// given order, so literal values are canonicalized for free without a
// bespoke tagged-variant value walker (contrast with
// grailbio/reflow/values, which hand-rolls a comparable walk over a
// closed set of value kinds -- Flow's values are plain
// JSON-representable data, so the standard encoder already gives us the
// ordering guarantee we need).
func computeFingerprint(name, version string, args map[string]resolvedArg) (Fingerprint, error) {
	names := make([]string, 0, len(args))
	for n := range args {
		names = append(names, n)
	}
	sort.Strings(names)

	w := Digester.NewWriter()
	io.WriteString(w, name)
	io.WriteString(w, "\x00")
	io.WriteString(w, version)
	for _, n := range names {
		io.WriteString(w, "\x00")
		io.WriteString(w, n)
		io.WriteString(w, "\x00")
		arg := args[n]
		if arg.isRef {
			io.WriteString(w, "ref:")
			if _, err := digest.WriteDigest(w, arg.ref.Digest); err != nil {
				return Fingerprint{}, fmt.Errorf("fingerprint: write ref digest: %w", err)
			}
			continue
		}
		io.WriteString(w, "lit:")
		b, err := json.Marshal(arg.value)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("fingerprint: encode %q: %w", n, err)
		}
		w.Write(b)
	}
	return Fingerprint{w.Digest()}, nil
}
