// Package errors provides the standard error definitions used throughout
// Flow. Each error is assigned a Kind (Construction, Node, or Resource, per
// the three error kinds Flow distinguishes at its boundary) together with an
// operation name and optional node identity, and may wrap another error.
//
// Errors may be serialized to- and deserialized from JSON so that a
// batch.Report can be persisted or logged as structured data.
//
// Package errors provides functions E, Errorf and New as convenience
// constructors, so that callers need import only one error package.
//
// The API follows github.com/grailbio/reflow/errors, which in turn credits
// upspin.io/errors.
package errors

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"

	"github.com/grailbio/base/digest"
)

// Separator is inserted between chained errors while rendering.
var Separator = ":\n\t"

// Kind denotes the type of the error.
type Kind int

const (
	// Other denotes an error that is none of the kinds below.
	Other Kind = iota
	// constructionKind denotes a malformed graph: duplicate id, cycle,
	// binding mismatch, unknown parameter, or type mismatch. Raised
	// during AddNode/AddConstantNode and not recoverable by retry.
	constructionKind
	// Node denotes a processor's Process method failing. Aborts the
	// current RunUpTo; recorded and skipped over in a batch run.
	Node
	// Resource denotes an Init or Release failure. Propagated like
	// Node, but flagged separately so callers can abort a batch on it.
	Resource
	// Canceled denotes that the caller's context was canceled.
	Canceled

	maxKind
)

func (k Kind) String() string {
	switch k {
	case constructionKind:
		return "construction error"
	case Node:
		return "node error"
	case Resource:
		return "resource error"
	case Canceled:
		return "canceled"
	default:
		return "error"
	}
}

var kind2string = [maxKind]string{
	Other:        "Other",
	constructionKind: "Construction",
	Node:         "Node",
	Resource:     "Resource",
	Canceled:     "Canceled",
}

var string2kind = map[string]Kind{
	"Other":        Other,
	"Construction": constructionKind,
	"Node":         Node,
	"Resource":     Resource,
	"Canceled":     Canceled,
}

// Error is Flow's standard error type. It carries the operation that
// failed, the kind of failure, the id of the node involved (if any), the
// node's fingerprint at the time of failure (if computed), and an
// optional wrapped cause.
//
// Errors should be constructed with E, or one of the Construction/
// NodeFailure/ResourceFailure convenience wrappers below.
type Error struct {
	// Kind is the error's class.
	Kind Kind
	// Op is a short description of the operation that failed, e.g.
	// "addnode" or "process".
	Op string
	// Arg is an optional list of arguments to the operation.
	Arg []string
	// NodeID is the id of the node this error concerns, or -1 if none.
	NodeID int
	// Fingerprint is the node's fingerprint at the time of failure, if
	// one had been computed.
	Fingerprint string
	// Err is the underlying cause, if any.
	Err error
}

// E constructs an *Error from a set of arguments, each of which must be
// one of the following types:
//
//	string
//		The first string is taken as Op; subsequent strings are Arg.
//	digest.Digest
//		Taken as the error's Fingerprint.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying cause.
//
// If the underlying error is itself an *Error and no Kind was given, the
// Kind is inherited from it. If the underlying error is context.Canceled,
// the Kind becomes Canceled.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E: no args")
	}
	e := &Error{NodeID: -1}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case digest.Digest:
			e.Fingerprint = arg.String()
		case Kind:
			e.Kind = arg
		case nodeIDArg:
			e.NodeID = int(arg)
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			return Errorf("errors.E: unknown argument type %T: %v", arg, arg)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other && prev.NodeID < 0 {
			e.Err = prev.Err
		}
	default:
		if e.Kind == Other && errorsIsCanceled(e.Err) {
			e.Kind = Canceled
		}
	}
	return e
}

func errorsIsCanceled(err error) bool {
	return goerrors.Is(err, context.Canceled)
}

// nodeIDArg lets callers pass a node id to E without an import cycle on
// the node package; use NodeArg(id) to construct one.
type nodeIDArg int

// NodeArg wraps a node id for use as an argument to E.
func NodeArg(id int) interface{} { return nodeIDArg(id) }

// Construction builds a Kind-Construction error for operation op.
func Construction(op string, args ...interface{}) error {
	full := append([]interface{}{op, Kind(constructionKind)}, args...)
	return E(full...)
}

// NodeFailure builds a Kind-Node error for the given node id, wrapping cause.
func NodeFailure(op string, id int, fp digest.Digest, cause error) error {
	return E(op, Kind(Node), NodeArg(id), fp, cause)
}

// ResourceFailure builds a Kind-Resource error for the given node id,
// wrapping cause.
func ResourceFailure(op string, id int, cause error) error {
	return E(op, Kind(Resource), NodeArg(id), cause)
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of causes, separated by Separator.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this error and its chain of causes, with sep
// between each link.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for _, a := range e.Arg {
			b.WriteString(" " + a)
		}
	}
	if e.NodeID >= 0 {
		pad(b, " ")
		fmt.Fprintf(b, "node(%d)", e.NodeID)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

// Unwrap supports errors.Is and errors.As over chains of *Error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConstruction tells whether err is (or wraps) a Construction error.
func IsConstruction(err error) bool { return kindOf(err) == constructionKind }

// IsNode tells whether err is (or wraps) a Node error.
func IsNode(err error) bool { return kindOf(err) == Node }

// IsResource tells whether err is (or wraps) a Resource error.
func IsResource(err error) bool { return kindOf(err) == Resource }

func kindOf(err error) Kind {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Match compares err1 with err2. If err1 is a Kind, Match reports whether
// err2's Kind is the same; if err1 is an *Error, Match checks that every
// nonempty field of err1 matches err2, recursing into wrapped causes.
func Match(err1 interface{}, err2 error) bool {
	e2 := Recover(err2)
	switch e1 := err1.(type) {
	case Kind:
		return e2 != nil && e1 == e2.Kind
	case *Error:
		if e2 == nil {
			return false
		}
		if e1.Op != "" && e2.Op != e1.Op {
			return false
		}
		if len(e1.Arg) > 0 {
			if len(e1.Arg) != len(e2.Arg) {
				return false
			}
			for i := range e1.Arg {
				if e1.Arg[i] != e2.Arg[i] {
					return false
				}
			}
		}
		if e1.NodeID >= 0 && e1.NodeID != e2.NodeID {
			return false
		}
		if e1.Fingerprint != "" && e1.Fingerprint != e2.Fingerprint {
			return false
		}
		if e1.Kind != Other && e1.Kind != e2.Kind {
			return false
		}
		if e1.Err != nil {
			if _, ok := e1.Err.(*Error); ok {
				return Match(e1.Err, e2.Err)
			}
			if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Recover recovers any error into an *Error, wrapping it if necessary.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return E(err).(*Error)
}

type jsonError struct {
	Op          string
	Arg         []string
	Kind        string
	NodeID      int
	Fingerprint string
	Cause       *jsonError `json:",omitempty"`
	Error       string
}

func (j *jsonError) toError() error {
	if j == nil {
		return nil
	}
	if j.Error != "" {
		return New(j.Error)
	}
	e := &Error{
		Op:          j.Op,
		Arg:         j.Arg,
		Kind:        string2kind[j.Kind],
		NodeID:      j.NodeID,
		Fingerprint: j.Fingerprint,
	}
	if j.Cause != nil {
		e.Err = j.Cause.toError()
	}
	return e
}

func toJSON(err error) *jsonError {
	switch e := err.(type) {
	case *Error:
		j := &jsonError{
			Op:          e.Op,
			Arg:         e.Arg,
			Kind:        kind2string[e.Kind],
			NodeID:      e.NodeID,
			Fingerprint: e.Fingerprint,
		}
		if e.Err != nil {
			j.Cause = toJSON(e.Err)
		}
		return j
	default:
		return &jsonError{Error: err.Error()}
	}
}

// MarshalJSON implements JSON marshaling for Error.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSON(e))
}

// UnmarshalJSON implements JSON unmarshaling for Error.
func (e *Error) UnmarshalJSON(b []byte) error {
	var j jsonError
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	e2, ok := j.toError().(*Error)
	if !ok {
		return Errorf("errors: expected *Error, got %T", e2)
	}
	*e = *e2
	return nil
}
