package errors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/grailbio/base/digest"
)

func roundtripJSON(in interface{}, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func TestMarshalKind(t *testing.T) {
	for k := Other; k < maxKind; k++ {
		var (
			e1 = E("op", "arg", k)
			e2 = new(Error)
		)
		if err := roundtripJSON(e1, e2); err != nil {
			t.Error(err)
			continue
		}
		if !Match(e1, e2) {
			t.Errorf("%v does not match %v", e1, e2)
		}
	}
}

func TestMarshalChain(t *testing.T) {
	var (
		e1 = E("op1", Kind(constructionKind), E("op2", Kind(Node)))
		e2 = new(Error)
	)
	if err := roundtripJSON(e1, e2); err != nil {
		t.Fatal(err)
	}
	if !Match(e1, e2) {
		t.Errorf("%v does not match %v", e1, e2)
	}
}

func TestMarshalOrdinary(t *testing.T) {
	var (
		underlying = New(`ordinary error /&#@$%"hello"`)
		e1         = E("op1", underlying)
		e2         = new(Error)
	)
	if err := roundtripJSON(e1, e2); err != nil {
		t.Fatal(err)
	}
	if got, want := e2.Error(), e1.(*Error).Error(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNodeFailure(t *testing.T) {
	cause := New("model server unreachable")
	err := NodeFailure("process", 3, digest.Digest{}, cause)
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %T, want *Error", err)
	}
	if e.Kind != Node {
		t.Errorf("got kind %v, want %v", e.Kind, Node)
	}
	if e.NodeID != 3 {
		t.Errorf("got node id %d, want 3", e.NodeID)
	}
	if !IsNode(err) {
		t.Errorf("IsNode(%v) = false, want true", err)
	}
	if IsResource(err) {
		t.Errorf("IsResource(%v) = true, want false", err)
	}
}

func TestResourceFailure(t *testing.T) {
	err := ResourceFailure("init", 7, New("gpu unavailable"))
	if !IsResource(err) {
		t.Errorf("IsResource(%v) = false, want true", err)
	}
	if IsConstruction(err) {
		t.Errorf("IsConstruction(%v) = true, want false", err)
	}
}

func TestConstructionError(t *testing.T) {
	err := Construction("addnode", "duplicate id: 3")
	if !IsConstruction(err) {
		t.Errorf("IsConstruction(%v) = false, want true", err)
	}
}

func TestCanceledKind(t *testing.T) {
	err := E("process", context.Canceled)
	e := err.(*Error)
	if e.Kind != Canceled {
		t.Errorf("got kind %v, want %v", e.Kind, Canceled)
	}
}

func TestChainInheritsKind(t *testing.T) {
	inner := E("lookup", Kind(Resource), New("disk full"))
	outer := E("store", inner)
	e := outer.(*Error)
	if e.Kind != Resource {
		t.Errorf("got kind %v, want %v", e.Kind, Resource)
	}
}
