// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package schema_test

import (
	"testing"

	"github.com/grailbio/flow/schema"
)

func TestMatchesLeaf(t *testing.T) {
	cases := []struct {
		v    interface{}
		t    schema.Type
		want bool
	}{
		{"s", schema.TString, true},
		{1, schema.TString, false},
		{3, schema.TInt, true},
		{3.0, schema.TInt, true},
		{3.5, schema.TInt, false},
		{3.5, schema.TFloat, true},
		{true, schema.TBool, true},
		{"x", schema.TAny, true},
		{nil, schema.TAny, true},
	}
	for _, c := range cases {
		if got := schema.Matches(c.v, c.t); got != c.want {
			t.Errorf("Matches(%#v, %v) = %v, want %v", c.v, c.t, got, c.want)
		}
	}
}

func TestMatchesList(t *testing.T) {
	listOfInt := schema.ListOf(schema.TInt)
	if !schema.Matches([]interface{}{1, 2, 3}, listOfInt) {
		t.Error("expected list of ints to match")
	}
	if schema.Matches([]interface{}{1, "two"}, listOfInt) {
		t.Error("expected mixed list to not match")
	}
	if schema.Matches("not a list", listOfInt) {
		t.Error("expected non-list to not match")
	}
}

func TestMatchesMap(t *testing.T) {
	mapOfString := schema.MapOf(schema.TString)
	if !schema.Matches(map[string]interface{}{"a": "x", "b": "y"}, mapOfString) {
		t.Error("expected map of strings to match")
	}
	if schema.Matches(map[string]interface{}{"a": 1}, mapOfString) {
		t.Error("expected map with wrong value type to not match")
	}
}

func TestMatchesStruct(t *testing.T) {
	personType := schema.StructOf(map[string]schema.Type{
		"name": schema.TString,
		"age":  schema.TInt,
	})
	if !schema.Matches(map[string]interface{}{"name": "Ann", "age": 30.0, "extra": true}, personType) {
		t.Error("expected struct with required fields (plus extra) to match")
	}
	if schema.Matches(map[string]interface{}{"name": "Ann"}, personType) {
		t.Error("expected struct missing a required field to not match")
	}
}

func TestParamsNames(t *testing.T) {
	p := schema.Params{
		{Name: "a", Type: schema.TInt},
		{Name: "b", Type: schema.TString},
	}
	names := p.Names()
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2", len(names))
	}
	if names["a"].Kind != schema.Int {
		t.Errorf("got %v, want Int", names["a"].Kind)
	}
	if names["b"].Kind != schema.String {
		t.Errorf("got %v, want String", names["b"].Kind)
	}
}
