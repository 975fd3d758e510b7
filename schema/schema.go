// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package schema declares Flow's static type system for processor inputs.
//
// The original system (see original_source/src/flow/type_util.py) validated
// a node's keyword inputs by runtime inspection of its process() method's
// Python type annotations. Go has no equivalent of inspect.signature, so a
// Kind instead ships an explicit Params schema (an ordered name -> Type
// declaration), and Matches plays the role of type_util.matches: a
// recursive runtime predicate over the same closed set of shapes
// (Union-like looseness is not needed because Go already enforces
// static typing at the Value boundary; what's left to check at runtime is
// exactly what Python's dynamic typing would otherwise hide).
package schema

import (
	"fmt"
	"reflect"
)

// Kind enumerates the shapes a Type can take.
type Kind int

const (
	// Any matches every value.
	Any Kind = iota
	// String matches string values.
	String
	// Int matches any integer-valued number (including a float64 with
	// no fractional part, since decoded JSON numbers are float64).
	Int
	// Float matches any numeric value.
	Float
	// Bool matches boolean values.
	Bool
	// List matches a slice whose elements all match Elem.
	List
	// Map matches a map[string]T whose values all match Elem.
	Map
	// Struct matches a map[string]any carrying at least the declared
	// Fields, each matching its declared Type. Extra keys are allowed.
	Struct
)

func (k Kind) String() string {
	switch k {
	case Any:
		return "any"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case List:
		return "list"
	case Map:
		return "map"
	case Struct:
		return "struct"
	default:
		return "unknown"
	}
}

// Type describes the declared type of a processor input or output.
type Type struct {
	Kind Kind
	// Elem is the element type for List and Map.
	Elem *Type
	// Fields declares the required fields of a Struct type.
	Fields map[string]Type
}

// Convenience constructors for leaf types.
var (
	TAny    = Type{Kind: Any}
	TString = Type{Kind: String}
	TInt    = Type{Kind: Int}
	TFloat  = Type{Kind: Float}
	TBool   = Type{Kind: Bool}
)

// ListOf returns the type of a list whose elements have type elem.
func ListOf(elem Type) Type {
	e := elem
	return Type{Kind: List, Elem: &e}
}

// MapOf returns the type of a map[string]T whose values have type elem.
func MapOf(elem Type) Type {
	e := elem
	return Type{Kind: Map, Elem: &e}
}

// StructOf returns the type of a struct (a map[string]any in practice)
// with the given required fields.
func StructOf(fields map[string]Type) Type {
	return Type{Kind: Struct, Fields: fields}
}

func (t Type) String() string {
	switch t.Kind {
	case List:
		return fmt.Sprintf("[%v]", *t.Elem)
	case Map:
		return fmt.Sprintf("map[string]%v", *t.Elem)
	case Struct:
		return "struct"
	default:
		return t.Kind.String()
	}
}

// Matches reports whether value v conforms to type t. It is the runtime
// counterpart of a declared Param's Type. Graph.AddNode checks it once per
// node, at construction, against each bound literal and construction
// argument; values produced or decoded at run time are not checked.
func Matches(v interface{}, t Type) bool {
	switch t.Kind {
	case Any:
		return true
	case String:
		_, ok := v.(string)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Int:
		return isNumber(v) && isWhole(v)
	case Float:
		return isNumber(v)
	case List:
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if !Matches(rv.Index(i).Interface(), *t.Elem) {
				return false
			}
		}
		return true
	case Map:
		m, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		for _, mv := range m {
			if !Matches(mv, *t.Elem) {
				return false
			}
		}
		return true
	case Struct:
		m, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		for name, ft := range t.Fields {
			fv, present := m[name]
			if !present || !Matches(fv, ft) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func isWhole(v interface{}) bool {
	switch n := v.(type) {
	case float32:
		return n == float32(int64(n))
	case float64:
		return n == float64(int64(n))
	default:
		return true
	}
}

// Param is a single named, typed input declared by a Kind's Schema.
type Param struct {
	Name string
	Type Type
}

// Params is the ordered keyword-input signature of a processor kind's
// Process method, used in place of runtime signature reflection.
type Params []Param

// Names returns the set of declared parameter names.
func (p Params) Names() map[string]Type {
	m := make(map[string]Type, len(p))
	for _, param := range p {
		m[param.Name] = param.Type
	}
	return m
}
