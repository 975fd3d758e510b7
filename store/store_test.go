// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/grailbio/flow/store"
)

func TestPutLookup(t *testing.T) {
	s := store.NewFileStore(nil)
	loc := filepath.Join(t.TempDir(), "location.json")
	if err := s.Bind(loc); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(1, "fp1", json.RawMessage(`42`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Lookup(1, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got, want := string(v), "42"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLookupMissOnFingerprintMismatch(t *testing.T) {
	s := store.NewFileStore(nil)
	loc := filepath.Join(t.TempDir(), "location.json")
	if err := s.Bind(loc); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(1, "fp1", json.RawMessage(`1`)); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Lookup(1, "fp2"); err != nil || ok {
		t.Errorf("got ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestLookupMissOnUnknownID(t *testing.T) {
	s := store.NewFileStore(nil)
	loc := filepath.Join(t.TempDir(), "location.json")
	if err := s.Bind(loc); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Lookup(99, "fp"); err != nil || ok {
		t.Errorf("got ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestForget(t *testing.T) {
	s := store.NewFileStore(nil)
	loc := filepath.Join(t.TempDir(), "location.json")
	if err := s.Bind(loc); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(1, "fp1", json.RawMessage(`1`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Lookup(1, "fp1"); ok {
		t.Error("expected miss after forget")
	}
}

func TestBindReloadsPersistedEntries(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "sub", "location.json")
	s1 := store.NewFileStore(nil)
	if err := s1.Bind(loc); err != nil {
		t.Fatal(err)
	}
	if err := s1.Put(1, "fpA", json.RawMessage(`"hello"`)); err != nil {
		t.Fatal(err)
	}

	s2 := store.NewFileStore(nil)
	if err := s2.Bind(loc); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s2.Lookup(1, "fpA")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v, want hit", ok, err)
	}
	if got, want := string(v), `"hello"`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBindSwitchesLocationWithoutLosingEarlierWrites(t *testing.T) {
	s := store.NewFileStore(nil)
	locA := filepath.Join(t.TempDir(), "a.json")
	locB := filepath.Join(t.TempDir(), "b.json")

	if err := s.Bind(locA); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(1, "fp", json.RawMessage(`1`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(locB); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(1, "fp", json.RawMessage(`2`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(locA); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Lookup(1, "fp")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v, want hit", ok, err)
	}
	if got, want := string(v), "1"; got != want {
		t.Errorf("got %v, want %v (location A's write must survive binding B)", got, want)
	}
}

func TestLookupBeforeBindFails(t *testing.T) {
	s := store.NewFileStore(nil)
	if _, _, err := s.Lookup(1, "fp"); err == nil {
		t.Error("expected error looking up before Bind")
	}
}
