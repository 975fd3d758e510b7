// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store implements Flow's value store: a content-keyed, durable
// cache mapping a node id to the fingerprint and value it last produced
// at a given persistence location.
//
// The store is deliberately decoupled from the root flow package (node
// ids and fingerprints cross the boundary as int and string) so that
// flow can depend on store without a cycle; package flow's Graph adapts
// its own NodeID and Fingerprint types at the call sites in executor.go.
package store

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/grailbio/base/data"
	"github.com/grailbio/flow/log"
)

// Store is Flow's value store (see Graph.4.1 in the design). A Store
// implementation need not be safe for concurrent use by multiple
// goroutines; Flow's executor calls it serially, per the single-threaded
// execution model.
type Store interface {
	// Bind designates the active persistence location for all
	// subsequent Lookup/Put/Forget calls. It is O(1) and must not flush
	// any entries already durably written at a previously bound
	// location.
	Bind(location string) error

	// Lookup returns the value stored for id if its stored fingerprint
	// equals fp exactly; ok is false on any other outcome (miss).
	Lookup(id int, fp string) (value json.RawMessage, ok bool, err error)

	// Put durably persists (fp, value) for id at the current location,
	// overwriting any previous entry for id. It returns only after the
	// write is durable.
	Put(id int, fp string, value json.RawMessage) error

	// Forget removes id's entry at the current location, if any.
	Forget(id int) error
}

// entry is one node's persisted record within a location's document.
type entry struct {
	Fingerprint string          `json:"fingerprint"`
	Value       json.RawMessage `json:"value"`
}

// document is the top-level shape of a location's persisted file:
// node id (decimal string, for JSON object-key compatibility) mapped to
// its entry. encoding/json renders object keys in sorted order, so the
// file is stable across writes with the same contents.
type document map[string]entry

// FileStore is a Store backed by one JSON document per location, written
// with a write-to-temp-then-rename so a crash mid-write never corrupts
// the previous durable state (the same discipline
// repository/filerepo.Repository.Put uses for blob installs).
type FileStore struct {
	log *log.Logger

	mu       sync.Mutex
	location string
	docs     map[string]document // lazily loaded per bound location
}

// NewFileStore returns a FileStore that logs at DebugLevel through
// logger (logger may be nil).
func NewFileStore(logger *log.Logger) *FileStore {
	return &FileStore{log: logger, docs: map[string]document{}}
}

// Bind implements Store.
func (s *FileStore) Bind(location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = location
	if _, ok := s.docs[location]; ok {
		return nil
	}
	doc, err := loadDocument(location)
	if err != nil {
		return fmt.Errorf("store: bind %s: %w", location, err)
	}
	s.docs[location] = doc
	s.log.Debugf("store: bound %s (%d existing entries, %s)", location, len(doc), documentSize(doc))
	return nil
}

// Lookup implements Store.
func (s *FileStore) Lookup(id int, fp string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.currentLocked()
	if err != nil {
		return nil, false, err
	}
	e, ok := doc[key(id)]
	if !ok || e.Fingerprint != fp {
		s.log.Debugf("store: miss node=%d fp=%s", id, fp)
		return nil, false, nil
	}
	s.log.Debugf("store: hit node=%d fp=%s", id, fp)
	return e.Value, true, nil
}

// Put implements Store.
func (s *FileStore) Put(id int, fp string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.currentLocked()
	if err != nil {
		return err
	}
	doc[key(id)] = entry{Fingerprint: fp, Value: value}
	if err := s.flushLocked(doc); err != nil {
		return err
	}
	s.log.Debugf("store: put node=%d fp=%s size=%s", id, fp, data.Size(len(value)))
	return nil
}

// Forget implements Store.
func (s *FileStore) Forget(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.currentLocked()
	if err != nil {
		return err
	}
	if _, ok := doc[key(id)]; !ok {
		return nil
	}
	delete(doc, key(id))
	return s.flushLocked(doc)
}

func (s *FileStore) currentLocked() (document, error) {
	if s.location == "" {
		return nil, fmt.Errorf("store: no location bound")
	}
	return s.docs[s.location], nil
}

func (s *FileStore) flushLocked(doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", s.location, err)
	}
	dir := filepath.Dir(s.location)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	temp, err := ioutil.TempFile(dir, ".store-tmp-")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(temp.Name())
	if _, err := temp.Write(b); err != nil {
		temp.Close()
		return fmt.Errorf("store: write %s: %w", s.location, err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", s.location, err)
	}
	if err := os.Rename(temp.Name(), s.location); err != nil {
		return fmt.Errorf("store: rename into %s: %w", s.location, err)
	}
	return nil
}

func loadDocument(location string) (document, error) {
	b, err := ioutil.ReadFile(location)
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", location, err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

func key(id int) string {
	return strconv.Itoa(id)
}

// documentSize sums the stored byte size of every entry's value, for the
// Bind debug log line.
func documentSize(doc document) data.Size {
	var total data.Size
	for _, e := range doc {
		total += data.Size(len(e.Value))
	}
	return total
}
