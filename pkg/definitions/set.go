// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definitions

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/parascope/runtime/pkg/alloc"
)

// binaryMarshaler is the constraint every definition attribute type must
// satisfy so its record can be staged into a page for unification shipment.
type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

type entry[T binaryMarshaler] struct {
	header Header
	attrs  T
	handle Handle
}

// Set is the Definition Catalog's per-type storage: an append-only,
// optionally deduplicating list of records of one definition type, backed
// by a single alloc.PageManager shared with every other Set in the owning
// Catalog.
type Set[T binaryMarshaler] struct {
	mu       sync.Mutex
	pm       *alloc.PageManager
	kind     Kind
	entries  []*entry[T]
	byHandle map[alloc.Movable]int
	dedup    map[string]int // hash key -> index; nil if this type is never deduped
}

func newSet[T binaryMarshaler](pm *alloc.PageManager, kind Kind, dedupe bool) *Set[T] {
	s := &Set[T]{pm: pm, kind: kind, byHandle: make(map[alloc.Movable]int)}
	if dedupe {
		s.dedup = make(map[string]int)
	}
	return s
}

// New allocates a movable record for attrs and appends it to the set. When
// the set is deduplicating, hashKey must be non-empty and is compared
// against existing records' hash keys before anything is allocated; on a
// match the existing handle is returned and existed is true, matching the
// Definition Catalog's contract that no new record is appended for a
// repeated insert.
func (s *Set[T]) New(attrs T, hashKey string) (handle Handle, existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedup != nil {
		if idx, ok := s.dedup[hashKey]; ok {
			return s.entries[idx].handle, true, nil
		}
	}

	h, err := s.appendLocked(attrs)
	if err != nil {
		return Invalid, false, err
	}
	if s.dedup != nil {
		s.dedup[hashKey] = len(s.entries) - 1
	}
	return h, false, nil
}

// NewWithEqual is used by definition types whose deduplication key cannot be
// reduced to a single comparable string up front (InterimCommunicator's
// paradigm-specific payload). familyKey narrows the candidate set (e.g. by
// paradigm); equal performs the real comparison against each candidate's
// attrs, checked before anything is allocated so a confirmed duplicate never
// touches the page manager.
func (s *Set[T]) NewWithEqual(attrs T, familyKey string, equal func(T) bool) (handle Handle, existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := familyKey + "\x00"
	if s.dedup != nil {
		for hashKey, idx := range s.dedup {
			if !strings.HasPrefix(hashKey, prefix) {
				continue
			}
			if equal(s.entries[idx].attrs) {
				return s.entries[idx].handle, true, nil
			}
		}
	}

	h, err := s.appendLocked(attrs)
	if err != nil {
		return Invalid, false, err
	}
	if s.dedup != nil {
		idx := len(s.entries) - 1
		s.dedup[prefix+strconv.Itoa(idx)] = idx
	}
	return h, false, nil
}

func (s *Set[T]) appendLocked(attrs T) (Handle, error) {
	bs, err := attrs.MarshalBinary()
	if err != nil {
		return Invalid, fmt.Errorf("definitions: marshal %s: %w", s.kind, err)
	}

	mv, err := s.pm.AllocMovable(uint32(len(bs)))
	if err != nil {
		return Invalid, err
	}
	buf, err := s.pm.GetAddressFromMovable(mv, uint32(len(bs)))
	if err != nil {
		return Invalid, err
	}
	copy(buf, bs)

	h := Handle{Type: s.kind, Movable: mv}
	seq := uint32(len(s.entries))
	e := &entry[T]{
		header: Header{SequenceNumber: seq},
		attrs:  attrs,
		handle: h,
	}
	if len(s.entries) > 0 {
		prev := s.entries[len(s.entries)-1]
		prev.header.Next = h
	}
	s.entries = append(s.entries, e)
	s.byHandle[mv] = int(seq)
	return h, nil
}

// Deref returns a pointer to the decoded attributes for handle. The pointer
// must not be retained past the lifetime of the owning Catalog and is only
// meaningful for handles produced by this same Set.
func (s *Set[T]) Deref(handle Handle) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byHandle[handle.Movable]
	if !ok {
		return nil, fmt.Errorf("definitions: unknown %s handle %s", s.kind, handle)
	}
	return &s.entries[idx].attrs, nil
}

// Header returns the record header (sequence number, next, unified) for
// handle.
func (s *Set[T]) Header(handle Handle) (Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byHandle[handle.Movable]
	if !ok {
		return Header{}, fmt.Errorf("definitions: unknown %s handle %s", s.kind, handle)
	}
	return s.entries[idx].header, nil
}

// SetUnified records the unified back-reference for handle. It is the only
// mutation a record undergoes after insertion, and is only ever called once
// per handle by the unification engine.
func (s *Set[T]) SetUnified(handle Handle, unified Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byHandle[handle.Movable]
	if !ok {
		return fmt.Errorf("definitions: unknown %s handle %s", s.kind, handle)
	}
	s.entries[idx].header.Unified = unified
	return nil
}

// ForEach iterates the set in insertion order. Iteration stops early if fn
// returns false.
func (s *Set[T]) ForEach(fn func(Handle, *T) bool) {
	s.mu.Lock()
	entries := make([]*entry[T], len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, e := range entries {
		if !fn(e.handle, &e.attrs) {
			return
		}
	}
}

// Len returns the number of records currently in the set.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
