// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package handle implements reference-counted opaque handles for passing Go
// values across a foreign-function boundary.
//
// Foreign code cannot hold Go pointers, so each value it refers to is
// registered in a Table and named by an ID. An ID stays valid until every
// reference to it has been released. The Boundary type uses a Table to expose
// receivers, VFOs, and observer connections to such callers.
package handle

import (
	"errors"
	"sync"
)

// ID is an opaque handle. The zero ID is never issued.
type ID uint64

// ErrInvalid is reported for an ID that is not live in the table.
var ErrInvalid = errors.New("invalid handle")

// A Table assigns IDs to values and counts references to them. A value
// registered more than once shares a single ID. A Table is safe for
// concurrent use by multiple goroutines.
type Table[T comparable] struct {
	final func(T)

	μ    sync.Mutex
	last ID
	live map[ID]*entry[T]
	ids  map[T]ID
}

type entry[T any] struct {
	v    T
	refs int
}

// New constructs an empty table. If final != nil, it is called with each
// value whose last reference is released, outside the table lock.
func New[T comparable](final func(T)) *Table[T] {
	return &Table[T]{
		final: final,
		live:  make(map[ID]*entry[T]),
		ids:   make(map[T]ID),
	}
}

// Acquire returns the ID of v and adds one reference to it. If v is not in
// the table, it is added with a new ID and one reference.
func (t *Table[T]) Acquire(v T) ID {
	t.μ.Lock()
	defer t.μ.Unlock()
	if id, ok := t.ids[v]; ok {
		t.live[id].refs++
		return id
	}
	t.last++
	t.live[t.last] = &entry[T]{v: v, refs: 1}
	t.ids[v] = t.last
	return t.last
}

// Retain adds one reference to id.
func (t *Table[T]) Retain(id ID) error {
	t.μ.Lock()
	defer t.μ.Unlock()
	e, ok := t.live[id]
	if !ok {
		return ErrInvalid
	}
	e.refs++
	return nil
}

// Release drops one reference to id. When the last reference is dropped, the
// value is removed and finalized, and id is no longer valid.
func (t *Table[T]) Release(id ID) error {
	t.μ.Lock()
	e, ok := t.live[id]
	if !ok {
		t.μ.Unlock()
		return ErrInvalid
	}
	e.refs--
	if e.refs > 0 {
		t.μ.Unlock()
		return nil
	}
	delete(t.live, id)
	delete(t.ids, e.v)
	t.μ.Unlock()

	if t.final != nil {
		t.final(e.v)
	}
	return nil
}

// Get returns the value of id.
func (t *Table[T]) Get(id ID) (T, error) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if e, ok := t.live[id]; ok {
		return e.v, nil
	}
	var zero T
	return zero, ErrInvalid
}

// Refs reports the number of references to id, or 0 if it is not live.
func (t *Table[T]) Refs(id ID) int {
	t.μ.Lock()
	defer t.μ.Unlock()
	if e, ok := t.live[id]; ok {
		return e.refs
	}
	return 0
}

// Len reports the number of live IDs.
func (t *Table[T]) Len() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.live)
}
