/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"context"
	"time"
)

// Forever makes Subscription.Next block until an entry arrives.
const Forever time.Duration = -1

// Store is the minimal contract implemented by every backend.
type Store interface {
	// Push appends an entry. It is safe for concurrent use, and a successful return means the
	// entry is visible to any later Range or Latest call on the same store.
	Push(ctx context.Context, e *Entry) error
	// Latest returns the entry with the highest timestamp for name, or nil if there is none.
	Latest(ctx context.Context, name string) (*Entry, error)
	// Close releases the store resources.
	Close() error
}

// RangeableStore is a store supporting range queries.
type RangeableStore interface {
	Store
	// Range builds a query over [start, end] restricted to name when it is not nil. Nothing
	// is executed until the returned range is used.
	Range(start, end Bound, name *string) (Range, error)
}

// Range is a deferred query over the entries of a store.
type Range interface {
	// Count returns the number of matching entries. The range stays usable.
	Count(ctx context.Context) (uint64, error)
	// Remove deletes every matching entry and consumes the range.
	Remove(ctx context.Context) error
	// Iter returns the matching entries in ascending (timestamp, name) order and consumes
	// the range.
	Iter(ctx context.Context) (Iterator, error)
}

// Iterator is a finite, non-restartable sequence of entries.
//
//	for it.Next() {
//		e := it.Entry()
//	}
//	err = it.Err()
type Iterator interface {
	Next() bool
	Entry() *Entry
	Err() error
	Close() error
}

// SubscribeableStore is a store supporting live subscriptions.
type SubscribeableStore interface {
	Store
	// Subscribe registers a listener for entries named name pushed after the call. It never
	// waits for a first entry.
	Subscribe(ctx context.Context, name string) (Subscription, error)
}

// Subscription is a best-effort live feed of entries.
type Subscription interface {
	// Next waits up to timeout for the next entry and returns nil, nil when it elapses.
	// A negative timeout (Forever) waits indefinitely.
	Next(timeout time.Duration) (*Entry, error)
	// Close stops the feed, including any background listener, before returning.
	Close() error
}

// SliceIterator iterates over a materialized slice of entries.
type SliceIterator struct {
	entries []*Entry
	pos     int
}

// NewSliceIterator returns an iterator over entries.
func NewSliceIterator(entries []*Entry) *SliceIterator {
	return &SliceIterator{entries: entries, pos: -1}
}

// Next implements Iterator.Next.
func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		it.pos = len(it.entries)
		return false
	}
	it.pos++
	return true
}

// Entry implements Iterator.Entry.
func (it *SliceIterator) Entry() *Entry {
	if it.pos < 0 || it.pos >= len(it.entries) {
		return nil
	}
	return it.entries[it.pos]
}

// Err implements Iterator.Err.
func (it *SliceIterator) Err() error { return nil }

// Close implements Iterator.Close.
func (it *SliceIterator) Close() error {
	it.entries = nil
	it.pos = 0
	return nil
}

// Collect drains it into a slice and closes it.
func Collect(it Iterator) (entries []*Entry, err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	err = it.Err()
	return
}
