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

// Package memory implements the in-process binlog engine. It keeps every entry in a single
// B-tree guarded by one mutex and defines the reference semantics the durable engines are
// tested against.
package memory

import (
	"context"
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
)

const btreeDegree = 32

// bucket holds the payloads pushed under one (timestamp, name) key, in push order.
type bucket struct {
	ts     int64
	name   string
	values [][]byte
}

func lessBucket(a, b *bucket) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.name < b.name
}

// Store is the memory engine. It implements types.RangeableStore and
// types.SubscribeableStore.
type Store struct {
	mu          sync.Mutex
	index       *btree.BTreeG[*bucket]
	subscribers map[string][]*Subscription
	closed      bool
	stats       *metric.StoreCollector
}

var (
	_ types.RangeableStore     = (*Store)(nil)
	_ types.SubscribeableStore = (*Store)(nil)
)

// NewStore returns an empty memory store.
func NewStore() *Store {
	return NewStoreWithCollector(nil)
}

// NewStoreWithCollector returns an empty memory store reporting to stats.
func NewStoreWithCollector(stats *metric.StoreCollector) *Store {
	return &Store{
		index:       btree.NewG(btreeDegree, lessBucket),
		subscribers: make(map[string][]*Subscription),
		stats:       stats,
	}
}

// Push implements types.Store.Push.
func (s *Store) Push(_ context.Context, e *types.Entry) (err error) {
	defer func() { s.stats.Observe(metric.OpPush, err) }()
	if err = types.CheckEntry(e); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		err = types.ErrClosed
		return
	}

	value := cloneValue(e.Value)
	key := &bucket{ts: e.Timestamp, name: e.Name}
	b, ok := s.index.Get(key)
	if !ok {
		b = key
		s.index.ReplaceOrInsert(b)
	}
	b.values = append(b.values, value)

	s.notifyLocked(e.Timestamp, e.Name, value)
	return
}

// cloneValue copies a payload crossing the store boundary, stored slices are never shared
// with callers.
func cloneValue(v []byte) []byte {
	return append([]byte(nil), v...)
}

// notifyLocked fans the entry out to the live subscribers of name, each receiving its own
// copy, and prunes the closed ones.
func (s *Store) notifyLocked(ts int64, name string, value []byte) {
	subs, ok := s.subscribers[name]
	if !ok {
		return
	}
	live := subs[:0]
	for _, sub := range subs {
		if sub.isClosed() {
			continue
		}
		sub.enqueue(&types.Entry{Timestamp: ts, Name: name, Value: cloneValue(value)})
		live = append(live, sub)
	}
	for i := len(live); i < len(subs); i++ {
		subs[i] = nil
	}
	if len(live) == 0 {
		delete(s.subscribers, name)
	} else {
		s.subscribers[name] = live
	}
}

// Latest implements types.Store.Latest.
func (s *Store) Latest(_ context.Context, name string) (e *types.Entry, err error) {
	defer func() { s.stats.Observe(metric.OpLatest, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		err = types.ErrClosed
		return
	}
	s.index.Descend(func(b *bucket) bool {
		if b.name != name || len(b.values) == 0 {
			return true
		}
		e = &types.Entry{Timestamp: b.ts, Name: b.name, Value: cloneValue(b.values[len(b.values)-1])}
		return false
	})
	return
}

// Range implements types.RangeableStore.Range.
func (s *Store) Range(start, end types.Bound, name *string) (types.Range, error) {
	if err := types.CheckBounds(start, end); err != nil {
		return nil, err
	}
	r := &Range{store: s, start: start, end: end}
	if name != nil {
		n := *name
		r.name = &n
	}
	return r, nil
}

// Subscribe implements types.SubscribeableStore.Subscribe.
func (s *Store) Subscribe(_ context.Context, name string) (sub types.Subscription, err error) {
	defer func() { s.stats.Observe(metric.OpSubscribe, err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		err = types.ErrClosed
		return
	}
	ns := newSubscription(name)
	live := s.subscribers[name][:0:0]
	for _, other := range s.subscribers[name] {
		if !other.isClosed() {
			live = append(live, other)
		}
	}
	s.subscribers[name] = append(live, ns)
	log.WithFields(log.Fields{"name": name, "subscribers": len(live) + 1}).Debug("memory subscription registered")
	sub = ns
	return
}

// Close drops every entry and closes the outstanding subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			sub.Close()
		}
	}
	s.subscribers = nil
	s.index.Clear(false)
	return nil
}

// scanLocked calls fn with every bucket between the range bounds, in key order, until fn
// returns false. Buckets of other names are skipped when the range filters by name.
func (r *Range) scanLocked(fn func(b *bucket) bool) {
	pivot := &bucket{ts: math.MinInt64}
	switch r.start.Kind {
	case types.Inclusive:
		pivot.ts = r.start.Timestamp
	case types.Exclusive:
		if r.start.Timestamp == math.MaxInt64 {
			return
		}
		pivot.ts = r.start.Timestamp + 1
	}
	// the empty name sorts first, so the pivot precedes every bucket at its timestamp
	r.store.index.AscendGreaterOrEqual(pivot, func(b *bucket) bool {
		if !types.Contains(types.Unbounded(), r.end, b.ts) {
			return false
		}
		if r.name != nil && b.name != *r.name {
			return true
		}
		return fn(b)
	})
}
