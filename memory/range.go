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

package memory

import (
	"context"
	"sync/atomic"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
)

// Range is a deferred query over a memory store. It holds the store itself, not a snapshot,
// so the scan reflects the state at the time Count, Remove or Iter runs.
type Range struct {
	store    *Store
	start    types.Bound
	end      types.Bound
	name     *string
	consumed int32
}

func (r *Range) consume() error {
	if !atomic.CompareAndSwapInt32(&r.consumed, 0, 1) {
		return types.ErrRangeConsumed
	}
	return nil
}

// Count implements types.Range.Count.
func (r *Range) Count(_ context.Context) (n uint64, err error) {
	defer func() { r.store.stats.Observe(metric.OpCount, err) }()
	if atomic.LoadInt32(&r.consumed) != 0 {
		err = types.ErrRangeConsumed
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.closed {
		err = types.ErrClosed
		return
	}
	r.scanLocked(func(b *bucket) bool {
		n += uint64(len(b.values))
		return true
	})
	return
}

// Remove implements types.Range.Remove.
func (r *Range) Remove(_ context.Context) (err error) {
	defer func() { r.store.stats.Observe(metric.OpRemove, err) }()
	if err = r.consume(); err != nil {
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.closed {
		err = types.ErrClosed
		return
	}
	var removable []*bucket
	r.scanLocked(func(b *bucket) bool {
		removable = append(removable, b)
		return true
	})
	for _, b := range removable {
		r.store.index.Delete(b)
	}
	return
}

// Iter implements types.Range.Iter. Matches are materialized before the store lock is
// released, so consuming the iterator never holds the lock.
func (r *Range) Iter(_ context.Context) (it types.Iterator, err error) {
	defer func() { r.store.stats.Observe(metric.OpIter, err) }()
	if err = r.consume(); err != nil {
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.closed {
		err = types.ErrClosed
		return
	}
	var entries []*types.Entry
	r.scanLocked(func(b *bucket) bool {
		for _, v := range b.values {
			entries = append(entries, &types.Entry{Timestamp: b.ts, Name: b.name, Value: cloneValue(v)})
		}
		return true
	})
	it = types.NewSliceIterator(entries)
	return
}
