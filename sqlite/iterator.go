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

package sqlite

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"

	"github.com/CovenantSQL/binlog/types"
)

// pending is an exploded compacted entry waiting in the merge heap. seq keeps the stored
// order of entries sharing a (ts, name) key.
type pending struct {
	entry *types.Entry
	seq   uint64
}

type pendingHeap []*pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.entry.Timestamp != b.entry.Timestamp {
		return a.entry.Timestamp < b.entry.Timestamp
	}
	if a.entry.Name != b.entry.Name {
		return a.entry.Name < b.entry.Name
	}
	return a.seq < b.seq
}
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(*pending)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// Iterator merges the log and compacted_log tables into one (ts, name) ordered sequence,
// reading both page by page from a single read transaction.
type Iterator struct {
	ctx     context.Context
	store   *Store
	tx      *sql.Tx
	builder statementBuilder

	// log source
	logBuf    []*types.Entry
	logOffset int
	logDone   bool

	// compacted source
	blocks      pendingHeap
	blockOffset int
	blockDone   bool
	frontier    int64
	seq         uint64

	cur *types.Entry
	err error
}

var (
	_ types.Iterator = (*Iterator)(nil)
)

func newIterator(ctx context.Context, s *Store, tx *sql.Tx, builder statementBuilder) *Iterator {
	return &Iterator{
		ctx:     ctx,
		store:   s,
		tx:      tx,
		builder: builder,
	}
}

func (it *Iterator) fillLog() (err error) {
	q, args := it.builder.logStatement(`SELECT "ts", "name", "size", "value" FROM "log"`,
		fmt.Sprintf(`ORDER BY "ts", "name", "id" LIMIT %d OFFSET %d`, it.store.cfg.PageSize, it.logOffset))
	rows, err := it.tx.QueryContext(it.ctx, q, args...)
	if err != nil {
		return dbErr(err, "query log page failed")
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var (
			e    = &types.Entry{}
			size int64
			blob []byte
		)
		if err = rows.Scan(&e.Timestamp, &e.Name, &size, &blob); err != nil {
			return dbErr(err, "scan log entry failed")
		}
		if e.Value, err = it.store.codec.decompress(blob, size); err != nil {
			return
		}
		e.Name = it.store.intern(e.Name)
		it.logBuf = append(it.logBuf, e)
		n++
	}
	if err = rows.Err(); err != nil {
		return dbErr(err, "iterate log page failed")
	}
	it.logOffset += n
	if n < it.store.cfg.PageSize {
		it.logDone = true
	}
	return
}

// fillBlocks loads the next page of overlapping blocks and pushes their matching entries.
// Blocks come ordered by start_ts, so every entry earlier than the start of the last loaded
// block is final.
func (it *Iterator) fillBlocks() (err error) {
	q, args := it.builder.overlapStatement(`SELECT `+blockColumns+` FROM "compacted_log"`,
		fmt.Sprintf(`ORDER BY "start_ts", "id" LIMIT %d OFFSET %d`, it.store.cfg.PageSize, it.blockOffset))
	rows, err := it.tx.QueryContext(it.ctx, q, args...)
	if err != nil {
		return dbErr(err, "query compacted page failed")
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var b *block
		if b, err = scanBlock(rows); err != nil {
			return
		}
		n++
		it.frontier = b.startTs

		var items []*bundleItem
		if items, err = it.store.codec.decodeBundle(b.value, b.size); err != nil {
			return
		}
		name := it.store.intern(b.name)
		for _, item := range items {
			if !it.builder.matches(item.Timestamp, name) {
				continue
			}
			it.seq++
			heap.Push(&it.blocks, &pending{
				entry: &types.Entry{Timestamp: item.Timestamp, Name: name, Value: item.Value},
				seq:   it.seq,
			})
		}
	}
	if err = rows.Err(); err != nil {
		return dbErr(err, "iterate compacted page failed")
	}
	it.blockOffset += n
	if n < it.store.cfg.PageSize {
		it.blockDone = true
	}
	return
}

func (it *Iterator) peekLog() (e *types.Entry, err error) {
	if len(it.logBuf) == 0 && !it.logDone {
		if err = it.fillLog(); err != nil {
			return
		}
	}
	if len(it.logBuf) > 0 {
		e = it.logBuf[0]
	}
	return
}

func (it *Iterator) peekBlocks() (e *types.Entry, err error) {
	for !it.blockDone && (it.blocks.Len() == 0 || it.blocks[0].entry.Timestamp >= it.frontier) {
		if err = it.fillBlocks(); err != nil {
			return
		}
	}
	if it.blocks.Len() > 0 {
		e = it.blocks[0].entry
	}
	return
}

// Next implements types.Iterator.Next.
func (it *Iterator) Next() bool {
	it.cur = nil
	if it.err != nil || it.tx == nil {
		return false
	}
	l, err := it.peekLog()
	if err != nil {
		it.fail(err)
		return false
	}
	c, err := it.peekBlocks()
	if err != nil {
		it.fail(err)
		return false
	}
	switch {
	case l == nil && c == nil:
		it.Close()
		return false
	case c == nil || (l != nil && (l.Timestamp < c.Timestamp ||
		(l.Timestamp == c.Timestamp && l.Name < c.Name))):
		it.cur = l
		it.logBuf[0] = nil
		it.logBuf = it.logBuf[1:]
	default:
		it.cur = heap.Pop(&it.blocks).(*pending).entry
	}
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.Close()
}

// Entry implements types.Iterator.Entry.
func (it *Iterator) Entry() *types.Entry { return it.cur }

// Err implements types.Iterator.Err.
func (it *Iterator) Err() error { return it.err }

// Close implements types.Iterator.Close. It ends the read transaction and is safe to call
// more than once.
func (it *Iterator) Close() error {
	if it.tx == nil {
		return nil
	}
	it.tx.Rollback()
	it.tx = nil
	it.logBuf = nil
	it.blocks = nil
	return nil
}
