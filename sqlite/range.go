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
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
)

// Range is a deferred query over both the log and the compacted_log tables.
type Range struct {
	store    *Store
	builder  statementBuilder
	consumed int32
}

// block is a row of compacted_log.
type block struct {
	id      int64
	startTs int64
	endTs   int64
	name    string
	size    int64
	count   int64
	value   []byte
}

const blockColumns = `"id", "start_ts", "end_ts", "name", "size", "count", "value"`

func scanBlock(rows *sql.Rows) (b *block, err error) {
	b = &block{}
	if err = rows.Scan(&b.id, &b.startTs, &b.endTs, &b.name, &b.size, &b.count, &b.value); err != nil {
		return nil, dbErr(err, "scan compacted block failed")
	}
	return
}

func (r *Range) consume() error {
	if !atomic.CompareAndSwapInt32(&r.consumed, 0, 1) {
		return types.ErrRangeConsumed
	}
	return nil
}

// overlapping loads the compacted blocks intersecting the range. Fully covered blocks are
// returned without their payload.
func (r *Range) overlapping(ctx context.Context, tx *sql.Tx) (blocks []*block, err error) {
	q, args := r.builder.overlapStatement(`SELECT `+blockColumns+` FROM "compacted_log"`, `ORDER BY "start_ts", "id"`)
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err, "query compacted blocks failed")
	}
	defer rows.Close()
	for rows.Next() {
		var b *block
		if b, err = scanBlock(rows); err != nil {
			return
		}
		if r.builder.contains(b.startTs, b.endTs) {
			b.value = nil
		}
		blocks = append(blocks, b)
	}
	if err = rows.Err(); err != nil {
		err = dbErr(err, "iterate compacted blocks failed")
	}
	return
}

// Count implements types.Range.Count.
func (r *Range) Count(ctx context.Context) (n uint64, err error) {
	defer func() { r.store.stats.Observe(metric.OpCount, err) }()
	if atomic.LoadInt32(&r.consumed) != 0 {
		err = types.ErrRangeConsumed
		return
	}
	if err = r.store.checkOpen(); err != nil {
		return
	}
	err = r.store.pools.withReadTx(ctx, func(tx *sql.Tx) (err error) {
		var logCount int64
		q, args := r.builder.logStatement(`SELECT COUNT(*) FROM "log"`, "")
		if err = tx.QueryRowContext(ctx, q, args...).Scan(&logCount); err != nil {
			return dbErr(err, "count log entries failed")
		}
		n = uint64(logCount)

		blocks, err := r.overlapping(ctx, tx)
		if err != nil {
			return
		}
		for _, b := range blocks {
			if b.value == nil {
				n += uint64(b.count)
				continue
			}
			var items []*bundleItem
			if items, err = r.store.codec.decodeBundle(b.value, b.size); err != nil {
				return
			}
			for _, item := range items {
				if r.builder.matches(item.Timestamp, b.name) {
					n++
				}
			}
		}
		return
	})
	if err != nil {
		n = 0
	}
	return
}

// Remove implements types.Range.Remove.
func (r *Range) Remove(ctx context.Context) (err error) {
	defer func() { r.store.stats.Observe(metric.OpRemove, err) }()
	if err = r.consume(); err != nil {
		return
	}
	if err = r.store.checkOpen(); err != nil {
		return
	}
	return r.store.pools.withWriteTx(ctx, func(tx *sql.Tx) (err error) {
		q, args := r.builder.logStatement(`DELETE FROM "log"`, "")
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return dbErr(err, "delete log entries failed")
		}

		blocks, err := r.overlapping(ctx, tx)
		if err != nil {
			return
		}
		for _, b := range blocks {
			if b.value == nil {
				if _, err = tx.ExecContext(ctx, `DELETE FROM "compacted_log" WHERE "id" = ?`, b.id); err != nil {
					return dbErr(err, "delete compacted block failed")
				}
				continue
			}
			if err = r.rewrite(ctx, tx, b); err != nil {
				return
			}
		}
		return
	})
}

// rewrite drops the matching entries of a partially covered block.
func (r *Range) rewrite(ctx context.Context, tx *sql.Tx, b *block) (err error) {
	items, err := r.store.codec.decodeBundle(b.value, b.size)
	if err != nil {
		return
	}
	kept := items[:0]
	for _, item := range items {
		if !r.builder.matches(item.Timestamp, b.name) {
			kept = append(kept, item)
		}
	}
	switch {
	case len(kept) == len(items):
		return
	case len(kept) == 0:
		if _, err = tx.ExecContext(ctx, `DELETE FROM "compacted_log" WHERE "id" = ?`, b.id); err != nil {
			err = dbErr(err, "delete compacted block failed")
		}
		return
	}
	blob, size, err := r.store.codec.encodeBundle(kept)
	if err != nil {
		return
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE "compacted_log" SET "start_ts" = ?, "end_ts" = ?, "size" = ?, "count" = ?, "value" = ? WHERE "id" = ?`,
		kept[0].Timestamp, kept[len(kept)-1].Timestamp, size, len(kept), blob, b.id); err != nil {
		err = dbErr(err, "rewrite compacted block failed")
	}
	return
}

// Iter implements types.Range.Iter. The iterator keeps a read transaction open until it is
// exhausted or closed, every page is read from the same snapshot.
func (r *Range) Iter(ctx context.Context) (it types.Iterator, err error) {
	defer func() { r.store.stats.Observe(metric.OpIter, err) }()
	if err = r.consume(); err != nil {
		return
	}
	if err = r.store.checkOpen(); err != nil {
		return
	}
	var tx *sql.Tx
	if tx, err = r.store.pools.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true}); err != nil {
		err = dbErr(err, "begin iterator transaction failed")
		return
	}
	it = newIterator(ctx, r.store, tx, r.builder)
	return
}

var errEmptyBlock = errors.Wrap(types.ErrDataFormat, "empty compacted block")
