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
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
	"github.com/CovenantSQL/binlog/utils/timer"
)

type logRow struct {
	id    int64
	ts    int64
	value []byte
}

// run is a group of consecutive rows of one name folded into a single block.
type run struct {
	name  string
	ids   []int64
	items []*bundleItem
	size  int
}

func (r *run) reset() {
	r.ids = r.ids[:0]
	r.items = r.items[:0]
	r.size = 0
}

func (r *run) lastTs() int64 { return r.items[len(r.items)-1].Timestamp }

type compaction struct {
	store  *Store
	ctx    context.Context
	tx     *sql.Tx
	cutoff int64
	span   int64
	timer  *timer.Timer
	del    *sql.Stmt
	rows   int
	blocks int
}

// Compact folds the log entries older than the retention window into compacted blocks. For
// every name only entries newer than its last compacted block are taken, so the blocks of a
// name never overlap. The whole job runs in one write transaction. It returns the number of
// entries compacted.
func (s *Store) Compact(ctx context.Context) (n int, err error) {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	defer func() {
		s.stats.Observe(metric.OpCompact, err)
		if err == nil {
			s.stats.AddCompacted(n)
		}
	}()
	if err = s.checkOpen(); err != nil {
		return
	}

	now, err := types.Micros(s.cfg.Now())
	if err != nil {
		return
	}
	c := &compaction{
		store:  s,
		ctx:    ctx,
		cutoff: now - int64(s.cfg.Retention/time.Microsecond),
		span:   int64(s.cfg.MaxBundleSpan / time.Microsecond),
		timer:  timer.NewTimer(),
	}
	if err = s.pools.withWriteTx(ctx, func(tx *sql.Tx) (err error) {
		c.tx = tx
		if c.del, err = tx.PrepareContext(ctx, `DELETE FROM "log" WHERE "id" = ?`); err != nil {
			return dbErr(err, "prepare delete statement failed")
		}
		defer c.del.Close()
		return c.run()
	}); err != nil {
		log.WithError(err).Warn("compaction failed, rolled back")
		return 0, err
	}
	n = c.rows
	c.timer.Add("commit")

	if n > 0 {
		log.WithFields(c.timer.ToLogFields()).WithFields(log.Fields{
			"entries": c.rows,
			"blocks":  c.blocks,
			"cutoff":  c.cutoff,
		}).Info("compacted binlog entries")
	}
	return
}

func (c *compaction) run() (err error) {
	names, err := c.names()
	if err != nil {
		return
	}
	c.timer.Add("names")
	for _, name := range names {
		if err = c.compactName(name); err != nil {
			return
		}
	}
	return
}

func (c *compaction) names() (names []string, err error) {
	rows, err := c.tx.QueryContext(c.ctx, `SELECT DISTINCT "name" FROM "log" WHERE "ts" < ?`, c.cutoff)
	if err != nil {
		return nil, dbErr(err, "query compactable names failed")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, dbErr(err, "scan name failed")
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		err = dbErr(err, "iterate names failed")
	}
	return
}

func (c *compaction) compactName(name string) (err error) {
	var lastEnd int64
	if err = c.tx.QueryRowContext(c.ctx,
		`SELECT COALESCE(MAX("end_ts"), -1) FROM "compacted_log" WHERE "name" = ?`,
		name).Scan(&lastEnd); err != nil {
		return dbErr(err, "query last compacted block failed")
	}

	var (
		r         = &run{name: name}
		cursorTs  = lastEnd
		cursorID  = int64(math.MaxInt64)
		pageSize  = c.store.cfg.PageSize
		page      []*logRow
		maxSize   = c.store.cfg.MaxBundleSize
		valueSize int
	)
	for {
		if page, err = c.page(name, cursorTs, cursorID, pageSize); err != nil {
			return
		}
		c.timer.Add("select")
		for _, row := range page {
			valueSize = len(row.value)
			if len(r.items) > 0 && row.ts != r.lastTs() &&
				(r.size+valueSize > maxSize || row.ts-r.items[0].Timestamp > c.span) {
				if err = c.flush(r); err != nil {
					return
				}
			}
			r.ids = append(r.ids, row.id)
			r.items = append(r.items, &bundleItem{Timestamp: row.ts, Value: row.value})
			r.size += valueSize
		}
		if len(page) < pageSize {
			break
		}
		last := page[len(page)-1]
		cursorTs, cursorID = last.ts, last.id
	}
	return c.flush(r)
}

// page reads the next rows of name after the (ts, id) cursor, decompressed.
func (c *compaction) page(name string, cursorTs, cursorID int64, limit int) (page []*logRow, err error) {
	rows, err := c.tx.QueryContext(c.ctx,
		`SELECT "id", "ts", "size", "value" FROM "log" `+
			`WHERE "name" = ? AND "ts" < ? AND ("ts" > ? OR ("ts" = ? AND "id" > ?)) `+
			`ORDER BY "ts", "id" LIMIT ?`,
		name, c.cutoff, cursorTs, cursorTs, cursorID, limit)
	if err != nil {
		return nil, dbErr(err, "query compactable entries failed")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row  = &logRow{}
			size int64
			blob []byte
		)
		if err = rows.Scan(&row.id, &row.ts, &size, &blob); err != nil {
			return nil, dbErr(err, "scan compactable entry failed")
		}
		if row.value, err = c.store.codec.decompress(blob, size); err != nil {
			return
		}
		page = append(page, row)
	}
	if err = rows.Err(); err != nil {
		err = dbErr(err, "iterate compactable entries failed")
	}
	return
}

func (c *compaction) flush(r *run) (err error) {
	if len(r.items) == 0 {
		return
	}
	defer r.reset()

	blob, size, err := c.store.codec.encodeBundle(r.items)
	if err != nil {
		return
	}
	c.timer.Add("bundle")
	if _, err = c.tx.ExecContext(c.ctx,
		`INSERT INTO "compacted_log" ("start_ts", "end_ts", "name", "size", "count", "value") VALUES (?, ?, ?, ?, ?, ?)`,
		r.items[0].Timestamp, r.lastTs(), r.name, size, len(r.items), blob); err != nil {
		return dbErr(err, "insert compacted block failed")
	}
	for _, id := range r.ids {
		if _, err = c.del.ExecContext(c.ctx, id); err != nil {
			return dbErr(err, "delete compacted entry failed")
		}
	}
	c.timer.Add("write")
	c.rows += len(r.items)
	c.blocks++
	return
}

// StartCompactor runs Compact every interval until StopCompactor or Close is called.
// Starting an already running compactor does nothing.
func (s *Store) StartCompactor(interval time.Duration) {
	s.compactor.Lock()
	defer s.compactor.Unlock()
	if s.compactor.stop != nil || s.checkOpen() != nil {
		return
	}
	stop := make(chan struct{})
	s.compactor.stop = stop
	s.compactor.wg.Add(1)
	go s.runCompactor(interval, stop)
}

func (s *Store) runCompactor(interval time.Duration, stop chan struct{}) {
	defer s.compactor.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.Compact(ctx); shouldReportCompaction(ctx, err) {
				log.WithError(err).Error("background compaction failed")
			}
		}
	}
}

// shouldReportCompaction filters out the failures of a tick racing with shutdown: a
// cancelled run, or a run hitting a store that Close already marked closed.
func shouldReportCompaction(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Cause(err) != types.ErrClosed
}

// StopCompactor stops the background compactor and waits for it to exit.
func (s *Store) StopCompactor() {
	s.compactor.Lock()
	stop := s.compactor.stop
	s.compactor.stop = nil
	s.compactor.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	s.compactor.wg.Wait()
}
