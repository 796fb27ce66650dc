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

// Package sqlite implements a durable binlog store on top of an embedded sqlite database.
//
// Entries land in the log table, optionally compressed. A compaction job folds entries older
// than the retention window into compressed per-name blocks in the compacted_log table. Both
// tables are queried together, so compaction is invisible to readers.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
)

const (
	// DefaultMinCompressSize is the payload length from which entries are compressed.
	DefaultMinCompressSize = 32
	// DefaultEntryCompressionLevel is the zstd level of single entries.
	DefaultEntryCompressionLevel = 1
	// DefaultBundleCompressionLevel is the zstd level of compacted blocks.
	DefaultBundleCompressionLevel = 19
	// DefaultPageSize is the number of rows fetched per iterator page.
	DefaultPageSize = 1024
	// DefaultReaders is the size of the reader connection pool.
	DefaultReaders = 8
	// DefaultBusyTimeout is how long a connection waits on a locked database.
	DefaultBusyTimeout = 5 * time.Second
	// DefaultNameCacheSize is the number of interned names.
	DefaultNameCacheSize = 1024
	// DefaultRetention keeps the most recent entries out of compaction.
	DefaultRetention = time.Hour
	// DefaultMaxBundleSize caps the uncompressed payload bytes of a compacted block.
	DefaultMaxBundleSize = 1 << 20
	// DefaultMaxBundleSpan caps the time covered by a compacted block.
	DefaultMaxBundleSpan = 24 * time.Hour
)

// Config holds the options of a sqlite store.
type Config struct {
	DSN                    string
	Readers                int
	BusyTimeout            time.Duration
	MinCompressSize        int
	EntryCompressionLevel  int
	BundleCompressionLevel int
	PageSize               int
	NameCacheSize          int
	Retention              time.Duration
	MaxBundleSize          int
	MaxBundleSpan          time.Duration

	// Stats receives operation counters, may be nil.
	Stats *metric.StoreCollector
	// Now is the clock used by compaction, time.Now if nil.
	Now func() time.Time
}

// DefaultConfig returns the default options for the database at dsn.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:                    dsn,
		Readers:                DefaultReaders,
		BusyTimeout:            DefaultBusyTimeout,
		MinCompressSize:        DefaultMinCompressSize,
		EntryCompressionLevel:  DefaultEntryCompressionLevel,
		BundleCompressionLevel: DefaultBundleCompressionLevel,
		PageSize:               DefaultPageSize,
		NameCacheSize:          DefaultNameCacheSize,
		Retention:              DefaultRetention,
		MaxBundleSize:          DefaultMaxBundleSize,
		MaxBundleSpan:          DefaultMaxBundleSpan,
	}
}

func (c *Config) normalize() {
	if c.Readers <= 0 {
		c.Readers = DefaultReaders
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.MinCompressSize <= 0 {
		c.MinCompressSize = DefaultMinCompressSize
	}
	if c.EntryCompressionLevel <= 0 {
		c.EntryCompressionLevel = DefaultEntryCompressionLevel
	}
	if c.BundleCompressionLevel <= 0 {
		c.BundleCompressionLevel = DefaultBundleCompressionLevel
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.NameCacheSize <= 0 {
		c.NameCacheSize = DefaultNameCacheSize
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	if c.MaxBundleSize <= 0 {
		c.MaxBundleSize = DefaultMaxBundleSize
	}
	if c.MaxBundleSpan <= 0 {
		c.MaxBundleSpan = DefaultMaxBundleSpan
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store is a binlog store persisted in a sqlite database.
type Store struct {
	cfg    Config
	pools  *pools
	codec  *codec
	names  *lru.Cache
	insert *sql.Stmt
	stats  *metric.StoreCollector

	compactMu sync.Mutex
	compactor struct {
		sync.Mutex
		stop chan struct{}
		wg   sync.WaitGroup
	}
	closed int32
}

var (
	_ types.RangeableStore = (*Store)(nil)
)

// NewStore opens the database at dsn with the default options.
func NewStore(dsn string) (*Store, error) {
	return Open(DefaultConfig(dsn))
}

// Open opens or creates the database described by cfg.
func Open(cfg *Config) (s *Store, err error) {
	s = &Store{cfg: *cfg}
	s.cfg.normalize()
	s.stats = s.cfg.Stats

	if s.codec, err = newCodec(s.cfg.MinCompressSize,
		s.cfg.EntryCompressionLevel, s.cfg.BundleCompressionLevel); err != nil {
		return nil, err
	}
	if s.names, err = lru.New(s.cfg.NameCacheSize); err != nil {
		s.codec.close()
		return nil, errors.Wrap(err, "create name cache failed")
	}
	if s.pools, err = openPools(s.cfg.DSN, s.cfg.Readers,
		int(s.cfg.BusyTimeout/time.Millisecond)); err != nil {
		s.codec.close()
		return nil, err
	}
	if s.insert, err = s.pools.writer.Prepare(
		`INSERT INTO "log" ("ts", "name", "size", "value") VALUES (?, ?, ?, ?)`); err != nil {
		s.pools.close()
		s.codec.close()
		return nil, dbErr(err, "prepare insert statement failed")
	}
	log.WithFields(log.Fields{
		"dsn":       s.cfg.DSN,
		"readers":   s.cfg.Readers,
		"page_size": s.cfg.PageSize,
	}).Debug("opened sqlite binlog store")
	return s, nil
}

func (s *Store) checkOpen() error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

// intern returns a shared copy of name so that rows of the same name do not each allocate.
func (s *Store) intern(name string) string {
	if v, ok := s.names.Get(name); ok {
		return v.(string)
	}
	s.names.Add(name, name)
	return name
}

// Push implements types.Store.Push.
func (s *Store) Push(ctx context.Context, e *types.Entry) (err error) {
	defer func() { s.stats.Observe(metric.OpPush, err) }()
	if err = types.CheckEntry(e); err != nil {
		return
	}
	if err = s.checkOpen(); err != nil {
		return
	}
	blob, size := s.codec.compress(e.Value)
	if _, err = s.insert.ExecContext(ctx, e.Timestamp, e.Name, size, blob); err != nil {
		err = dbErr(err, "insert entry failed")
	}
	return
}

// Latest implements types.Store.Latest.
func (s *Store) Latest(ctx context.Context, name string) (e *types.Entry, err error) {
	defer func() { s.stats.Observe(metric.OpLatest, err) }()
	if err = s.checkOpen(); err != nil {
		return
	}
	err = s.pools.withReadTx(ctx, func(tx *sql.Tx) (err error) {
		var (
			ts   int64
			size int64
			blob []byte
		)
		err = tx.QueryRowContext(ctx,
			`SELECT "ts", "size", "value" FROM "log" WHERE "name" = ? ORDER BY "ts" DESC, "id" DESC LIMIT 1`,
			name).Scan(&ts, &size, &blob)
		switch {
		case err == sql.ErrNoRows:
			err = nil
		case err != nil:
			return dbErr(err, "query latest entry failed")
		default:
			var value []byte
			if value, err = s.codec.decompress(blob, size); err != nil {
				return
			}
			e = &types.Entry{Timestamp: ts, Name: name, Value: value}
		}

		var (
			endTs int64
			count int64
		)
		err = tx.QueryRowContext(ctx,
			`SELECT "end_ts", "size", "count", "value" FROM "compacted_log" WHERE "name" = ? `+
				`ORDER BY "end_ts" DESC, "id" DESC LIMIT 1`,
			name).Scan(&endTs, &size, &count, &blob)
		switch {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return dbErr(err, "query latest block failed")
		}
		// a log row at the same timestamp was inserted after the block was compacted
		if e != nil && e.Timestamp >= endTs {
			return
		}
		items, err := s.codec.decodeBundle(blob, size)
		if err != nil {
			return
		}
		if len(items) == 0 {
			return errEmptyBlock
		}
		last := items[len(items)-1]
		e = &types.Entry{Timestamp: last.Timestamp, Name: name, Value: last.Value}
		return
	})
	if err != nil {
		e = nil
	}
	return
}

// Range implements types.RangeableStore.Range.
func (s *Store) Range(start, end types.Bound, name *string) (r types.Range, err error) {
	if err = types.CheckBounds(start, end); err != nil {
		return
	}
	if name != nil {
		name = types.Name(*name)
	}
	r = &Range{
		store:   s,
		builder: statementBuilder{start: start, end: end, name: name},
	}
	return
}

// Close stops the background compactor and closes the database. Open iterators must be
// closed before the store.
func (s *Store) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.StopCompactor()
	// wait for a running compaction
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.insert.Close()
	err = s.pools.close()
	s.codec.close()
	if err != nil {
		err = dbErr(err, "close database failed")
	}
	return
}
