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

// Package engine opens the binlog store selected by a configuration.
package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/conf"
	"github.com/CovenantSQL/binlog/memory"
	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/sqlite"
	"github.com/CovenantSQL/binlog/stream"
	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
)

// Open builds the configured store without metrics.
func Open(ctx context.Context, cfg *conf.Config) (types.Store, error) {
	return OpenWithCollector(ctx, cfg, nil)
}

// OpenWithCollector builds the configured store reporting to stats, which may be nil. The
// process log level is set from the configuration. A sqlite store with a positive
// CompactInterval has its background compactor started.
func OpenWithCollector(ctx context.Context, cfg *conf.Config, stats *metric.StoreCollector) (s types.Store, err error) {
	cfg.SetDefaults()
	if err = cfg.Validate(); err != nil {
		return
	}
	log.SetStringLevel(cfg.LogLevel, log.InfoLevel)

	switch cfg.Backend {
	case conf.BackendMemory:
		s = memory.NewStoreWithCollector(stats)
	case conf.BackendSQLite:
		s, err = openSQLite(cfg.SQLite, stats)
	case conf.BackendStream:
		s, err = stream.Open(ctx, &stream.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			MaxLen:    cfg.Redis.MaxLen,
			Block:     cfg.Redis.Block,
			ReadCount: cfg.Redis.ReadCount,
			Buffer:    cfg.Redis.Buffer,
			Stats:     stats,
		})
	default:
		err = errors.Errorf("unknown backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend failed", cfg.Backend)
	}
	log.WithField("backend", cfg.Backend).Info("binlog store opened")
	return
}

func openSQLite(c *conf.SQLiteConfig, stats *metric.StoreCollector) (types.Store, error) {
	cfg := sqlite.DefaultConfig(c.DSN)
	if c.Readers > 0 {
		cfg.Readers = c.Readers
	}
	if c.BusyTimeout > 0 {
		cfg.BusyTimeout = c.BusyTimeout
	}
	if c.MinCompressSize > 0 {
		cfg.MinCompressSize = c.MinCompressSize
	}
	if c.EntryCompressionLevel > 0 {
		cfg.EntryCompressionLevel = c.EntryCompressionLevel
	}
	if c.BundleCompressionLevel > 0 {
		cfg.BundleCompressionLevel = c.BundleCompressionLevel
	}
	if c.PageSize > 0 {
		cfg.PageSize = c.PageSize
	}
	if c.NameCacheSize > 0 {
		cfg.NameCacheSize = c.NameCacheSize
	}
	if c.Retention > 0 {
		cfg.Retention = c.Retention
	}
	if c.MaxBundleSize > 0 {
		cfg.MaxBundleSize = c.MaxBundleSize
	}
	if c.MaxBundleSpan > 0 {
		cfg.MaxBundleSpan = c.MaxBundleSpan
	}
	cfg.Stats = stats

	s, err := sqlite.Open(cfg)
	if err != nil {
		return nil, err
	}
	if c.CompactInterval > 0 {
		s.StartCompactor(c.CompactInterval)
	}
	return s, nil
}
