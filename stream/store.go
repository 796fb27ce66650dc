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

// Package stream implements a binlog store on Redis streams. Each name maps to one capped
// stream, pushes append to it and subscriptions tail it with blocking reads.
package stream

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
)

const (
	// KeyPrefix is prepended to the entry name to build its stream key.
	KeyPrefix = "binlog:stream:v0:"

	fieldTimestamp = "timestamp"
	fieldValue     = "value"

	// DefaultPoolSize is the number of pooled connections used by pushes and queries.
	DefaultPoolSize = 4
	// DefaultMaxLen is the approximate number of entries kept per stream.
	DefaultMaxLen = 100000
	// DefaultBlock bounds a single blocking read of a subscription worker.
	DefaultBlock = time.Second
	// DefaultReadCount is the number of entries fetched per blocking read.
	DefaultReadCount = 128
	// DefaultBuffer is the number of entries a subscription buffers ahead of Next.
	DefaultBuffer = 256
)

// Config holds the options of a stream store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	MaxLen    int64
	Block     time.Duration
	ReadCount int64
	Buffer    int

	// Stats receives operation counters, may be nil.
	Stats *metric.StoreCollector
}

func (c *Config) normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxLen <= 0 {
		c.MaxLen = DefaultMaxLen
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	if c.ReadCount <= 0 {
		c.ReadCount = DefaultReadCount
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
}

// Store is a binlog store backed by Redis streams.
type Store struct {
	cfg    Config
	client *redis.Client
	stats  *metric.StoreCollector

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed int32
}

var (
	_ types.SubscribeableStore = (*Store)(nil)
)

// Key returns the stream key of name.
func Key(name string) string { return KeyPrefix + name }

func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(redis.Error); ok {
		return errors.Wrap(types.NewDatabaseError(err), msg)
	}
	return errors.Wrap(types.NewIoError(err), msg)
}

// Open connects to the Redis server described by cfg.
func Open(ctx context.Context, cfg *Config) (s *Store, err error) {
	s = &Store{
		cfg:  *cfg,
		subs: make(map[*Subscription]struct{}),
	}
	s.cfg.normalize()
	s.stats = s.cfg.Stats
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
		PoolSize: s.cfg.PoolSize,
	})
	if err = s.client.Ping(ctx).Err(); err != nil {
		s.client.Close()
		return nil, wrapErr(err, "ping redis failed")
	}
	log.WithFields(log.Fields{
		"addr":      s.cfg.Addr,
		"pool_size": s.cfg.PoolSize,
	}).Debug("opened stream binlog store")
	return
}

func (s *Store) checkOpen() error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

func encodeTimestamp(ts int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(ts))
	return buf
}

// decodeMessage rebuilds the entry of a stream message.
func decodeMessage(name string, msg redis.XMessage) (e *types.Entry, err error) {
	rawTs, ok := msg.Values[fieldTimestamp].(string)
	if !ok {
		return nil, errors.Wrapf(types.ErrDataFormat, "message %s: missing timestamp", msg.ID)
	}
	value, ok := msg.Values[fieldValue].(string)
	if !ok {
		return nil, errors.Wrapf(types.ErrDataFormat, "message %s: missing value", msg.ID)
	}
	if len(rawTs) != 8 {
		return nil, errors.Wrapf(types.ErrDataFormat, "message %s: timestamp of %d bytes", msg.ID, len(rawTs))
	}
	ts := int64(binary.LittleEndian.Uint64([]byte(rawTs)))
	if ts < 0 {
		return nil, errors.Wrapf(types.ErrDataFormat, "message %s: negative timestamp", msg.ID)
	}
	return &types.Entry{Timestamp: ts, Name: name, Value: []byte(value)}, nil
}

// Push implements types.Store.Push. The stream is trimmed to about MaxLen entries.
func (s *Store) Push(ctx context.Context, e *types.Entry) (err error) {
	defer func() { s.stats.Observe(metric.OpPush, err) }()
	if err = types.CheckEntry(e); err != nil {
		return
	}
	if err = s.checkOpen(); err != nil {
		return
	}
	value := e.Value
	if value == nil {
		value = []byte{}
	}
	err = wrapErr(s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: Key(e.Name),
		MaxLen: s.cfg.MaxLen,
		Approx: true,
		Values: []interface{}{fieldTimestamp, encodeTimestamp(e.Timestamp), fieldValue, value},
	}).Err(), "append entry failed")
	return
}

// Latest implements types.Store.Latest. It returns the last appended entry of the stream.
func (s *Store) Latest(ctx context.Context, name string) (e *types.Entry, err error) {
	defer func() { s.stats.Observe(metric.OpLatest, err) }()
	if err = s.checkOpen(); err != nil {
		return
	}
	msgs, err := s.client.XRevRangeN(ctx, Key(name), "+", "-", 1).Result()
	if err != nil {
		return nil, wrapErr(err, "read latest entry failed")
	}
	if len(msgs) == 0 {
		return
	}
	return decodeMessage(name, msgs[0])
}

// Subscribe implements types.SubscribeableStore.Subscribe. The subscription receives the
// entries appended after this call returns.
func (s *Store) Subscribe(ctx context.Context, name string) (sub types.Subscription, err error) {
	defer func() { s.stats.Observe(metric.OpSubscribe, err) }()
	if err = s.checkOpen(); err != nil {
		return
	}
	conn := s.client.Conn()
	key := Key(name)
	cursor := "0-0"
	msgs, err := conn.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		conn.Close()
		return nil, wrapErr(err, "resolve subscription cursor failed")
	}
	if len(msgs) > 0 {
		cursor = msgs[0].ID
	}

	ss := newSubscription(s, conn, name, cursor)
	s.mu.Lock()
	if atomic.LoadInt32(&s.closed) != 0 {
		s.mu.Unlock()
		ss.Close()
		return nil, types.ErrClosed
	}
	s.subs[ss] = struct{}{}
	s.mu.Unlock()

	log.WithFields(log.Fields{"name": name, "cursor": cursor}).Debug("subscribed to stream")
	return ss, nil
}

func (s *Store) forget(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Close closes every subscription and the client.
func (s *Store) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return wrapErr(s.client.Close(), "close redis client failed")
}
