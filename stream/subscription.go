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

package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils/log"
)

type delivery struct {
	entry *types.Entry
	err   error
}

// Subscription tails one stream on a dedicated connection. A worker goroutine performs
// bounded blocking reads and forwards what it decodes to Next.
type Subscription struct {
	store  *Store
	conn   *redis.Conn
	name   string
	cursor string

	deliveries chan delivery
	done       chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closed     int32
}

var (
	_ types.Subscription = (*Subscription)(nil)
)

func newSubscription(s *Store, conn *redis.Conn, name, cursor string) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		store:      s,
		conn:       conn,
		name:       name,
		cursor:     cursor,
		deliveries: make(chan delivery, s.cfg.Buffer),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	sub.wg.Add(1)
	go sub.run(ctx)
	return sub
}

func (sub *Subscription) send(d delivery) bool {
	select {
	case sub.deliveries <- d:
		return true
	case <-sub.done:
		return false
	}
}

func (sub *Subscription) run(ctx context.Context) {
	defer sub.wg.Done()
	key := Key(sub.name)
	for {
		select {
		case <-sub.done:
			return
		default:
		}

		streams, err := sub.conn.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, sub.cursor},
			Count:   sub.store.cfg.ReadCount,
			Block:   sub.store.cfg.Block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if atomic.LoadInt32(&sub.closed) != 0 {
				return
			}
			log.WithError(err).WithField("name", sub.name).Warn("read stream failed")
			if !sub.send(delivery{err: wrapErr(err, "read stream failed")}) {
				return
			}
			// back off before retrying a failing server
			select {
			case <-sub.done:
				return
			case <-time.After(sub.store.cfg.Block):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				sub.cursor = msg.ID
				e, err := decodeMessage(sub.name, msg)
				if !sub.send(delivery{entry: e, err: err}) {
					return
				}
			}
		}
	}
}

// Next implements types.Subscription.Next.
func (sub *Subscription) Next(timeout time.Duration) (e *types.Entry, err error) {
	if atomic.LoadInt32(&sub.closed) != 0 {
		return nil, types.ErrClosed
	}
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case d := <-sub.deliveries:
		return d.entry, d.err
	case <-expired:
		return nil, nil
	case <-sub.done:
		return nil, types.ErrClosed
	}
}

// Close stops the worker, waits for it to exit and releases the dedicated connection.
func (sub *Subscription) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
		return nil
	}
	close(sub.done)
	sub.cancel()
	sub.wg.Wait()
	sub.store.forget(sub)
	return wrapErr(sub.conn.Close(), "release subscription connection failed")
}
