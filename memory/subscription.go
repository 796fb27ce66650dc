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
	"sync"
	"sync/atomic"
	"time"

	"github.com/CovenantSQL/binlog/types"
)

// Subscription receives the entries pushed to a memory store under one name. Its queue is
// unbounded, so a slow reader never loses entries.
type Subscription struct {
	name   string
	mu     sync.Mutex
	queue  []*types.Entry
	signal chan struct{}
	done   chan struct{}
	closed int32
}

func newSubscription(name string) *Subscription {
	return &Subscription{
		name:   name,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) isClosed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

func (s *Subscription) enqueue(e *types.Entry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) dequeue() (e *types.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return
	}
	e = s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return
}

// Next implements types.Subscription.Next.
func (s *Subscription) Next(timeout time.Duration) (*types.Entry, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		if s.isClosed() {
			return nil, types.ErrClosed
		}
		if e := s.dequeue(); e != nil {
			return e, nil
		}
		select {
		case <-s.signal:
		case <-s.done:
			return nil, types.ErrClosed
		case <-expired:
			return s.dequeue(), nil
		}
	}
}

// Close implements types.Subscription.Close. The store prunes the subscription on its next
// push to the same name.
func (s *Subscription) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.done)
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return nil
}
