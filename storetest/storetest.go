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

// Package storetest holds the behavior suite every binlog backend must pass. Backend
// packages call the Run functions from their own tests with a constructor of a fresh store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/binlog/types"
)

// PushSample pushes entries with timestamps 1..10 and one-byte values 1..10 under name.
func PushSample(ctx context.Context, s types.Store, name string) error {
	for i := 1; i <= 10; i++ {
		if err := s.Push(ctx, &types.Entry{Timestamp: int64(i), Name: name, Value: []byte{byte(i)}}); err != nil {
			return err
		}
	}
	return nil
}

// ShouldMatchSample asserts entries are exactly the sample pushed by PushSample.
func ShouldMatchSample(entries []*types.Entry, name string) {
	So(entries, ShouldHaveLength, 10)
	for i, e := range entries {
		So(e.Equal(&types.Entry{Timestamp: int64(i + 1), Name: name, Value: []byte{byte(i + 1)}}), ShouldBeTrue)
	}
}

func mustRange(s types.RangeableStore, start, end types.Bound, name *string) types.Range {
	r, err := s.Range(start, end, name)
	So(err, ShouldBeNil)
	return r
}

func count(ctx context.Context, s types.RangeableStore, start, end types.Bound, name *string) uint64 {
	n, err := mustRange(s, start, end, name).Count(ctx)
	So(err, ShouldBeNil)
	return n
}

func collect(ctx context.Context, s types.RangeableStore, start, end types.Bound, name *string) []*types.Entry {
	it, err := mustRange(s, start, end, name).Iter(ctx)
	So(err, ShouldBeNil)
	entries, err := types.Collect(it)
	So(err, ShouldBeNil)
	return entries
}

// RunStoreTests checks push and latest.
func RunStoreTests(t *testing.T, newStore func() types.Store) {
	ctx := context.Background()
	Convey("Given a fresh store", t, func() {
		s := newStore()
		Reset(func() { s.Close() })

		Convey("Latest should be empty before any push", func() {
			e, err := s.Latest(ctx, "none")
			So(err, ShouldBeNil)
			So(e, ShouldBeNil)
		})
		Convey("Latest should return the highest timestamp of the name", func() {
			So(s.Push(ctx, &types.Entry{Timestamp: 3, Name: "a", Value: []byte("a3")}), ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 9, Name: "b", Value: []byte("b9")}), ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 5, Name: "a", Value: []byte("a5")}), ShouldBeNil)
			e, err := s.Latest(ctx, "a")
			So(err, ShouldBeNil)
			So(e.Equal(&types.Entry{Timestamp: 5, Name: "a", Value: []byte("a5")}), ShouldBeTrue)
		})
		Convey("Invalid entries should be rejected before reaching the backend", func() {
			So(s.Push(ctx, nil), ShouldEqual, types.ErrNilEntry)
			So(s.Push(ctx, &types.Entry{Timestamp: -1, Name: "a"}), ShouldEqual, types.ErrTimeTooLarge)
		})
		Convey("Large payloads should round trip", func() {
			value := make([]byte, 4096)
			for i := range value {
				value[i] = byte(i % 7)
			}
			So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "big", Value: value}), ShouldBeNil)
			e, err := s.Latest(ctx, "big")
			So(err, ShouldBeNil)
			So(e.Value, ShouldResemble, value)
		})
	})
}

// RunRangeableStoreTests checks range validation, count, remove and iteration. pageSize is
// the backend page size, at least 3, used to exercise pagination boundaries.
func RunRangeableStoreTests(t *testing.T, newStore func() types.RangeableStore, pageSize int) {
	ctx := context.Background()
	Convey("Given a fresh rangeable store", t, func() {
		s := newStore()
		Reset(func() { s.Close() })

		Convey("Bad bounds should be rejected", func() {
			_, err := s.Range(types.Included(5), types.Included(4), nil)
			So(err, ShouldEqual, types.ErrBadRange)
			_, err = s.Range(types.Excluded(5), types.Included(5), nil)
			So(err, ShouldEqual, types.ErrBadRange)
			_, err = s.Range(types.Included(5), types.Excluded(5), nil)
			So(err, ShouldEqual, types.ErrBadRange)
			_, err = s.Range(types.Included(-5), types.Unbounded(), nil)
			So(err, ShouldEqual, types.ErrTimeTooLarge)
		})
		Convey("The remove scenario should leave the expected counts", func() {
			So(PushSample(ctx, s, "t"), ShouldBeNil)
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), nil), ShouldEqual, 10)
			So(mustRange(s, types.Included(2), types.Unbounded(), nil).Remove(ctx), ShouldBeNil)
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), nil), ShouldEqual, 1)
			So(mustRange(s, types.Unbounded(), types.Unbounded(), types.Name("t")).Remove(ctx), ShouldBeNil)
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), nil), ShouldEqual, 0)
		})
		Convey("Iteration should return the sample in order", func() {
			So(PushSample(ctx, s, "i"), ShouldBeNil)
			ShouldMatchSample(collect(ctx, s, types.Unbounded(), types.Unbounded(), nil), "i")
		})
		Convey("Equal inclusive bounds should match exactly one timestamp", func() {
			So(PushSample(ctx, s, "e"), ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 4, Name: "e", Value: []byte("again")}), ShouldBeNil)
			entries := collect(ctx, s, types.Included(4), types.Included(4), nil)
			So(entries, ShouldHaveLength, 2)
			So(entries[0].Value, ShouldResemble, []byte{4})
			So(entries[1].Value, ShouldResemble, []byte("again"))
		})
		Convey("Bounds and name filters should combine", func() {
			So(PushSample(ctx, s, "a"), ShouldBeNil)
			So(PushSample(ctx, s, "b"), ShouldBeNil)
			So(count(ctx, s, types.Excluded(2), types.Excluded(5), nil), ShouldEqual, 4)
			So(count(ctx, s, types.Excluded(2), types.Included(5), types.Name("b")), ShouldEqual, 3)
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), types.Name("c")), ShouldEqual, 0)
			entries := collect(ctx, s, types.Included(3), types.Included(4), nil)
			So(entries, ShouldHaveLength, 4)
			So(entries[0].Name, ShouldEqual, "a")
			So(entries[1].Name, ShouldEqual, "b")
			So(entries[2].Timestamp, ShouldEqual, 4)
			So(entries[2].Name, ShouldEqual, "a")
		})
		Convey("Removing an empty range should be a no-op", func() {
			So(PushSample(ctx, s, "r"), ShouldBeNil)
			So(mustRange(s, types.Included(100), types.Unbounded(), nil).Remove(ctx), ShouldBeNil)
			So(mustRange(s, types.Included(100), types.Unbounded(), nil).Remove(ctx), ShouldBeNil)
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), nil), ShouldEqual, 10)
		})
		Convey("Ranges should be consumed by remove and iter but not by count", func() {
			So(PushSample(ctx, s, "c"), ShouldBeNil)
			r := mustRange(s, types.Unbounded(), types.Unbounded(), nil)
			n, err := r.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 10)
			n, err = r.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 10)
			it, err := r.Iter(ctx)
			So(err, ShouldBeNil)
			So(it.Close(), ShouldBeNil)
			_, err = r.Iter(ctx)
			So(err, ShouldEqual, types.ErrRangeConsumed)
			So(r.Remove(ctx), ShouldEqual, types.ErrRangeConsumed)
			_, err = r.Count(ctx)
			So(err, ShouldEqual, types.ErrRangeConsumed)
		})
		Convey("A range should not execute before it is used", func() {
			r := mustRange(s, types.Unbounded(), types.Unbounded(), nil)
			So(PushSample(ctx, s, "late"), ShouldBeNil)
			n, err := r.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 10)
		})
		Convey("Iteration should cross page boundaries", func() {
			for _, total := range []int{0, 1, pageSize - 1, pageSize, pageSize + 1, 2*pageSize + 3} {
				name := fmt.Sprintf("page-%d", total)
				for i := 0; i < total; i++ {
					So(s.Push(ctx, &types.Entry{Timestamp: int64(i), Name: name, Value: []byte(name)}), ShouldBeNil)
				}
				entries := collect(ctx, s, types.Unbounded(), types.Unbounded(), types.Name(name))
				So(entries, ShouldHaveLength, total)
				for i, e := range entries {
					So(e.Timestamp, ShouldEqual, i)
				}
				So(count(ctx, s, types.Unbounded(), types.Unbounded(), types.Name(name)), ShouldEqual, total)
			}
		})
		Convey("Concurrent pushes should all be visible", func() {
			var (
				wg   sync.WaitGroup
				errs = make(chan error, 8*25)
			)
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						errs <- s.Push(ctx, &types.Entry{Timestamp: int64(i), Name: fmt.Sprint("w", w), Value: []byte{byte(w)}})
					}
				}(w)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}
			So(count(ctx, s, types.Unbounded(), types.Unbounded(), nil), ShouldEqual, 200)
			entries := collect(ctx, s, types.Unbounded(), types.Unbounded(), nil)
			So(entries, ShouldHaveLength, 200)
			for i := 1; i < len(entries); i++ {
				So(entries[i-1].Timestamp, ShouldBeLessThanOrEqualTo, entries[i].Timestamp)
			}
		})
	})
}

// RunSubscribeableStoreTests checks live subscriptions.
func RunSubscribeableStoreTests(t *testing.T, newStore func() types.SubscribeableStore) {
	ctx := context.Background()
	Convey("Given a fresh subscribeable store", t, func() {
		s := newStore()
		Reset(func() { s.Close() })

		Convey("A subscription should see later pushes in order", func() {
			sub, err := s.Subscribe(ctx, "s")
			So(err, ShouldBeNil)
			defer sub.Close()
			So(s.Push(ctx, &types.Entry{Timestamp: 0, Name: "other", Value: []byte("x")}), ShouldBeNil)
			So(PushSample(ctx, s, "s"), ShouldBeNil)
			var entries []*types.Entry
			for len(entries) < 10 {
				e, err := sub.Next(5 * time.Second)
				So(err, ShouldBeNil)
				So(e, ShouldNotBeNil)
				entries = append(entries, e)
			}
			ShouldMatchSample(entries, "s")
			e, err := sub.Next(50 * time.Millisecond)
			So(err, ShouldBeNil)
			So(e, ShouldBeNil)
		})
		Convey("Next should time out without entries", func() {
			sub, err := s.Subscribe(ctx, "quiet")
			So(err, ShouldBeNil)
			defer sub.Close()
			begin := time.Now()
			e, err := sub.Next(100 * time.Millisecond)
			So(err, ShouldBeNil)
			So(e, ShouldBeNil)
			So(time.Since(begin), ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
		})
		Convey("Next should block until an entry arrives", func() {
			sub, err := s.Subscribe(ctx, "wait")
			So(err, ShouldBeNil)
			defer sub.Close()
			go func() {
				time.Sleep(100 * time.Millisecond)
				s.Push(ctx, &types.Entry{Timestamp: 42, Name: "wait", Value: []byte("ok")})
			}()
			e, err := sub.Next(types.Forever)
			So(err, ShouldBeNil)
			So(e.Equal(&types.Entry{Timestamp: 42, Name: "wait", Value: []byte("ok")}), ShouldBeTrue)
		})
		Convey("Closed subscriptions should stop delivering", func() {
			sub, err := s.Subscribe(ctx, "gone")
			So(err, ShouldBeNil)
			So(sub.Close(), ShouldBeNil)
			So(sub.Close(), ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "gone"}), ShouldBeNil)
			_, err = sub.Next(10 * time.Millisecond)
			So(err, ShouldEqual, types.ErrClosed)
		})
	})
}
