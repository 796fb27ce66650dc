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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fortytw2/leaktest"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/binlog/metric"
	"github.com/CovenantSQL/binlog/storetest"
	"github.com/CovenantSQL/binlog/types"
)

const testBlock = 100 * time.Millisecond

func newTestStore(t *testing.T) (s *Store, mr *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis failed: %v", err)
	}
	if s, err = Open(context.Background(), &Config{
		Addr:  mr.Addr(),
		Block: testBlock,
		Stats: metric.NewStoreCollector("stream"),
	}); err != nil {
		mr.Close()
		t.Fatalf("open store failed: %v", err)
	}
	return
}

// closingStore stops the miniredis server along with the store.
type closingStore struct {
	*Store
	mr *miniredis.Miniredis
}

func (s *closingStore) Close() error {
	defer s.mr.Close()
	return s.Store.Close()
}

func TestStoreContract(t *testing.T) {
	storetest.RunStoreTests(t, func() types.Store {
		s, mr := newTestStore(t)
		return &closingStore{Store: s, mr: mr}
	})
	storetest.RunSubscribeableStoreTests(t, func() types.SubscribeableStore {
		s, mr := newTestStore(t)
		return &closingStore{Store: s, mr: mr}
	})
}

func TestStreamStore(t *testing.T) {
	ctx := context.Background()
	Convey("Given a stream store", t, func() {
		s, mr := newTestStore(t)
		Reset(func() {
			s.Close()
			mr.Close()
		})

		Convey("Entries should be appended to the named stream", func() {
			So(s.Push(ctx, &types.Entry{Timestamp: 0x0102, Name: "k", Value: []byte("v")}), ShouldBeNil)
			msgs, err := mr.Stream(Key("k"))
			So(err, ShouldBeNil)
			So(msgs, ShouldHaveLength, 1)
			So(msgs[0].Values, ShouldResemble, []string{
				"timestamp", string([]byte{0x02, 0x01, 0, 0, 0, 0, 0, 0}),
				"value", "v",
			})
			So(s.stats.Total(metric.OpPush), ShouldEqual, 1)
		})
		Convey("Latest should follow append order rather than timestamps", func() {
			So(s.Push(ctx, &types.Entry{Timestamp: 9, Name: "o", Value: []byte("first")}), ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 3, Name: "o", Value: []byte("second")}), ShouldBeNil)
			e, err := s.Latest(ctx, "o")
			So(err, ShouldBeNil)
			So(e.Equal(&types.Entry{Timestamp: 3, Name: "o", Value: []byte("second")}), ShouldBeTrue)
		})
		Convey("Empty payloads should round trip", func() {
			So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "empty"}), ShouldBeNil)
			e, err := s.Latest(ctx, "empty")
			So(err, ShouldBeNil)
			So(e.Timestamp, ShouldEqual, 1)
			So(e.Value, ShouldHaveLength, 0)
		})
		Convey("Malformed messages should be data format errors", func() {
			_, err := mr.XAdd(Key("short"), "*", []string{"timestamp", "abc", "value", "x"})
			So(err, ShouldBeNil)
			_, err = s.Latest(ctx, "short")
			So(types.KindOf(err), ShouldEqual, types.KindDataFormat)

			_, err = mr.XAdd(Key("missing"), "*", []string{"value", "x"})
			So(err, ShouldBeNil)
			_, err = s.Latest(ctx, "missing")
			So(types.KindOf(err), ShouldEqual, types.KindDataFormat)
		})
		Convey("A subscription should report malformed messages and keep going", func() {
			sub, err := s.Subscribe(ctx, "mixed")
			So(err, ShouldBeNil)
			defer sub.Close()
			_, err = mr.XAdd(Key("mixed"), "*", []string{"value", "x"})
			So(err, ShouldBeNil)
			So(s.Push(ctx, &types.Entry{Timestamp: 5, Name: "mixed", Value: []byte("ok")}), ShouldBeNil)

			_, err = sub.Next(5 * time.Second)
			So(types.KindOf(err), ShouldEqual, types.KindDataFormat)
			e, err := sub.Next(5 * time.Second)
			So(err, ShouldBeNil)
			So(string(e.Value), ShouldEqual, "ok")
		})
		Convey("A subscription should skip entries pushed before it", func() {
			So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "skip", Value: []byte("old")}), ShouldBeNil)
			sub, err := s.Subscribe(ctx, "skip")
			So(err, ShouldBeNil)
			defer sub.Close()
			So(s.Push(ctx, &types.Entry{Timestamp: 2, Name: "skip", Value: []byte("new")}), ShouldBeNil)
			e, err := sub.Next(5 * time.Second)
			So(err, ShouldBeNil)
			So(string(e.Value), ShouldEqual, "new")
		})
		Convey("Closing the store should close its subscriptions", func() {
			sub, err := s.Subscribe(ctx, "owned")
			So(err, ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			_, err = sub.Next(10 * time.Millisecond)
			So(err, ShouldEqual, types.ErrClosed)
			So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "owned"}), ShouldEqual, types.ErrClosed)
			_, err = s.Subscribe(ctx, "owned")
			So(err, ShouldEqual, types.ErrClosed)
		})
	})
}

func TestSubscriptionWorker(t *testing.T) {
	Convey("Closing a subscription should stop its worker", t, func() {
		check := leaktest.CheckTimeout(t, 5*time.Second)
		ctx := context.Background()
		s, mr := newTestStore(t)

		sub, err := s.Subscribe(ctx, "w")
		So(err, ShouldBeNil)
		So(s.Push(ctx, &types.Entry{Timestamp: 1, Name: "w", Value: []byte("x")}), ShouldBeNil)
		e, err := sub.Next(5 * time.Second)
		So(err, ShouldBeNil)
		So(e, ShouldNotBeNil)
		So(sub.Close(), ShouldBeNil)
		_, err = sub.Next(time.Millisecond)
		So(err, ShouldEqual, types.ErrClosed)

		So(s.Close(), ShouldBeNil)
		mr.Close()
		check()
	})
	Convey("An unreachable server should fail to open", t, func() {
		mr, err := miniredis.Run()
		So(err, ShouldBeNil)
		addr := mr.Addr()
		mr.Close()
		_, err = Open(context.Background(), &Config{Addr: addr})
		So(types.KindOf(err), ShouldEqual, types.KindIo)
	})
}
