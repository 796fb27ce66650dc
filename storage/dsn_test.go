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

package storage

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDSN(t *testing.T) {
	Convey("Given some connection strings", t, func() {
		for _, s := range []string{
			"",
			"file:test.db",
			"test.db",
			"file::memory:?cache=shared&mode=memory",
			"file:test.db?p1=v1&p2=v2&p1=v3",
		} {
			dsn, err := NewDSN(s)
			So(err, ShouldBeNil)

			dsn.SetFileName("/dev/null")
			So(dsn.GetFileName(), ShouldEqual, "/dev/null")

			dsn.AddParam("key", "value")
			v, ok := dsn.GetParam("key")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "value")

			dsn.AddParam("key", "")
			_, ok = dsn.GetParam("key")
			So(ok, ShouldBeFalse)
		}
	})
	Convey("Formatting should be stable", t, func() {
		dsn, err := NewDSN("file:test.db?b=2&a=1")
		So(err, ShouldBeNil)
		So(dsn.Format(), ShouldEqual, "file:test.db?a=1&b=2")
		dsn, err = NewDSN("test.db")
		So(err, ShouldBeNil)
		So(dsn.Format(), ShouldEqual, "file:test.db")
	})
	Convey("Malformed parameters should be rejected", t, func() {
		_, err := NewDSN("file:test.db?p1")
		So(err, ShouldNotBeNil)
	})
	Convey("Reader and writer DSNs should carry their pragmas", t, func() {
		dsn, err := NewDSN("file:log.db?cache=private")
		So(err, ShouldBeNil)
		So(dsn.WriterDSN(5000), ShouldEqual,
			"file:log.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&cache=private")
		So(dsn.ReaderDSN(5000), ShouldEqual,
			"file:log.db?_busy_timeout=5000&_journal_mode=WAL&_query_only=on&cache=private")
		_, ok := dsn.GetParam("_query_only")
		So(ok, ShouldBeFalse)
		So(dsn.IsMemory(), ShouldBeFalse)
		mem, _ := NewDSN("file::memory:")
		So(mem.IsMemory(), ShouldBeTrue)
		clone := dsn.Clone()
		clone.AddParam("cache", "shared")
		v, _ := dsn.GetParam("cache")
		So(v, ShouldEqual, "private")
	})
}
