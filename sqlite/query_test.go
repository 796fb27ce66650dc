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
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/binlog/types"
)

func TestStatementBuilder(t *testing.T) {
	Convey("Given range specifications", t, func() {
		var cases = []struct {
			b       statementBuilder
			log     string
			overlap string
			args    int
		}{
			{
				b:       statementBuilder{start: types.Unbounded(), end: types.Unbounded()},
				log:     `SELECT * FROM "log"`,
				overlap: `SELECT * FROM "compacted_log"`,
			},
			{
				b:       statementBuilder{start: types.Included(1), end: types.Excluded(5)},
				log:     `SELECT * FROM "log" WHERE "ts" >= 1 AND "ts" < 5`,
				overlap: `SELECT * FROM "compacted_log" WHERE "end_ts" >= 1 AND "start_ts" < 5`,
			},
			{
				b:       statementBuilder{start: types.Excluded(2), end: types.Unbounded(), name: types.Name("a")},
				log:     `SELECT * FROM "log" WHERE "ts" > 2 AND "name" = ?`,
				overlap: `SELECT * FROM "compacted_log" WHERE "end_ts" > 2 AND "name" = ?`,
				args:    1,
			},
			{
				b:       statementBuilder{start: types.Unbounded(), end: types.Included(9), name: types.Name("'; DROP")},
				log:     `SELECT * FROM "log" WHERE "ts" <= 9 AND "name" = ?`,
				overlap: `SELECT * FROM "compacted_log" WHERE "start_ts" <= 9 AND "name" = ?`,
				args:    1,
			},
		}
		for _, c := range cases {
			q, args := c.b.logStatement(`SELECT * FROM "log"`, "")
			So(q, ShouldEqual, c.log)
			So(args, ShouldHaveLength, c.args)
			q, args = c.b.overlapStatement(`SELECT * FROM "compacted_log"`, "")
			So(q, ShouldEqual, c.overlap)
			So(args, ShouldHaveLength, c.args)
		}
	})
	Convey("The suffix should follow the condition", t, func() {
		b := statementBuilder{start: types.Included(3), end: types.Unbounded()}
		q, _ := b.logStatement(`SELECT "ts" FROM "log"`, `ORDER BY "ts"`)
		So(q, ShouldEqual, `SELECT "ts" FROM "log" WHERE "ts" >= 3 ORDER BY "ts"`)
	})
	Convey("Block containment should follow the bounds", t, func() {
		b := statementBuilder{start: types.Included(3), end: types.Excluded(8), name: types.Name("a")}
		So(b.contains(3, 7), ShouldBeTrue)
		So(b.contains(2, 7), ShouldBeFalse)
		So(b.contains(3, 8), ShouldBeFalse)
		So(b.matches(5, "a"), ShouldBeTrue)
		So(b.matches(5, "b"), ShouldBeFalse)
		So(b.matches(8, "a"), ShouldBeFalse)
	})
}

func TestCodec(t *testing.T) {
	Convey("Given a codec", t, func() {
		c, err := newCodec(DefaultMinCompressSize, DefaultEntryCompressionLevel, DefaultBundleCompressionLevel)
		So(err, ShouldBeNil)
		Reset(c.close)

		Convey("Small payloads should be stored raw", func() {
			blob, size := c.compress([]byte("short"))
			So(size, ShouldEqual, 0)
			So(string(blob), ShouldEqual, "short")
			blob, size = c.compress(nil)
			So(size, ShouldEqual, 0)
			So(blob, ShouldNotBeNil)
		})
		Convey("Large payloads should be compressed and restored", func() {
			value := make([]byte, 1024)
			for i := range value {
				value[i] = byte(i % 3)
			}
			blob, size := c.compress(value)
			So(size, ShouldEqual, len(value))
			So(len(blob), ShouldBeLessThan, len(value))
			restored, err := c.decompress(blob, size)
			So(err, ShouldBeNil)
			So(restored, ShouldResemble, value)
		})
		Convey("Corrupt payloads should be a data format error", func() {
			_, err := c.decompress([]byte("not zstd at all"), 64)
			So(types.KindOf(err), ShouldEqual, types.KindDataFormat)
			_, err = c.decompress([]byte("x"), -1)
			So(types.KindOf(err), ShouldEqual, types.KindDataFormat)
		})
		Convey("A bundle should keep its item order", func() {
			items := []*bundleItem{
				{Timestamp: 1, Value: []byte("a")},
				{Timestamp: 1, Value: []byte("b")},
				{Timestamp: 4, Value: []byte{}},
			}
			blob, size, err := c.encodeBundle(items)
			So(err, ShouldBeNil)
			decoded, err := c.decodeBundle(blob, size)
			So(err, ShouldBeNil)
			So(decoded, ShouldHaveLength, 3)
			for i := range items {
				So(decoded[i].Timestamp, ShouldEqual, items[i].Timestamp)
				So(string(decoded[i].Value), ShouldEqual, string(items[i].Value))
			}
		})
	})
}
