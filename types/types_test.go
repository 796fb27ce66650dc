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

package types

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCheckBounds(t *testing.T) {
	Convey("Given the range bound validator", t, func() {
		Convey("Open and half-open ranges should pass", func() {
			So(CheckBounds(Unbounded(), Unbounded()), ShouldBeNil)
			So(CheckBounds(Included(0), Unbounded()), ShouldBeNil)
			So(CheckBounds(Unbounded(), Included(0)), ShouldBeNil)
			So(CheckBounds(Unbounded(), Excluded(0)), ShouldBeNil)
			So(CheckBounds(Excluded(math.MaxInt64), Unbounded()), ShouldBeNil)
		})
		Convey("Reversed ranges should be rejected", func() {
			So(CheckBounds(Included(5), Included(4)), ShouldEqual, ErrBadRange)
			So(CheckBounds(Excluded(5), Excluded(4)), ShouldEqual, ErrBadRange)
		})
		Convey("Equal bounds should only pass when both are inclusive", func() {
			So(CheckBounds(Included(5), Included(5)), ShouldBeNil)
			So(CheckBounds(Excluded(5), Included(5)), ShouldEqual, ErrBadRange)
			So(CheckBounds(Included(5), Excluded(5)), ShouldEqual, ErrBadRange)
			So(CheckBounds(Excluded(5), Excluded(5)), ShouldEqual, ErrBadRange)
		})
		Convey("Unrepresentable times should be rejected before ordering is checked", func() {
			So(CheckBounds(Included(-1), Unbounded()), ShouldEqual, ErrTimeTooLarge)
			So(CheckBounds(Included(5), Included(-1)), ShouldEqual, ErrTimeTooLarge)
			var far = time.Unix(math.MaxInt64/1000000+1, 0)
			So(CheckBounds(Unbounded(), IncludedTime(far)), ShouldEqual, ErrTimeTooLarge)
			So(CheckBounds(ExcludedTime(time.Unix(-1, 0)), Unbounded()), ShouldEqual, ErrTimeTooLarge)
		})
	})
}

func TestContains(t *testing.T) {
	Convey("Given some bounds", t, func() {
		So(Contains(Unbounded(), Unbounded(), 0), ShouldBeTrue)
		So(Contains(Included(2), Unbounded(), 2), ShouldBeTrue)
		So(Contains(Excluded(2), Unbounded(), 2), ShouldBeFalse)
		So(Contains(Unbounded(), Included(2), 2), ShouldBeTrue)
		So(Contains(Unbounded(), Excluded(2), 2), ShouldBeFalse)
		So(Contains(Included(2), Included(4), 5), ShouldBeFalse)
		So(Contains(Included(2), Included(4), 1), ShouldBeFalse)
		So(Contains(Included(2), Included(4), 3), ShouldBeTrue)
	})
}

func TestMicros(t *testing.T) {
	Convey("Times should convert to epoch microseconds", t, func() {
		ts, err := Micros(time.Unix(1, 2000))
		So(err, ShouldBeNil)
		So(ts, ShouldEqual, 1000002)
		_, err = Micros(time.Unix(-5, 0))
		So(err, ShouldEqual, ErrTimeTooLarge)
		_, err = Micros(time.Unix(math.MaxInt64/1000000, 999999000))
		So(err, ShouldEqual, ErrTimeTooLarge)
		ts, err = Micros(time.Unix(math.MaxInt64/1000000, 775807000))
		So(err, ShouldBeNil)
		So(ts, ShouldEqual, int64(math.MaxInt64))
	})
}

func TestEntry(t *testing.T) {
	Convey("Given an entry built from a time", t, func() {
		e, err := NewEntryWithTime(time.Unix(10, 0), "n", []byte("v"))
		So(err, ShouldBeNil)
		So(e.Timestamp, ShouldEqual, 10000000)
		So(e.Time().Equal(time.Unix(10, 0)), ShouldBeTrue)
		So(e.String(), ShouldEqual, "n@10000000(1 bytes)")
		So(CheckEntry(e), ShouldBeNil)

		Convey("Equality should be structural", func() {
			So(e.Equal(&Entry{Timestamp: 10000000, Name: "n", Value: []byte("v")}), ShouldBeTrue)
			So(e.Equal(&Entry{Timestamp: 10000000, Name: "m", Value: []byte("v")}), ShouldBeFalse)
			So(e.Equal(nil), ShouldBeFalse)
		})
		Convey("Invalid entries should be rejected", func() {
			So(CheckEntry(nil), ShouldEqual, ErrNilEntry)
			So(CheckEntry(&Entry{Timestamp: -1}), ShouldEqual, ErrTimeTooLarge)
			_, err = NewEntryWithTime(time.Unix(-1, 0), "n", nil)
			So(err, ShouldEqual, ErrTimeTooLarge)
		})
		Convey("Timestamps beyond the nanosecond range should convert back exactly", func() {
			for _, tm := range []time.Time{
				time.Date(2263, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(40000, 6, 1, 12, 30, 0, 123456000, time.UTC),
				time.UnixMicro(math.MaxInt64),
			} {
				far, err := NewEntryWithTime(tm, "n", nil)
				So(err, ShouldBeNil)
				So(far.Time().Equal(tm), ShouldBeTrue)
			}
		})
		Convey("Fresh entries should be stamped with the current time", func() {
			So(time.Since(NewEntry("n", nil).Time()), ShouldBeLessThan, time.Minute)
		})
	})
}

func TestKindOf(t *testing.T) {
	Convey("Errors should be classified through wrappers", t, func() {
		So(KindOf(nil), ShouldEqual, KindNone)
		So(KindOf(ErrBadRange), ShouldEqual, KindBadRange)
		So(KindOf(errors.Wrap(ErrTimeTooLarge, "bound")), ShouldEqual, KindTimeTooLarge)
		So(KindOf(errors.Wrap(ErrDataFormat, "blob")), ShouldEqual, KindDataFormat)
		So(KindOf(ErrRangeConsumed), ShouldEqual, KindUsage)
		So(KindOf(errors.Wrap(NewDatabaseError(errors.New("locked")), "push")), ShouldEqual, KindDatabase)
		So(KindOf(NewIoError(errors.New("eof"))), ShouldEqual, KindIo)
		So(KindOf(errors.New("other")), ShouldEqual, KindUnknown)
		So(NewDatabaseError(nil), ShouldBeNil)
		So(NewIoError(nil), ShouldBeNil)
		So(KindDatabase.String(), ShouldEqual, "Database")
	})
}

func TestSliceIterator(t *testing.T) {
	Convey("Given a slice iterator", t, func() {
		it := NewSliceIterator([]*Entry{{Timestamp: 1}, {Timestamp: 2}})
		So(it.Entry(), ShouldBeNil)
		entries, err := Collect(it)
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 2)
		So(entries[1].Timestamp, ShouldEqual, 2)
		So(it.Next(), ShouldBeFalse)
	})
}
