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

package utils

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type msgpackTuple struct {
	_struct bool `codec:",toarray"`

	Timestamp int64
	Value     []byte
}

func TestMsgPack_EncodeDecode(t *testing.T) {
	Convey("Primitive values should survive a round trip", t, func() {
		buf, err := EncodeMsgPack(uint64(1))
		So(err, ShouldBeNil)
		var value uint64
		So(DecodeMsgPack(buf.Bytes(), &value), ShouldBeNil)
		So(value, ShouldEqual, 1)
	})
	Convey("Tuple slices should keep order and raw bytes", t, func() {
		in := []msgpackTuple{
			{Timestamp: 1, Value: []byte{0, 1, 2}},
			{Timestamp: 1, Value: []byte{}},
			{Timestamp: 7, Value: []byte("seven")},
		}
		buf, err := EncodeMsgPack(in)
		So(err, ShouldBeNil)
		var out []msgpackTuple
		So(DecodeMsgPack(buf.Bytes(), &out), ShouldBeNil)
		So(out, ShouldHaveLength, 3)
		So(out[0].Value, ShouldResemble, []byte{0, 1, 2})
		So(out[2].Timestamp, ShouldEqual, 7)
		So(string(out[2].Value), ShouldEqual, "seven")
	})
	Convey("Garbage input should fail to decode", t, func() {
		var out []msgpackTuple
		So(DecodeMsgPack([]byte{0xc1}, &out), ShouldNotBeNil)
	})
}
