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

// Package utils holds small helpers shared by the binlog packages.
package utils

import (
	"bytes"
	"sync"

	"github.com/ugorji/go/codec"
)

var (
	msgpackHandle = &codec.MsgpackHandle{
		WriteExt: true,
	}
	encoderPool = sync.Pool{
		New: func() interface{} {
			var out []byte
			return codec.NewEncoderBytes(&out, msgpackHandle)
		},
	}
)

// EncodeMsgPack writes an encoded object to a new bytes buffer.
func EncodeMsgPack(in interface{}) (*bytes.Buffer, error) {
	var (
		out []byte
		enc = encoderPool.Get().(*codec.Encoder)
	)
	defer encoderPool.Put(enc)
	enc.ResetBytes(&out)
	if err := enc.Encode(in); err != nil {
		return nil, err
	}
	return bytes.NewBuffer(out), nil
}

// DecodeMsgPack reverses the encode operation on a byte slice input.
func DecodeMsgPack(buf []byte, out interface{}) error {
	return codec.NewDecoderBytes(buf, msgpackHandle).Decode(out)
}
