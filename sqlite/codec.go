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
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/binlog/types"
	"github.com/CovenantSQL/binlog/utils"
)

// bundleItem is one entry inside a compacted block. The name is stored once on the block.
type bundleItem struct {
	_struct   bool `codec:",toarray"` //nolint
	Timestamp int64
	Value     []byte
}

// codec compresses single payloads and compacted bundles. Payloads shorter than minSize are
// stored raw and recorded with a zero size.
type codec struct {
	minSize int
	entry   *zstd.Encoder
	bundle  *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(minSize, entryLevel, bundleLevel int) (c *codec, err error) {
	c = &codec{minSize: minSize}
	if c.entry, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(entryLevel))); err != nil {
		err = errors.Wrap(err, "create entry encoder failed")
		return
	}
	if c.bundle, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(bundleLevel))); err != nil {
		err = errors.Wrap(err, "create bundle encoder failed")
		return
	}
	if c.decoder, err = zstd.NewReader(nil); err != nil {
		err = errors.Wrap(err, "create decoder failed")
		return
	}
	return
}

func (c *codec) close() {
	c.entry.Close()
	c.bundle.Close()
	c.decoder.Close()
}

// compress returns the stored form of value along with the size column.
func (c *codec) compress(value []byte) (blob []byte, size int64) {
	if len(value) < c.minSize {
		if value == nil {
			// NOT NULL column
			value = []byte{}
		}
		return value, 0
	}
	return c.entry.EncodeAll(value, make([]byte, 0, len(value)/2)), int64(len(value))
}

func (c *codec) decompress(blob []byte, size int64) (value []byte, err error) {
	if size == 0 {
		return blob, nil
	}
	if size < 0 {
		return nil, errors.Wrapf(types.ErrDataFormat, "negative size %d", size)
	}
	if value, err = c.decoder.DecodeAll(blob, make([]byte, 0, size)); err != nil {
		return nil, errors.Wrapf(types.ErrDataFormat, "decompress: %v", err)
	}
	if int64(len(value)) != size {
		return nil, errors.Wrapf(types.ErrDataFormat, "size mismatch: want %d, got %d", size, len(value))
	}
	return
}

// encodeBundle serializes and compresses the items of a block.
func (c *codec) encodeBundle(items []*bundleItem) (blob []byte, size int64, err error) {
	buf, err := utils.EncodeMsgPack(items)
	if err != nil {
		err = errors.Wrap(err, "encode bundle failed")
		return
	}
	raw := buf.Bytes()
	return c.bundle.EncodeAll(raw, make([]byte, 0, len(raw)/4)), int64(len(raw)), nil
}

func (c *codec) decodeBundle(blob []byte, size int64) (items []*bundleItem, err error) {
	raw, err := c.decompress(blob, size)
	if err != nil {
		return
	}
	if err = utils.DecodeMsgPack(raw, &items); err != nil {
		err = errors.Wrapf(types.ErrDataFormat, "decode bundle: %v", err)
	}
	return
}
