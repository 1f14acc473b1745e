// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package zstd provides streaming zstd compression over chunk buffer streams.
package zstd

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses byte streams using zstd.
//
// Codec is safe for concurrent use, every call creates its own encoder or decoder.
type Codec struct {
	eopts []zstd.EOption
	dopts []zstd.DOption
}

// NewCodec creates new Codec.
func NewCodec(eopts []zstd.EOption, dopts ...zstd.DOption) *Codec {
	return &Codec{
		eopts: eopts,
		dopts: dopts,
	}
}

// Compress reads src until io.EOF and writes a zstd stream to dst.
//
// Compress returns the number of uncompressed bytes read from src.
func (c *Codec) Compress(dst io.Writer, src io.Reader) (int64, error) {
	enc, err := zstd.NewWriter(dst, c.eopts...)
	if err != nil {
		return 0, err
	}

	n, err := enc.ReadFrom(src)
	if err != nil {
		enc.Close() //nolint:errcheck

		return n, err
	}

	return n, enc.Close()
}

// Decompress reads a zstd stream from src and writes uncompressed data to dst.
//
// Decompress returns the number of uncompressed bytes written to dst.
func (c *Codec) Decompress(dst io.Writer, src io.Reader) (int64, error) {
	dec, err := zstd.NewReader(src, c.dopts...)
	if err != nil {
		return 0, err
	}

	defer dec.Close()

	return dec.WriteTo(dst)
}
