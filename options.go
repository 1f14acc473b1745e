// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

import (
	"fmt"

	"go.uber.org/zap"
)

// Options defines settings for Buffer.
type Options struct {
	Policy Policy

	Logger *zap.Logger

	// ChunkSize is the capacity of each chunk in the chain.
	ChunkSize int
	// PutbackSize is the number of leading bytes of each chunk reserved
	// for the tail of the previous chunk, which limits how far back a reader
	// can rewind across a chunk boundary.
	PutbackSize int
	// SpareChunks is the number of evicted chunks kept around for reuse.
	SpareChunks int
}

// defaultOptions returns default initial values.
func defaultOptions() Options {
	return Options{
		ChunkSize:   65536,
		PutbackSize: 8,
		SpareChunks: 1,
		Logger:      zap.NewNop(),
	}
}

// OptionFunc allows setting Buffer options.
type OptionFunc func(*Options) error

// WithChunkSize sets the capacity of a single chunk.
func WithChunkSize(size int) OptionFunc {
	return func(opt *Options) error {
		if size <= 0 {
			return fmt.Errorf("chunk size should be positive: %d", size)
		}

		opt.ChunkSize = size

		return nil
	}
}

// WithPutbackSize sets the size of the putback window.
//
// The putback window is copied forward on every chunk boundary, so that up to
// PutbackSize bytes can be unread even right after the reader crossed into a new chunk.
func WithPutbackSize(size int) OptionFunc {
	return func(opt *Options) error {
		if size < 0 {
			return fmt.Errorf("putback size should be non-negative: %d", size)
		}

		opt.PutbackSize = size

		return nil
	}
}

// WithSpareChunks sets the number of evicted chunks kept for reuse.
func WithSpareChunks(num int) OptionFunc {
	return func(opt *Options) error {
		if num < 0 {
			return fmt.Errorf("number of spare chunks should be non-negative: %d", num)
		}

		opt.SpareChunks = num

		return nil
	}
}

// WithPolicy attaches the concurrency policy to the Buffer.
//
// A policy instance must not be shared between buffers.
func WithPolicy(p Policy) OptionFunc {
	return func(opt *Options) error {
		if p == nil {
			return fmt.Errorf("policy should be set")
		}

		opt.Policy = p

		return nil
	}
}

// WithLogger sets logger for Buffer.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}
