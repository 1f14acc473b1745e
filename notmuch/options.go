// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package notmuch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/siderolabs/go-chunkbuf"
)

// Options defines settings for Runner.
type Options struct {
	Logger *zap.Logger

	// Binary is the notmuch executable, looked up in PATH if it has no path separators.
	Binary string

	// BufferOptions are applied to the buffer which collects the output of notmuch.
	BufferOptions []chunkbuf.OptionFunc
}

func defaultOptions() Options {
	return Options{
		Binary: "notmuch",
		Logger: zap.NewNop(),
	}
}

// OptionFunc allows setting Runner options.
type OptionFunc func(*Options) error

// WithBinary sets the notmuch executable.
func WithBinary(binary string) OptionFunc {
	return func(opt *Options) error {
		if binary == "" {
			return fmt.Errorf("binary should be set")
		}

		opt.Binary = binary

		return nil
	}
}

// WithBufferOptions sets options of the output buffer.
func WithBufferOptions(opts ...chunkbuf.OptionFunc) OptionFunc {
	return func(opt *Options) error {
		opt.BufferOptions = append(opt.BufferOptions, opts...)

		return nil
	}
}

// WithLogger sets logger for Runner.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}
