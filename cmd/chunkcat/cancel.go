// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package main

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-chunkbuf"
)

// cancelReader reads from a blocking descriptor, and gives up with the context error
// once the context is canceled.
//
// A read(2) blocked on a descriptor can't be interrupted, so Read polls the descriptor
// together with a wake-up pipe which is closed on cancellation.
type cancelReader struct {
	ctx context.Context //nolint:containedctx

	stop func() bool

	fd chunkbuf.FD

	wakeR, wakeW int
}

func newCancelReader(ctx context.Context, fd chunkbuf.FD) (*cancelReader, error) {
	fds := make([]int, 2)

	if err := unix.Pipe(fds); err != nil {
		return nil, err
	}

	r := &cancelReader{
		ctx:   ctx,
		fd:    fd,
		wakeR: fds[0],
		wakeW: fds[1],
	}

	r.stop = context.AfterFunc(ctx, func() {
		unix.Close(r.wakeW) //nolint:errcheck
	})

	return r, nil
}

// Read implements io.Reader.
func (r *cancelReader) Read(p []byte) (int, error) {
	fds := []unix.PollFd{
		{Fd: int32(r.fd), Events: unix.POLLIN},
		{Fd: int32(r.wakeR), Events: unix.POLLIN},
	}

	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}

		_, err := unix.Poll(fds, -1)

		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, err
		case fds[1].Revents != 0:
			return 0, context.Cause(r.ctx)
		case fds[0].Revents != 0:
			return r.fd.Read(p)
		}
	}
}

// Close releases the wake-up pipe; the descriptor itself is left open.
func (r *cancelReader) Close() error {
	if r.stop() {
		unix.Close(r.wakeW) //nolint:errcheck
	}

	return unix.Close(r.wakeR)
}
