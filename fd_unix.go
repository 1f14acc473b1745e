// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package chunkbuf

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// FD is a raw file descriptor which can be used with FillFrom and DrainTo.
//
// FD does not own the descriptor: closing it is up to the caller.
type FD int

// Read implements io.Reader, a zero-byte read is reported as io.EOF.
func (fd FD) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(int(fd), p)

		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// Write implements io.Writer.
func (fd FD) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), p)
		if err == unix.EINTR {
			continue
		}

		return max(n, 0), err
	}
}

// CloseWrite shuts down the write direction of the descriptor.
//
// Descriptors which are not sockets (pipes, files, terminals) can't be half-closed,
// for them CloseWrite does nothing, and the reader sees the end of stream once the
// owner closes the descriptor.
func (fd FD) CloseWrite() error {
	err := unix.Shutdown(int(fd), unix.SHUT_WR)
	if errors.Is(err, unix.ENOTSOCK) {
		return nil
	}

	return err
}
