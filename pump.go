// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"go.uber.org/zap"
)

// HalfCloser is a writable stream which supports closing only the write direction.
//
// *net.TCPConn, *net.UnixConn and FD implement HalfCloser.
type HalfCloser interface {
	io.Writer
	CloseWrite() error
}

// DrainTo writes buffered bytes to w until the buffer is empty or w would block.
//
// DrainTo returns more == false once the end of stream was reached and all bytes
// were written: at that point the write side of w is shut down.
// Otherwise more == true, and the caller should call DrainTo again once more data
// is buffered or w becomes writable.
//
// A failed write is stored in the buffer as a sticky error, and it is returned on
// this and every following call.
func (buf *Buffer) DrainTo(w HalfCloser) (more bool, err error) {
	for {
		buf.Lock()
		p := buf.ReadableRegion()
		eof := buf.eof
		stored := buf.err
		buf.Unlock()

		if stored != nil {
			return false, fmt.Errorf("chunkbuf: drain: %w", stored)
		}

		if len(p) == 0 {
			if !eof {
				return true, nil
			}

			if err = w.CloseWrite(); err != nil {
				return false, fmt.Errorf("chunkbuf: drain: shutdown: %w", err)
			}

			buf.opt.Logger.Debug("stream drained, write side shut down")

			return false, nil
		}

		n, werr := w.Write(p)

		if n > 0 {
			buf.Lock()
			err = buf.AdvanceRead(min(n, len(p)))
			buf.Unlock()

			if err != nil {
				return false, fmt.Errorf("chunkbuf: drain: %w", err)
			}
		}

		if werr != nil {
			if isWouldBlock(werr) {
				return true, nil
			}

			buf.Lock()
			buf.SetErr(werr)
			buf.Unlock()
		}
	}
}

// FillFrom performs a single read from r into the buffer.
//
// FillFrom reports whether any bytes were read. A read which would block is not an error,
// io.EOF marks the end of stream. Any other failure is stored in the buffer as a sticky error
// and returned.
//
// FillFrom does nothing once the end of stream was reached.
func (buf *Buffer) FillFrom(r io.Reader) (progress bool, err error) {
	buf.Lock()
	p := buf.WritableRegion()
	eof := buf.eof
	stored := buf.err
	buf.Unlock()

	if stored != nil {
		return false, fmt.Errorf("chunkbuf: fill: %w", stored)
	}

	if eof {
		return false, nil
	}

	n, rerr := r.Read(p)

	buf.Lock()
	defer buf.Unlock()

	if n > 0 {
		if err = buf.AdvanceWrite(min(n, len(p))); err != nil {
			return false, fmt.Errorf("chunkbuf: fill: %w", err)
		}
	}

	switch {
	case rerr == nil:
	case errors.Is(rerr, io.EOF):
		buf.MarkEOF()
	case isWouldBlock(rerr):
	default:
		buf.SetErr(rerr)

		return n > 0, fmt.Errorf("chunkbuf: fill: %w", rerr)
	}

	if n == 0 && rerr == nil {
		buf.opt.Logger.Debug("fill made no progress")
	}

	return n > 0, nil
}

// DrainLoop drains the buffer into w until the end of stream, waiting for data between attempts.
//
// DrainLoop is meant for a dedicated writer goroutine on a buffer with the shared policy.
// w should be blocking: DrainLoop only waits for data, not for w to become writable,
// so with a non-blocking descriptor it spins while w would block.
func (buf *Buffer) DrainLoop(w HalfCloser) error {
	for {
		more, err := buf.DrainTo(w)
		if err != nil || !more {
			return err
		}

		buf.Lock()
		err = buf.WaitData()
		buf.Unlock()

		if err != nil {
			return err
		}
	}
}

// FillLoop fills the buffer from r until the end of stream.
//
// FillLoop is meant for a dedicated reader goroutine on a buffer with the shared policy.
func (buf *Buffer) FillLoop(r io.Reader) error {
	for {
		if _, err := buf.FillFrom(r); err != nil {
			return err
		}

		buf.Lock()
		eof, produced := buf.eof, buf.produced
		buf.Unlock()

		if eof {
			buf.opt.Logger.Debug("stream filled", zap.Int64("produced", produced))

			return nil
		}
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, os.ErrDeadlineExceeded)
}
