// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

import (
	"fmt"
	"io"
)

var (
	_ io.Reader       = (*Stream)(nil)
	_ io.ByteScanner  = (*Stream)(nil)
	_ io.WriterTo     = (*Stream)(nil)
	_ io.Writer       = (*Stream)(nil)
	_ io.ByteWriter   = (*Stream)(nil)
	_ io.StringWriter = (*Stream)(nil)
	_ io.ReaderFrom   = (*Stream)(nil)
)

// Stream exposes a Buffer through the standard io interfaces.
//
// Stream caches the buffer regions, so that byte-sized reads and writes do not
// lock the buffer: bytes read are committed to the buffer when the cached region
// is exhausted, and bytes written become visible to the reader on Flush or when the
// cached region fills up.
//
// Stream is not safe for concurrent use. The reading and the writing side of a Stream
// can be used by different goroutines only if the Buffer is not shared with another producer
// or consumer.
type Stream struct {
	buf *Buffer
	tie *Stream

	// get area: the reader consumed rarea[:rn], not yet committed to the buffer
	rarea []byte
	rn    int

	// put area: the writer staged warea[:wn], not yet committed to the buffer
	warea []byte
	wn    int
}

// NewStream creates a Stream over the Buffer.
func NewStream(buf *Buffer) *Stream {
	return &Stream{buf: buf}
}

// Tie makes the stream flush out before every refill of the read area.
//
// It is useful for interactive protocols, where the peer waits for the output
// before sending more input.
func (s *Stream) Tie(out *Stream) {
	s.tie = out
}

// Read implements io.Reader.
//
// Read blocks (as defined by the buffer policy) only if there are no bytes to read.
// At the end of stream Read returns io.EOF, unless the stream has failed, in which case
// the stored error is returned.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if s.rn == len(s.rarea) {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.rarea[s.rn:])
	s.rn += n

	return n, nil
}

// ReadByte implements io.ByteReader.
func (s *Stream) ReadByte() (byte, error) {
	if s.rn == len(s.rarea) {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}

	c := s.rarea[s.rn]
	s.rn++

	return c, nil
}

// UnreadByte implements io.ByteScanner.
//
// Unlike bufio.Reader, UnreadByte can be called repeatedly, stepping back
// over every byte still held by the oldest chunk, and over the putback window.
func (s *Stream) UnreadByte() error {
	if s.rn > 0 {
		s.rn--

		return nil
	}

	s.buf.Lock()
	defer s.buf.Unlock()

	// nothing is pending, so the buffer read cursor is at the start of the get area
	if err := s.buf.RewindRead(1); err != nil {
		return err
	}

	s.rarea, s.rn = s.buf.ReadableRegion(), 0

	return nil
}

// WriteTo implements io.WriterTo.
//
// WriteTo writes directly from the buffer chunks until the end of stream.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for {
		if s.rn == len(s.rarea) {
			if err := s.refill(); err != nil {
				if err == io.EOF {
					return total, nil
				}

				return total, err
			}
		}

		n, err := w.Write(s.rarea[s.rn:])
		s.rn += n
		total += int64(n)

		if err != nil {
			return total, err
		}
	}
}

// refill commits the consumed bytes and waits for a fresh get area.
func (s *Stream) refill() error {
	if s.tie != nil {
		if err := s.tie.Flush(); err != nil {
			return err
		}
	}

	s.buf.Lock()
	defer s.buf.Unlock()

	if s.rn > 0 {
		n := s.rn
		s.rarea, s.rn = nil, 0

		if err := s.buf.AdvanceRead(n); err != nil {
			return err
		}
	}

	if err := s.buf.WaitData(); err != nil {
		return err
	}

	s.rarea, s.rn = s.buf.ReadableRegion(), 0

	if len(s.rarea) == 0 {
		if err := s.buf.Err(); err != nil {
			return fmt.Errorf("chunkbuf: read: %w", err)
		}

		return io.EOF
	}

	return nil
}

// Write implements io.Writer.
//
// Written bytes are not visible to the reader until Flush is called, or the put area fills up.
func (s *Stream) Write(p []byte) (int, error) {
	var n int

	for len(p) > 0 {
		if s.wn == len(s.warea) {
			if err := s.grow(); err != nil {
				return n, err
			}
		}

		nn := copy(s.warea[s.wn:], p)
		s.wn += nn
		n += nn
		p = p[nn:]
	}

	return n, nil
}

// WriteString implements io.StringWriter.
func (s *Stream) WriteString(str string) (int, error) {
	var n int

	for len(str) > 0 {
		if s.wn == len(s.warea) {
			if err := s.grow(); err != nil {
				return n, err
			}
		}

		nn := copy(s.warea[s.wn:], str)
		s.wn += nn
		n += nn
		str = str[nn:]
	}

	return n, nil
}

// WriteByte implements io.ByteWriter.
func (s *Stream) WriteByte(c byte) error {
	if s.wn == len(s.warea) {
		if err := s.grow(); err != nil {
			return err
		}
	}

	s.warea[s.wn] = c
	s.wn++

	return nil
}

// ReadFrom implements io.ReaderFrom.
//
// ReadFrom reads directly into the buffer chunks until r returns io.EOF,
// and flushes the stream before returning.
func (s *Stream) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	for {
		if s.wn == len(s.warea) {
			if err := s.grow(); err != nil {
				return total, err
			}
		}

		n, err := r.Read(s.warea[s.wn:])
		s.wn += n
		total += int64(n)

		if err == io.EOF {
			return total, s.Flush()
		}

		if err != nil {
			return total, err
		}
	}
}

// Flush commits written bytes to the buffer, making them visible to the reader.
//
// Flush fails if the stream has failed.
func (s *Stream) Flush() error {
	s.buf.Lock()
	defer s.buf.Unlock()

	return s.flushLocked()
}

// CloseWrite flushes the stream and marks the end of stream.
func (s *Stream) CloseWrite() error {
	s.buf.Lock()
	defer s.buf.Unlock()

	err := s.flushLocked()
	s.warea, s.wn = nil, 0

	if !s.buf.EOF() {
		s.buf.MarkEOF()
	}

	return err
}

// grow flushes the put area and exposes a fresh one.
func (s *Stream) grow() error {
	s.buf.Lock()
	defer s.buf.Unlock()

	if err := s.flushLocked(); err != nil {
		return err
	}

	if s.buf.EOF() {
		return ErrWriteAfterEOF
	}

	s.warea, s.wn = s.buf.WritableRegion(), 0

	return nil
}

func (s *Stream) flushLocked() error {
	if s.wn > 0 {
		n := s.wn
		s.warea, s.wn = nil, 0

		if err := s.buf.AdvanceWrite(n); err != nil {
			return fmt.Errorf("chunkbuf: flush: %w", err)
		}
	}

	if err := s.buf.Err(); err != nil {
		return fmt.Errorf("chunkbuf: flush: %w", err)
	}

	return nil
}
