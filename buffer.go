// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chunkbuf provides an unbounded chunked byte buffer which decouples
// a producer and a consumer running at different rates.
package chunkbuf

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Buffer is an unbounded FIFO byte buffer built from a chain of fixed-size chunks.
//
// Buffer itself performs no synchronization: the region and cursor methods
// must be called with the buffer locked (see Lock), and the attached Policy
// decides what locking, waiting and notification mean.
type Buffer struct {
	policy Policy

	// sticky error, once set also forces eof
	err error

	arena *chunkArena

	// chunk chain, ordered from the oldest to the newest, never empty
	chunks []*chunk

	// buffer options
	opt Options

	// read cursor within chunks[0]
	rpos int
	// write cursor within chunks[len(chunks)-1]
	wpos int

	// absolute stream offset of the read cursor, bounds rewinds
	roff int64

	consumed int64
	produced int64

	eof bool
}

// Stats describes cumulative buffer counters.
type Stats struct {
	// Consumed is the number of bytes the read cursor was advanced by.
	Consumed int64
	// Produced is the number of bytes the write cursor was advanced by.
	Produced int64
	// Chunks is the current length of the chunk chain.
	Chunks int
}

// NewBuffer creates new Buffer with specified options.
func NewBuffer(opts ...OptionFunc) (*Buffer, error) {
	buf := &Buffer{
		opt: defaultOptions(),
	}

	for _, o := range opts {
		if err := o(&buf.opt); err != nil {
			return nil, err
		}
	}

	if buf.opt.PutbackSize >= buf.opt.ChunkSize {
		return nil, fmt.Errorf("putback size (%d) should be less than chunk size (%d)", buf.opt.PutbackSize, buf.opt.ChunkSize)
	}

	if buf.opt.Policy == nil {
		buf.opt.Policy = Unsynchronized()
	}

	buf.policy = buf.opt.Policy
	buf.arena = newChunkArena(buf.opt.ChunkSize, buf.opt.SpareChunks)
	buf.chunks = []*chunk{buf.arena.get()}
	buf.rpos = buf.opt.PutbackSize
	buf.wpos = buf.opt.PutbackSize

	return buf, nil
}

// Lock acquires the lock of the attached policy.
func (buf *Buffer) Lock() {
	buf.policy.Lock()
}

// Unlock releases the lock of the attached policy.
func (buf *Buffer) Unlock() {
	buf.policy.Unlock()
}

// ReadableRegion returns the contiguous unread bytes of the oldest chunk.
//
// The region never spans a chunk boundary, so it might be shorter than Size.
// The returned slice is only valid until the read cursor is advanced.
func (buf *Buffer) ReadableRegion() []byte {
	end := buf.readEnd()

	return buf.chunks[0].data[buf.rpos:end:end]
}

// AdvanceRead consumes n bytes from the readable region.
//
// When the read cursor reaches the end of the oldest chunk, the chunk is evicted
// and the cursor moves past the putback window of the next one.
func (buf *Buffer) AdvanceRead(n int) error {
	if avail := buf.readEnd() - buf.rpos; n < 0 || n > avail {
		return fmt.Errorf("%w: read %d, %d available", ErrOutOfRange, n, avail)
	}

	buf.rpos += n
	buf.roff += int64(n)
	buf.consumed += int64(n)

	if buf.rpos == buf.opt.ChunkSize {
		// readEnd is ChunkSize only for a chain of two or more chunks
		evicted := buf.chunks[0]

		buf.chunks = slices.Delete(buf.chunks, 0, 1)
		buf.rpos = buf.opt.PutbackSize
		buf.arena.put(evicted)

		buf.opt.Logger.Debug("evicted chunk", zap.Int64("seq", evicted.seq), zap.Int("chunks", len(buf.chunks)))
	}

	return nil
}

// RewindRead moves the read cursor n bytes back.
//
// The bytes must still be present in the oldest chunk: the cursor can always
// go back over the bytes consumed from the current chunk and over its putback window,
// but never before the start of the stream.
func (buf *Buffer) RewindRead(n int) error {
	if n < 0 || n > buf.rpos || int64(n) > buf.roff {
		return fmt.Errorf("%w: rewind %d", ErrPutbackExhausted, n)
	}

	buf.rpos -= n
	buf.roff -= int64(n)

	return nil
}

// WritableRegion returns the contiguous free space of the newest chunk.
//
// The region is never empty.
func (buf *Buffer) WritableRegion() []byte {
	return buf.chunks[len(buf.chunks)-1].data[buf.wpos:]
}

// AdvanceWrite makes n bytes written to the writable region available to the reader.
//
// When the newest chunk fills up, a new chunk is appended, and the tail of the
// full chunk is copied into the putback window of the new one.
// Advancing after the end of stream was marked fails with ErrWriteAfterEOF,
// or with the stored error if the stream has failed.
func (buf *Buffer) AdvanceWrite(n int) error {
	if buf.err != nil {
		return buf.err
	}

	if buf.eof {
		return ErrWriteAfterEOF
	}

	if avail := buf.opt.ChunkSize - buf.wpos; n < 0 || n > avail {
		return fmt.Errorf("%w: write %d, %d available", ErrOutOfRange, n, avail)
	}

	if n == 0 {
		return nil
	}

	wasEmpty := buf.Empty()

	buf.wpos += n
	buf.produced += int64(n)

	if buf.wpos == buf.opt.ChunkSize {
		last := buf.chunks[len(buf.chunks)-1]
		next := buf.arena.get()

		copy(next.data[:buf.opt.PutbackSize], last.data[buf.opt.ChunkSize-buf.opt.PutbackSize:])

		buf.chunks = append(buf.chunks, next)
		buf.wpos = buf.opt.PutbackSize

		buf.opt.Logger.Debug("appended chunk", zap.Int64("seq", next.seq), zap.Int("chunks", len(buf.chunks)))
	}

	if wasEmpty {
		buf.policy.BecameNonEmpty(buf)
	}

	return nil
}

// MarkEOF marks the end of stream: no more bytes will be written.
//
// Bytes already in the buffer can still be read.
func (buf *Buffer) MarkEOF() {
	buf.eof = true

	if buf.Empty() {
		// wake up the consumer so that it observes the end of stream
		buf.policy.BecameNonEmpty(buf)
	}
}

// SetErr stores a sticky error, which also marks the end of stream.
//
// Only the first error is kept.
func (buf *Buffer) SetErr(err error) {
	if err == nil || buf.err != nil {
		return
	}

	buf.err = err
	buf.eof = true

	buf.opt.Logger.Warn("stream failed", zap.Error(err))

	if buf.Empty() {
		buf.policy.BecameNonEmpty(buf)
	}
}

// Err returns the stored error, if any.
func (buf *Buffer) Err() error {
	return buf.err
}

// EOF reports whether the end of stream was marked, or an error was stored.
func (buf *Buffer) EOF() bool {
	return buf.eof
}

// Empty reports whether there are no unread bytes in the buffer.
func (buf *Buffer) Empty() bool {
	return len(buf.chunks) == 1 && buf.rpos == buf.wpos
}

// Size returns the number of unread bytes in the buffer.
func (buf *Buffer) Size() int64 {
	if len(buf.chunks) == 1 {
		return int64(buf.wpos - buf.rpos)
	}

	// every chunk but the oldest one starts with the putback window
	perChunk := int64(buf.opt.ChunkSize - buf.opt.PutbackSize)

	return int64(buf.opt.ChunkSize-buf.rpos) + perChunk*int64(len(buf.chunks)-2) + int64(buf.wpos-buf.opt.PutbackSize)
}

// Stats returns buffer counters.
func (buf *Buffer) Stats() Stats {
	return Stats{
		Consumed: buf.consumed,
		Produced: buf.produced,
		Chunks:   len(buf.chunks),
	}
}

// WaitData blocks (as defined by the policy) until the buffer has readable bytes
// or reaches the end of stream.
//
// WaitData should be called with the buffer locked.
func (buf *Buffer) WaitData() error {
	for buf.starved() {
		if err := buf.policy.WaitData(buf); err != nil {
			return err
		}
	}

	return nil
}

// starved reports whether the reader has nothing to read yet, but more data might arrive.
func (buf *Buffer) starved() bool {
	return buf.readEnd() == buf.rpos && !buf.eof
}

func (buf *Buffer) readEnd() int {
	if len(buf.chunks) > 1 {
		return buf.opt.ChunkSize
	}

	return buf.wpos
}
