// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

// Policy defines how a Buffer is synchronized and how the reader and the writer meet.
//
// BecameNonEmpty and WaitData are always called with the policy lock held.
type Policy interface {
	Lock()
	Unlock()

	// BecameNonEmpty is called when the buffer goes from empty to having readable bytes,
	// or when the end of stream is reached on an empty buffer.
	BecameNonEmpty(buf *Buffer)

	// WaitData is called by the reader when the buffer has no readable bytes and
	// is not at the end of stream.
	//
	// WaitData might return before data arrives, the caller re-checks the buffer.
	WaitData(buf *Buffer) error
}

type unsynchronized struct{}

// Unsynchronized returns a policy for a buffer owned by a single goroutine.
//
// The buffer can only be driven synchronously: reading an empty buffer fails with ErrWouldBlock.
func Unsynchronized() Policy {
	return unsynchronized{}
}

func (unsynchronized) Lock()                  {}
func (unsynchronized) Unlock()                {}
func (unsynchronized) BecameNonEmpty(*Buffer) {}
func (unsynchronized) WaitData(*Buffer) error { return ErrWouldBlock }

// shared guards the buffer with a mutex, and wakes up the reader on new data.
type shared struct {
	cond sync.Cond
	mu   sync.Mutex
}

// NewShared returns a policy for a buffer shared between a producer goroutine
// and a consumer goroutine.
//
// A reader of an empty buffer blocks until the writer produces data or marks the end of stream.
// There is no way to cancel a blocked reader other than by writing or marking the end of stream.
func NewShared() Policy {
	s := &shared{}
	s.cond.L = &s.mu

	return s
}

func (s *shared) Lock()   { s.mu.Lock() }
func (s *shared) Unlock() { s.mu.Unlock() }

func (s *shared) BecameNonEmpty(*Buffer) {
	s.cond.Broadcast()
}

func (s *shared) WaitData(buf *Buffer) error {
	for buf.starved() {
		s.cond.Wait()
	}

	return nil
}

type inputFD struct {
	r io.Reader
}

// InputFD returns a policy which pulls data from r whenever the reader runs out of data.
//
// Every wait performs a single FillFrom attempt.
// r should be blocking: with a non-blocking descriptor the reader spins until data arrives.
func InputFD(r io.Reader) Policy {
	return &inputFD{r: r}
}

func (*inputFD) Lock()                  {}
func (*inputFD) Unlock()                {}
func (*inputFD) BecameNonEmpty(*Buffer) {}

func (p *inputFD) WaitData(buf *Buffer) error {
	_, err := buf.FillFrom(p.r)

	return err
}

type outputFD struct {
	w HalfCloser
}

// OutputFD returns a policy which pushes data to w whenever the buffer becomes non-empty.
//
// Every notification performs a single DrainTo attempt; if w would block, the remaining data
// stays in the buffer until DrainTo is called again.
func OutputFD(w HalfCloser) Policy {
	return &outputFD{w: w}
}

func (*outputFD) Lock()                  {}
func (*outputFD) Unlock()                {}
func (*outputFD) WaitData(*Buffer) error { return ErrWouldBlock }

func (p *outputFD) BecameNonEmpty(buf *Buffer) {
	// failures are kept in the buffer as a sticky error
	if _, err := buf.DrainTo(p.w); err != nil {
		buf.opt.Logger.Debug("drain on write failed", zap.Error(err))
	}
}
