// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

import "errors"

// ErrWriteAfterEOF is returned when the write cursor is advanced after the end of stream was marked.
var ErrWriteAfterEOF = errors.New("write after end of stream")

// ErrOutOfRange is returned when a cursor is advanced beyond the available region.
var ErrOutOfRange = errors.New("advance out of range")

// ErrPutbackExhausted is returned when the reader rewinds beyond the putback window.
var ErrPutbackExhausted = errors.New("putback window exhausted")

// ErrWouldBlock is returned by policies which cannot wait for more data to arrive.
var ErrWouldBlock = errors.New("no data available and the policy cannot wait for it")
