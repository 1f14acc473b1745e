// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf

type chunk struct {
	// raw bytes, always exactly the configured chunk size
	data []byte
	// sequence number of the chunk, as it was appended to the chain
	seq int64
}

// chunkArena allocates fixed-size chunks and keeps a bounded free list
// of evicted chunks for reuse.
//
// chunkArena is not safe for concurrent use, it is always accessed under the buffer lock.
type chunkArena struct {
	free    []*chunk
	size    int
	maxFree int
	nextSeq int64
}

func newChunkArena(size, maxFree int) *chunkArena {
	return &chunkArena{
		size:    size,
		maxFree: maxFree,
	}
}

// get returns a chunk which is either recycled or freshly allocated.
func (a *chunkArena) get() *chunk {
	var c *chunk

	if l := len(a.free); l > 0 {
		c = a.free[l-1]
		a.free[l-1] = nil
		a.free = a.free[:l-1]
	} else {
		c = &chunk{data: make([]byte, a.size)}
	}

	c.seq = a.nextSeq
	a.nextSeq++

	return c
}

// put returns an evicted chunk to the arena.
//
// The chunk must not be referenced by the chain anymore.
func (a *chunkArena) put(c *chunk) {
	if len(a.free) >= a.maxFree {
		return
	}

	a.free = append(a.free, c)
}
