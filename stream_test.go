// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chunkbuf_test

import (
	"bufio"
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/siderolabs/go-chunkbuf"
)

func TestStreamLines(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer(chunkbuf.WithChunkSize(16), chunkbuf.WithPutbackSize(4))
	req.NoError(err)

	s := chunkbuf.NewStream(buf)

	for i := range 100 {
		_, err = fmt.Fprintf(s, "line %d\n", i)
		req.NoError(err)
	}

	req.NoError(s.CloseWrite())

	scanner := bufio.NewScanner(s)

	var i int

	for scanner.Scan() {
		req.Equal(fmt.Sprintf("line %d", i), scanner.Text())

		i++
	}

	req.NoError(scanner.Err())
	req.Equal(100, i)
}

func TestStreamUnreadByte(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer(chunkbuf.WithChunkSize(16), chunkbuf.WithPutbackSize(4))
	req.NoError(err)

	s := chunkbuf.NewStream(buf)

	// nothing was read yet
	req.ErrorIs(s.UnreadByte(), chunkbuf.ErrPutbackExhausted)

	_, err = s.WriteString("ABCDEFGHIJKLMNOPQRST")
	req.NoError(err)
	req.NoError(s.CloseWrite())

	for _, expected := range []byte("ABCDEFGHIJKLM") {
		c, err := s.ReadByte()
		req.NoError(err)
		req.Equal(expected, c)
	}

	// step back from the second chunk into its putback window
	for _, expected := range []byte("MLKJI") {
		req.NoError(s.UnreadByte())

		c, err := s.ReadByte()
		req.NoError(err)
		req.Equal(expected, c)

		req.NoError(s.UnreadByte())
	}

	req.ErrorIs(s.UnreadByte(), chunkbuf.ErrPutbackExhausted)

	rest, err := io.ReadAll(s)
	req.NoError(err)
	req.Equal("IJKLMNOPQRST", string(rest))
}

func TestStreamCopy(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer(chunkbuf.WithChunkSize(1000), chunkbuf.WithPutbackSize(10))
	req.NoError(err)

	data, err := io.ReadAll(io.LimitReader(cryptorand.Reader, 100_000))
	req.NoError(err)

	s := chunkbuf.NewStream(buf)

	// ReadFrom flushes at the end
	n, err := s.ReadFrom(bytes.NewReader(data))
	req.NoError(err)
	req.EqualValues(len(data), n)
	req.EqualValues(len(data), buf.Size())

	req.NoError(s.CloseWrite())

	var out bytes.Buffer

	n, err = s.WriteTo(&out)
	req.NoError(err)
	req.EqualValues(len(data), n)
	req.Equal(data, out.Bytes())

	// the drained stream stays at the end
	n, err = s.WriteTo(&out)
	req.NoError(err)
	req.Zero(n)
	req.True(buf.Empty())
	req.EqualValues(len(data), buf.Stats().Consumed)
}

func TestStreamFlush(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer()
	req.NoError(err)

	s := chunkbuf.NewStream(buf)

	req.NoError(s.WriteByte('x'))
	_, err = s.Write([]byte("yz"))
	req.NoError(err)

	// staged in the put area
	req.True(buf.Empty())

	req.NoError(s.Flush())
	req.EqualValues(3, buf.Size())

	p := make([]byte, 10)

	n, err := s.Read(p)
	req.NoError(err)
	req.Equal("xyz", string(p[:n]))

	// unsynchronized buffer can't wait for more data
	_, err = s.Read(p)
	req.ErrorIs(err, chunkbuf.ErrWouldBlock)

	req.NoError(s.CloseWrite())
	req.NoError(s.CloseWrite())

	_, err = s.Read(p)
	req.Equal(io.EOF, err)

	req.ErrorIs(s.WriteByte('a'), chunkbuf.ErrWriteAfterEOF)
}

func TestStreamFailed(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer()
	req.NoError(err)

	s := chunkbuf.NewStream(buf)

	_, err = s.WriteString("partial")
	req.NoError(err)
	req.NoError(s.Flush())

	errBroken := errors.New("broken")

	buf.SetErr(errBroken)

	// buffered bytes are still delivered
	p := make([]byte, 100)

	n, err := s.Read(p)
	req.NoError(err)
	req.Equal("partial", string(p[:n]))

	_, err = s.Read(p)
	req.ErrorIs(err, errBroken)

	_, err = io.ReadAll(s)
	req.ErrorIs(err, errBroken)

	_, err = s.Write([]byte("more"))
	req.ErrorIs(err, errBroken)
	req.ErrorIs(s.Flush(), errBroken)
	req.ErrorIs(s.CloseWrite(), errBroken)
}

func TestStreamTie(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	in, out := must.Value(chunkbuf.NewBuffer())(t), must.Value(chunkbuf.NewBuffer())(t)

	xin, xout := chunkbuf.NewStream(in), chunkbuf.NewStream(out)
	xin.Tie(xout)

	_, err := xout.WriteString("prompt> ")
	req.NoError(err)
	req.True(out.Empty())

	req.NoError(chunkbuf.NewStream(in).CloseWrite())

	_, err = xin.ReadByte()
	req.Equal(io.EOF, err)

	// reading the input flushed the output
	req.EqualValues(8, out.Size())
}

func TestSharedBlockingRead(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	buf, err := chunkbuf.NewBuffer(chunkbuf.WithPolicy(chunkbuf.NewShared()))
	req.NoError(err)

	reader, writer := chunkbuf.NewStream(buf), chunkbuf.NewStream(buf)

	type result struct {
		err error
		s   string
	}

	results := make(chan result, 1)

	go func() {
		p := make([]byte, 16)

		n, err := reader.Read(p)
		results <- result{s: string(p[:n]), err: err}
	}()

	select {
	case <-results:
		req.FailNow("read should block on an empty buffer")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = writer.WriteString("wakeup")
	req.NoError(err)

	// not flushed yet
	select {
	case <-results:
		req.FailNow("read should block until flush")
	case <-time.After(50 * time.Millisecond):
	}

	req.NoError(writer.Flush())

	select {
	case r := <-results:
		req.NoError(r.err)
		req.Equal("wakeup", r.s)
	case <-time.After(5 * time.Second):
		req.FailNow("read was not woken up")
	}

	go func() {
		_, err := reader.ReadByte()
		results <- result{err: err}
	}()

	select {
	case <-results:
		req.FailNow("read should block on an empty buffer")
	case <-time.After(50 * time.Millisecond):
	}

	req.NoError(writer.CloseWrite())

	select {
	case r := <-results:
		req.Equal(io.EOF, r.err)
	case <-time.After(5 * time.Second):
		req.FailNow("read was not woken up by the end of stream")
	}
}

func TestSharedStreaming(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		options []chunkbuf.OptionFunc
	}{
		{
			name: "defaults",
		},
		{
			name: "small chunks",

			options: []chunkbuf.OptionFunc{
				chunkbuf.WithChunkSize(100),
				chunkbuf.WithPutbackSize(3),
				chunkbuf.WithSpareChunks(4),
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req := require.New(t)

			buf, err := chunkbuf.NewBuffer(append(test.options, chunkbuf.WithPolicy(chunkbuf.NewShared()))...)
			req.NoError(err)

			size := 1048576

			data, err := io.ReadAll(io.LimitReader(cryptorand.Reader, int64(size)))
			req.NoError(err)

			var eg errgroup.Group

			eg.Go(func() error {
				actual, err := io.ReadAll(chunkbuf.NewStream(buf))
				if err != nil {
					return err
				}

				if !bytes.Equal(data, actual) {
					return fmt.Errorf("data mismatch: %d != %d", len(actual), len(data))
				}

				return nil
			})

			w := chunkbuf.NewStream(buf)
			r := rate.NewLimiter(3_000_000, 10000)

			for p := data; len(p) > 0; {
				l := min(len(p), 2500)

				r.WaitN(context.Background(), l) //nolint:errcheck

				n, e := w.Write(p[:l])
				req.NoError(e)
				req.Equal(l, n)

				req.NoError(w.Flush())

				p = p[l:]
			}

			req.NoError(w.CloseWrite())
			req.NoError(eg.Wait())

			buf.Lock()
			defer buf.Unlock()

			req.True(buf.Empty())
			req.True(buf.EOF())
		})
	}
}

func TestStreamRoundTripText(t *testing.T) {
	t.Parallel()

	buf, err := chunkbuf.NewBuffer(chunkbuf.WithChunkSize(7), chunkbuf.WithPutbackSize(2))
	require.NoError(t, err)

	s := chunkbuf.NewStream(buf)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 50)

	_, err = io.Copy(s, strings.NewReader(text))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	var sb strings.Builder

	_, err = io.Copy(&sb, s)
	require.NoError(t, err)

	assert.Equal(t, text, sb.String())
}
