// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/siderolabs/go-chunkbuf"
	"github.com/siderolabs/go-chunkbuf/zstd"
)

const (
	modeThreads = "threads"
	modeFD      = "fd"
)

type config struct {
	mode string

	chunkSize int
	putback   int
	rate      int

	statsDB string

	compress   bool
	decompress bool
	debug      bool
	statsReset bool
}

// run copies in to out; closing in and out is up to the caller.
func run(ctx context.Context, logger *zap.Logger, cfg config, in, out *os.File) error {
	if cfg.mode != modeThreads && cfg.mode != modeFD {
		return fmt.Errorf("unknown mode %q", cfg.mode)
	}

	// Fd puts both files into blocking mode, which the pumps rely on
	inFD, outFD := chunkbuf.FD(in.Fd()), chunkbuf.FD(out.Fd())

	input, err := newCancelReader(ctx, inFD)
	if err != nil {
		return err
	}

	defer input.Close() //nolint:errcheck

	var tr transfer

	if cfg.mode == modeThreads {
		tr, err = runThreads(ctx, logger, cfg, input, outFD)
	} else {
		tr, err = runFD(ctx, logger, cfg, input, outFD)
	}

	tr.mode = cfg.mode
	tr.failed = err != nil

	logger.Debug("copy finished",
		zap.String("read", humanize.Bytes(uint64(tr.read))),
		zap.String("written", humanize.Bytes(uint64(tr.written))),
	)

	if cfg.statsDB != "" {
		// an interrupted transfer is recorded as well
		if statsErr := recordTransfer(context.WithoutCancel(ctx), logger, cfg, tr); err == nil {
			err = statsErr
		}
	}

	return err
}

// runThreads pumps input and output in dedicated goroutines.
func runThreads(ctx context.Context, logger *zap.Logger, cfg config, in io.Reader, out chunkbuf.FD) (transfer, error) {
	ib, err := newBuffer(logger.With(zap.String("buffer", "in")), cfg, chunkbuf.NewShared())
	if err != nil {
		return transfer{}, err
	}

	ob, err := newBuffer(logger.With(zap.String("buffer", "out")), cfg, chunkbuf.NewShared())
	if err != nil {
		return transfer{}, err
	}

	// cancellation faults both buffers, which wakes up every side waiting for data
	stop := context.AfterFunc(ctx, func() {
		for _, buf := range []*chunkbuf.Buffer{ib, ob} {
			buf.Lock()
			buf.SetErr(context.Cause(ctx))
			buf.Unlock()
		}
	})
	defer stop()

	var eg errgroup.Group

	eg.Go(func() error {
		return ib.FillLoop(in)
	})

	eg.Go(func() error {
		return ob.DrainLoop(out)
	})

	xin, xout := chunkbuf.NewStream(ib), chunkbuf.NewStream(ob)
	xin.Tie(xout)

	copyErr := transform(ctx, cfg, xout, xin)

	// the writer goroutine exits only once the end of stream is marked
	if err = xout.CloseWrite(); copyErr == nil {
		copyErr = err
	}

	if err = eg.Wait(); copyErr == nil {
		copyErr = err
	}

	return collect(ib, ob), copyErr
}

// runFD reads input when the stream runs dry, and writes output as soon as it is produced.
func runFD(ctx context.Context, logger *zap.Logger, cfg config, in io.Reader, out chunkbuf.FD) (transfer, error) {
	ib, err := newBuffer(logger.With(zap.String("buffer", "in")), cfg, chunkbuf.InputFD(in))
	if err != nil {
		return transfer{}, err
	}

	ob, err := newBuffer(logger.With(zap.String("buffer", "out")), cfg, chunkbuf.OutputFD(out))
	if err != nil {
		return transfer{}, err
	}

	xin, xout := chunkbuf.NewStream(ib), chunkbuf.NewStream(ob)
	xin.Tie(xout)

	copyErr := transform(ctx, cfg, xout, xin)

	if err = xout.CloseWrite(); copyErr == nil {
		copyErr = err
	}

	// push whatever the output descriptor did not accept on the first attempt;
	// out is blocking, so the loop does not spin
	for copyErr == nil {
		var more bool

		if more, copyErr = ob.DrainTo(out); !more {
			break
		}
	}

	return collect(ib, ob), copyErr
}

func newBuffer(logger *zap.Logger, cfg config, policy chunkbuf.Policy) (*chunkbuf.Buffer, error) {
	return chunkbuf.NewBuffer(
		chunkbuf.WithChunkSize(cfg.chunkSize),
		chunkbuf.WithPutbackSize(cfg.putback),
		chunkbuf.WithPolicy(policy),
		chunkbuf.WithLogger(logger),
	)
}

func transform(ctx context.Context, cfg config, dst io.Writer, src io.Reader) error {
	if cfg.rate > 0 {
		dst = &rateWriter{
			ctx:     ctx,
			w:       dst,
			limiter: rate.NewLimiter(rate.Limit(cfg.rate), cfg.rate),
		}
	}

	codec := zstd.NewCodec(nil)

	var err error

	switch {
	case cfg.compress:
		_, err = codec.Compress(dst, src)
	case cfg.decompress:
		_, err = codec.Decompress(dst, src)
	default:
		_, err = io.Copy(dst, src)
	}

	return err
}

// collect returns the number of bytes read from the input and written to the output.
func collect(ib, ob *chunkbuf.Buffer) transfer {
	ib.Lock()
	in := ib.Stats()
	ib.Unlock()

	ob.Lock()
	out := ob.Stats()
	ob.Unlock()

	return transfer{
		read:    in.Produced,
		written: out.Consumed,
	}
}

// rateWriter paces writes with a token bucket.
type rateWriter struct {
	ctx     context.Context //nolint:containedctx
	w       io.Writer
	limiter *rate.Limiter
}

func (rw *rateWriter) Write(p []byte) (int, error) {
	var n int

	for len(p) > 0 {
		l := min(len(p), rw.limiter.Burst())

		if err := rw.limiter.WaitN(rw.ctx, l); err != nil {
			return n, err
		}

		nn, err := rw.w.Write(p[:l])
		n += nn

		if err != nil {
			return n, err
		}

		p = p[l:]
	}

	return n, nil
}
