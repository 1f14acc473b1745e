// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

// Package main implements chunkcat, which copies standard input to standard output
// through a pair of chunk buffers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:           "chunkcat",
		Short:         "Copy standard input to standard output through chunk buffers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cfg.debug)
			if err != nil {
				return err
			}

			defer logger.Sync() //nolint:errcheck

			if err = run(cmd.Context(), logger, cfg, os.Stdin, os.Stdout); err != nil {
				logger.Error("copy failed", zap.Error(err))
			}

			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.mode, "mode", modeThreads, fmt.Sprintf("pumping mode: %q (reader and writer goroutines) or %q (pull and push on demand)", modeThreads, modeFD))
	flags.IntVar(&cfg.chunkSize, "chunk-size", 65536, "size of a buffer chunk in bytes")
	flags.IntVar(&cfg.putback, "putback", 8, "size of the putback window in bytes")
	flags.BoolVar(&cfg.compress, "compress", false, "zstd-compress the stream")
	flags.BoolVar(&cfg.decompress, "decompress", false, "zstd-decompress the stream")
	flags.IntVar(&cfg.rate, "rate", 0, "limit output to this many bytes per second (0 is unlimited)")
	flags.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flags.StringVar(&cfg.statsDB, "stats-db", "", "record the transfer in this SQLite database")
	flags.BoolVar(&cfg.statsReset, "stats-reset", false, "move previously recorded transfers to the old_transfers table")

	cmd.MarkFlagsMutuallyExclusive("compress", "decompress")

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
