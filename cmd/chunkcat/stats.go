// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/siderolabs/go-chunkbuf/sqlstore"
)

const transfersTable = "transfers"

const createTransfers = `CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	finished_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	mode TEXT NOT NULL,
	bytes_read INTEGER NOT NULL,
	bytes_written INTEGER NOT NULL,
	failed INTEGER NOT NULL
)`

type transfer struct {
	mode string

	read    int64
	written int64

	failed bool
}

// recordTransfer appends the transfer to the stats database.
func recordTransfer(ctx context.Context, logger *zap.Logger, cfg config, tr transfer) (err error) {
	db, err := sqlstore.Open(ctx, cfg.statsDB, sqlstore.WithLogger(logger))
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	if cfg.statsReset {
		err = db.SaveOldTable(ctx, transfersTable, createTransfers)
	} else {
		_, err = db.Exec(ctx, createTransfers)
	}

	if err != nil {
		return err
	}

	insert, err := db.Prepare(ctx, "INSERT INTO transfers (mode, bytes_read, bytes_written, failed) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}

	defer insert.Close() //nolint:errcheck

	if _, err = insert.Exec(ctx, tr.mode, tr.read, tr.written, tr.failed); err != nil {
		return err
	}

	totals, err := db.Prepare(ctx, "SELECT count(*), coalesce(sum(bytes_read), 0) FROM transfers")
	if err != nil {
		return err
	}

	defer totals.Close() //nolint:errcheck

	var count, total int64

	if err = totals.QueryRow(ctx, nil, &count, &total); err != nil {
		return err
	}

	logger.Info("transfer recorded",
		zap.String("db", db.Path()),
		zap.Int64("transfers", count),
		zap.String("total_read", humanize.Bytes(uint64(total))),
	)

	return nil
}
