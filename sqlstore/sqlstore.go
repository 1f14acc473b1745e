// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sqlstore wraps a SQLite database with query-aware errors and table migration helpers.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register the "sqlite" driver
)

// ErrNoRows is returned when a single-row query has no rows left.
var ErrNoRows = errors.New("no rows left in query")

// ErrCompoundQuery is returned when a statement to prepare contains more than one query.
var ErrCompoundQuery = errors.New("illegal compound query")

// Error is a database error annotated with the database path and the failing query.
type Error struct {
	Err   error
	Path  string
	Query string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Err)
	}

	return fmt.Sprintf("%s:\n  Query: %s\n  Error: %s", e.Path, e.Query, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// DB is a SQLite database.
type DB struct {
	db     *sql.DB
	logger *zap.Logger
	path   string
}

// OptionFunc allows setting DB options.
type OptionFunc func(*DB)

// WithLogger sets logger for DB.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(db *DB) {
		db.logger = logger
	}
}

// Open opens the SQLite database at path, creating it if needed.
func Open(ctx context.Context, path string, opts ...OptionFunc) (*DB, error) {
	d := &DB{
		path:   path,
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(d)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, d.wrap("", fmt.Errorf("opening sqlite database: %w", err))
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck

		return nil, d.wrap("", fmt.Errorf("connecting to sqlite: %w", err))
	}

	d.db = db

	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database path.
func (d *DB) Path() string {
	return d.path
}

// Exec executes a query which returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.logger.Debug("exec", zap.String("query", query))

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrap(query, err)
	}

	return res, nil
}

// Prepare prepares a single query for repeated execution.
func (d *DB) Prepare(ctx context.Context, query string) (*Stmt, error) {
	if isCompound(query) {
		return nil, d.wrap(query, ErrCompoundQuery)
	}

	stmt, err := d.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, d.wrap(query, err)
	}

	return &Stmt{
		db:    d,
		stmt:  stmt,
		query: query,
	}, nil
}

// SaveOldTable keeps the current contents of the table as "old_<table>",
// and re-creates an empty table with the create statement.
//
// The create statement should use CREATE TABLE IF NOT EXISTS, as it is
// also used to make sure the table exists before renaming it.
func (d *DB) SaveOldTable(ctx context.Context, table, create string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.wrap("", err)
	}

	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	old := "old_" + table

	for _, query := range []string{
		create,
		"DROP TABLE IF EXISTS " + quoteIdent(old),
		"ALTER TABLE " + quoteIdent(table) + " RENAME TO " + quoteIdent(old),
		create,
	} {
		d.logger.Debug("exec", zap.String("query", query))

		if _, err = tx.ExecContext(ctx, query); err != nil {
			return d.wrap(query, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return d.wrap("", err)
	}

	return nil
}

func (d *DB) wrap(query string, err error) error {
	return &Error{
		Path:  d.path,
		Query: query,
		Err:   err,
	}
}

// Stmt is a prepared statement.
type Stmt struct {
	db    *DB
	stmt  *sql.Stmt
	query string
}

// Exec executes the statement with the arguments.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, s.db.wrap(s.query, err)
	}

	return res, nil
}

// QueryRow executes the statement and scans the first row into dest.
//
// If there are no rows, QueryRow returns an error wrapping ErrNoRows.
func (s *Stmt) QueryRow(ctx context.Context, args []any, dest ...any) error {
	err := s.stmt.QueryRowContext(ctx, args...).Scan(dest...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return s.db.wrap(s.query, ErrNoRows)
	default:
		return s.db.wrap(s.query, err)
	}
}

// Query executes the statement and calls fn for every row.
func (s *Stmt) Query(ctx context.Context, args []any, fn func(*sql.Rows) error) error {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return s.db.wrap(s.query, err)
	}

	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		if err = fn(rows); err != nil {
			return err
		}
	}

	if err = rows.Err(); err != nil {
		return s.db.wrap(s.query, err)
	}

	return nil
}

// Close closes the statement.
func (s *Stmt) Close() error {
	return s.stmt.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// isCompound reports whether the query has anything but whitespace after
// the first statement terminator outside of quotes.
func isCompound(query string) bool {
	var quote byte

	for i := 0; i < len(query); i++ {
		c := query[i]

		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			return strings.TrimSpace(strings.TrimLeft(query[i+1:], "; \t\r\n")) != ""
		}
	}

	return false
}
