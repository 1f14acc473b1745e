// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-chunkbuf/sqlstore"
)

const createMessages = "CREATE TABLE IF NOT EXISTS messages (id INTEGER PRIMARY KEY, subject TEXT NOT NULL)"

func open(t *testing.T) *sqlstore.DB {
	t.Helper()

	db, err := sqlstore.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), sqlstore.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, db.Close()) })

	_, err = db.Exec(context.Background(), createMessages)
	require.NoError(t, err)

	return db
}

func insert(t *testing.T, db *sqlstore.DB, subjects ...string) {
	t.Helper()

	ctx := context.Background()

	stmt, err := db.Prepare(ctx, "INSERT INTO messages (subject) VALUES (?)")
	require.NoError(t, err)

	defer stmt.Close() //nolint:errcheck

	for _, subject := range subjects {
		_, err = stmt.Exec(ctx, subject)
		require.NoError(t, err)
	}
}

func TestQueryRow(t *testing.T) {
	t.Parallel()

	req := require.New(t)
	ctx := context.Background()

	db := open(t)
	insert(t, db, "hello", "world")

	stmt, err := db.Prepare(ctx, "SELECT id FROM messages WHERE subject = ?")
	req.NoError(err)

	defer stmt.Close() //nolint:errcheck

	var id int64

	req.NoError(stmt.QueryRow(ctx, []any{"world"}, &id))
	req.EqualValues(2, id)

	err = stmt.QueryRow(ctx, []any{"nope"}, &id)
	req.ErrorIs(err, sqlstore.ErrNoRows)

	var dbErr *sqlstore.Error

	req.True(errors.As(err, &dbErr))
	req.Equal(db.Path(), dbErr.Path)
	req.Equal("SELECT id FROM messages WHERE subject = ?", dbErr.Query)
}

func TestQuery(t *testing.T) {
	t.Parallel()

	req := require.New(t)
	ctx := context.Background()

	db := open(t)
	insert(t, db, "a", "b", "c")

	stmt, err := db.Prepare(ctx, "SELECT subject FROM messages WHERE id > ? ORDER BY id")
	req.NoError(err)

	defer stmt.Close() //nolint:errcheck

	var subjects []string

	req.NoError(stmt.Query(ctx, []any{1}, func(rows *sql.Rows) error {
		var s string

		if err := rows.Scan(&s); err != nil {
			return err
		}

		subjects = append(subjects, s)

		return nil
	}))

	req.Equal([]string{"b", "c"}, subjects)

	errStop := errors.New("stop")

	req.ErrorIs(stmt.Query(ctx, []any{0}, func(*sql.Rows) error { return errStop }), errStop)
}

func TestPrepareCompound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := open(t)

	for _, test := range []struct {
		query    string
		compound bool
	}{
		{query: "SELECT 1", compound: false},
		{query: "SELECT 1;", compound: false},
		{query: "SELECT ';' FROM messages", compound: false},
		{query: `SELECT "a;b" FROM (SELECT 1 AS "a;b")`, compound: false},
		{query: "SELECT 1; SELECT 2", compound: true},
		{query: "DELETE FROM messages; DROP TABLE messages", compound: true},
	} {
		t.Run(test.query, func(t *testing.T) {
			stmt, err := db.Prepare(ctx, test.query)

			if test.compound {
				require.ErrorIs(t, err, sqlstore.ErrCompoundQuery)

				return
			}

			require.NoError(t, err)
			require.NoError(t, stmt.Close())
		})
	}
}

func TestErrorFormat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := open(t)

	_, err := db.Exec(ctx, "INSERT INTO nowhere VALUES (1)")
	require.Error(t, err)

	assert.Regexp(t, `^.*test\.db:\n  Query: INSERT INTO nowhere VALUES \(1\)\n  Error: .*no such table: nowhere`, err.Error())

	assert.Equal(t, "/tmp/x.db: boom", (&sqlstore.Error{Path: "/tmp/x.db", Err: errors.New("boom")}).Error())
}

func TestSaveOldTable(t *testing.T) {
	t.Parallel()

	req := require.New(t)
	ctx := context.Background()

	db := open(t)
	insert(t, db, "first", "second")

	req.NoError(db.SaveOldTable(ctx, "messages", createMessages))

	count := func(table string) int64 {
		stmt, err := db.Prepare(ctx, "SELECT count(*) FROM "+table)
		req.NoError(err)

		defer stmt.Close() //nolint:errcheck

		var n int64

		req.NoError(stmt.QueryRow(ctx, nil, &n))

		return n
	}

	req.EqualValues(0, count("messages"))
	req.EqualValues(2, count("old_messages"))

	insert(t, db, "third")

	// the previous old table is replaced
	req.NoError(db.SaveOldTable(ctx, "messages", createMessages))
	req.EqualValues(0, count("messages"))
	req.EqualValues(1, count("old_messages"))

	// a table which did not exist yet
	req.NoError(db.SaveOldTable(ctx, "drafts", "CREATE TABLE IF NOT EXISTS drafts (body TEXT)"))
	req.EqualValues(0, count("drafts"))
	req.EqualValues(0, count("old_drafts"))

	// failed migrations are rolled back
	err := db.SaveOldTable(ctx, "messages", "CREATE TABLE IF NOT EXISTS messages (")
	req.Error(err)
	req.EqualValues(0, count("messages"))
	req.EqualValues(1, count("old_messages"))
}
