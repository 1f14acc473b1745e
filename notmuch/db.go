// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

package notmuch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/siderolabs/gen/xslices"
)

// DB is the notmuch configuration relevant to synchronizing a maildir.
type DB struct {
	// NewTags is the set of tags notmuch applies to new messages.
	NewTags map[string]struct{}

	runner *Runner

	// ConfigPath is the notmuch configuration file.
	ConfigPath string
	// Maildir is the database.path setting.
	Maildir string

	// SyncFlags is the maildir.synchronize_flags setting.
	SyncFlags bool
}

// Open reads the notmuch configuration and validates the maildir.
func Open(ctx context.Context, configPath string, opts ...OptionFunc) (*DB, error) {
	runner, err := NewRunner(configPath, opts...)
	if err != nil {
		return nil, err
	}

	db := &DB{
		ConfigPath: configPath,
		runner:     runner,
	}

	maildir, err := runner.ConfigGet(ctx, "database.path")
	if err != nil {
		return nil, err
	}

	db.Maildir = chomp(maildir)

	newTags, err := runner.ConfigGet(ctx, "new.tags")
	if err != nil {
		return nil, err
	}

	db.NewTags = lines(newTags)

	syncFlags, err := runner.ConfigGet(ctx, "maildir.synchronize_flags")
	if err != nil {
		return nil, err
	}

	db.SyncFlags = parseBool(syncFlags)

	if db.Maildir == "" {
		return nil, fmt.Errorf("%s: no database.path in config file", configPath)
	}

	if st, err := os.Stat(db.Maildir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%s: cannot access maildir", db.Maildir)
	}

	return db, nil
}

// ConfigGet returns the chomped value of the configuration key.
func (db *DB) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := db.runner.ConfigGet(ctx, key)
	if err != nil {
		return "", err
	}

	return chomp(out), nil
}

func chomp(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func lines(s string) map[string]struct{} {
	set := map[string]struct{}{}

	if s == "" {
		return set
	}

	for _, line := range xslices.Map(strings.Split(strings.TrimSuffix(s, "\n"), "\n"), chomp) {
		set[line] = struct{}{}
	}

	return set
}

// parseBool treats an empty value, "false" and "0" as false, anything else as true.
func parseBool(s string) bool {
	switch chomp(s) {
	case "", "false", "0":
		return false
	default:
		return true
	}
}
