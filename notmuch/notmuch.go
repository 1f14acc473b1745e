// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build unix

// Package notmuch queries the configuration of a notmuch mail index.
package notmuch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/siderolabs/go-chunkbuf"
)

// ErrUnavailable is returned when notmuch could not be run.
var ErrUnavailable = errors.New("could not run notmuch")

// DefaultConfigPath returns the path of the notmuch configuration file:
// $NOTMUCH_CONFIG if set, $HOME/.notmuch-config otherwise.
func DefaultConfigPath() (string, error) {
	if p := os.Getenv("NOTMUCH_CONFIG"); p != "" {
		return p, nil
	}

	if home := os.Getenv("HOME"); home != "" {
		return home + "/.notmuch-config", nil
	}

	return "", errors.New("cannot find HOME directory")
}

// Runner runs notmuch commands against a configuration file.
type Runner struct {
	configPath string
	opt        Options
}

// NewRunner creates new Runner.
func NewRunner(configPath string, opts ...OptionFunc) (*Runner, error) {
	r := &Runner{
		configPath: configPath,
		opt:        defaultOptions(),
	}

	for _, o := range opts {
		if err := o(&r.opt); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ConfigGet returns the raw output of `notmuch config get <key>`.
func (r *Runner) ConfigGet(ctx context.Context, key string) (string, error) {
	return r.Run(ctx, "config", "get", key)
}

// Run runs notmuch with the arguments and returns its standard output.
//
// The exit status of notmuch is ignored (notmuch exits with an error for missing
// configuration keys), but a notmuch killed by SIGINT is reported as ErrUnavailable.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return "", fmt.Errorf("pipe: %w", err)
	}

	defer pr.Close() //nolint:errcheck

	cmd := exec.CommandContext(ctx, r.opt.Binary, args...)
	cmd.Env = append(os.Environ(), "NOTMUCH_CONFIG="+r.configPath)
	cmd.Stdout = pw

	var stderr strings.Builder

	cmd.Stderr = &stderr

	err = cmd.Start()

	// the child holds its own copy of the write end
	pw.Close() //nolint:errcheck

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	bufOpts := make([]chunkbuf.OptionFunc, 0, len(r.opt.BufferOptions)+2)
	bufOpts = append(bufOpts, chunkbuf.WithLogger(r.opt.Logger))
	bufOpts = append(bufOpts, r.opt.BufferOptions...)
	bufOpts = append(bufOpts, chunkbuf.WithPolicy(chunkbuf.InputFD(chunkbuf.FD(pr.Fd()))))

	buf, err := chunkbuf.NewBuffer(bufOpts...)
	if err != nil {
		cmd.Process.Kill() //nolint:errcheck
		cmd.Wait()         //nolint:errcheck

		return "", err
	}

	var out strings.Builder

	_, readErr := chunkbuf.NewStream(buf).WriteTo(&out)

	waitErr := cmd.Wait()

	var exitErr *exec.ExitError

	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGINT {
			return "", ErrUnavailable
		}

		r.opt.Logger.Debug("notmuch exited with an error",
			zap.Strings("args", args),
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
		)

		waitErr = nil
	}

	if err = multierr.Append(readErr, waitErr); err != nil {
		return "", fmt.Errorf("notmuch %s: %w", strings.Join(args, " "), err)
	}

	return out.String(), nil
}
