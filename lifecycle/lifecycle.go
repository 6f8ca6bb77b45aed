// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package lifecycle wires startup, signal handling, and shutdown for the
// daemon: read config, validate the data directory, raise resource limits,
// drop privileges, recover from a prior crash, run the scheduler until a
// termination signal arrives, then sweep mid-flight rows one more time.
package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sciops/fod/adapter"
	"github.com/sciops/fod/config"
	"github.com/sciops/fod/journal"
	"github.com/sciops/fod/scheduler"
	"github.com/sciops/fod/store"
	"github.com/sciops/fod/worker"
)

// maxOpenFiles is the ceiling this daemon raises RLIMIT_NOFILE/RLIMIT_NPROC
// to at startup: each in-flight transfer or stage poll opens at least one
// socket, and the staging fan-out can put thousands of files in flight at
// once on a busy link.
const maxOpenFiles = 65536

// gracefulDrain bounds how long Run waits for in-flight pool work to finish
// after a TERM/HUP/INT before running the final cleanup sweep regardless.
const gracefulDrain = 25 * time.Second

// Run executes the daemon's full lifecycle and blocks until a termination
// signal is received and shutdown completes.
func Run(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", configPath, err)
	}
	if err := config.Init(data); err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	enableLogging()

	if err := validateDirectory("data", config.FileOperations.Daemon.DataDirectory); err != nil {
		return fmt.Errorf("validating data directory: %w", err)
	}

	if err := raiseFileLimits(); err != nil {
		slog.Warn(fmt.Sprintf("couldn't raise resource limits: %s", err))
	}

	s, err := store.Open(config.FileOperations.Manager.DB.DB.DSN())
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer s.Close()

	if err := journal.Init(); err != nil {
		return fmt.Errorf("opening call journal: %w", err)
	}
	defer journal.Finalize()

	// privileges are dropped only after every privileged resource (log
	// file, journal file, rlimits) has been opened or raised.
	if err := dropPrivileges(config.FileOperations.Daemon.User); err != nil {
		slog.Warn(fmt.Sprintf("couldn't drop privileges: %s", err))
	}

	if err := s.CrashRecover(); err != nil {
		return fmt.Errorf("startup crash recovery sweep: %w", err)
	}

	gridIO := &adapter.RealAdapter{Verbosity: config.FileOperations.Daemon.Gfal2Verbosity}

	sch := scheduler.New(s, gridIO, worker.NewQueuedIdSet(), worker.NewQueuedIdSet())
	sch.Overwrite = config.FileOperations.Daemon.Overwrite
	sch.TransferTimeout = time.Duration(config.FileOperations.Daemon.TransferTimeout) * time.Second
	sch.StagingEnv = stagingEnv(config.FileOperations.Daemon.StagingX509Proxy)
	maxParallel := int64(config.FileOperations.Daemon.MaxParallelLinks)
	sch.TransferCapacity = func(string) int64 { return maxParallel }
	sch.StageCapacity = func(string) int64 { return maxParallel }
	sch.DeletionCapacity = func(string) int64 { return maxParallel }

	sch.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigChan
	slog.Info(fmt.Sprintf("received signal %s, draining", sig))

	sch.Stop()
	if !sch.WaitForIdle(gracefulDrain) {
		slog.Warn("pools did not drain within the shutdown deadline; sweeping mid-flight rows")
	}

	if err := s.CrashRecover(); err != nil {
		slog.Error(fmt.Sprintf("final cleanup sweep: %s", err))
	}
	return nil
}

func enableLogging() {
	level := new(slog.LevelVar)
	switch config.Logging.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	var out io.Writer = os.Stderr
	if config.Logging.Path != "" {
		f, err := os.OpenFile(config.Logging.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error(fmt.Sprintf("couldn't open log file %s, logging to stderr: %s", config.Logging.Path, err))
		} else {
			out = f
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
	slog.Debug("debug logging enabled")
}

// validateDirectory checks that dir exists, is a directory, and is
// writable, by round-tripping a small probe file through it.
func validateDirectory(dirType, dir string) error {
	if dir == "" {
		return fmt.Errorf("no %s directory was specified", dirType)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "validateDirectory", Path: dir,
			Err: fmt.Errorf("%s is not a valid %s directory", dir, dirType)}
	}

	probe := filepath.Join(dir, ".fod-write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("%s directory %s is not writable: %w", dirType, dir, err)
	}
	return os.Remove(probe)
}

func raiseFileLimits() error {
	limit := syscall.Rlimit{Cur: maxOpenFiles, Max: maxOpenFiles}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("raising RLIMIT_NOFILE: %w", err)
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NPROC, &limit); err != nil {
		return fmt.Errorf("raising RLIMIT_NPROC: %w", err)
	}
	return nil
}

// dropPrivileges switches the process's effective uid/gid to the configured
// daemon user; a no-op if no user is configured (e.g. under a test harness
// already running unprivileged).
func dropPrivileges(userName string) error {
	if userName == "" {
		return nil
	}
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("looking up user %s: %w", userName, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}
	return nil
}

// stagingEnv returns the process environment with X509_USER_PROXY replaced
// by proxy, for use during bring_online calls only; ordinary transfer and
// deletion workers keep using the adapter's own configured proxy.
func stagingEnv(proxy string) []string {
	if proxy == "" {
		return nil
	}
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "X509_USER_PROXY=") {
			out = append(out, "X509_USER_PROXY="+proxy)
			found = true
		} else {
			out = append(out, kv)
		}
	}
	if !found {
		out = append(out, "X509_USER_PROXY="+proxy)
	}
	return out
}
