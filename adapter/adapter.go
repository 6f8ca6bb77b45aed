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

// Package adapter is the thin capability layer over the grid I/O library
// (GFAL2): filecopy, stat, unlink, bring_online, and bring_online_poll,
// each returning a structured Result.
package adapter

import "time"

// Result captures the outcome of a single adapter call: an exit code, a
// start/finish timestamp pair, a human-readable message, and the captured
// command log.
type Result struct {
	ExitCode int
	Start    time.Time
	Finish   time.Time
	Message  string
	Log      string
}

// Params configures a filecopy call.
type Params struct {
	Overwrite     bool
	ChecksumAlgo  string
	Checksum      string
	Timeout       time.Duration
	CreateParents bool
}

// PollResult is the tri-state result of BringOnlinePoll: a file may be
// ready, still pending, or have failed outright.
type PollResult int

const (
	PollPending PollResult = iota
	PollReady
	PollError
)

// GridIO is the capability surface the daemon needs from the underlying
// grid data-movement library. A production implementation shells out to
// gfal2 command-line tools; RealAdapter does this, FakeAdapter (in the
// fodtest package) stubs it out for tests.
type GridIO interface {
	// FileCopy transfers a single file from src to dst under the given
	// parameters.
	FileCopy(src, dst string, params Params) Result
	// Stat checks for the presence of a physical file name. Exit code 0
	// means the file is present.
	Stat(pfn string) Result
	// Unlink removes a physical file name.
	Unlink(pfn string) Result
	// BringOnline issues a (possibly asynchronous) tape recall for a batch
	// of physical file names, returning a per-file error slice (nil entries
	// for files accepted without incident) and an opaque batch token.
	BringOnline(pfns []string, pinTime, timeout time.Duration, async bool) ([]error, string)
	// BringOnlinePoll checks whether a single physical file name has
	// finished staging under the given batch token.
	BringOnlinePoll(pfn, token string) (PollResult, Result)
}

// EnvOverrider is an optional capability a GridIO implementation may
// support: issuing a single BringOnline call under a replaced process
// environment, then restoring its own. Callers that need to swap in a
// dedicated staging credential for one call should type-assert for this
// interface and fall back to plain BringOnline when it isn't implemented.
type EnvOverrider interface {
	BringOnlineWithEnv(pfns []string, pinTime, timeout time.Duration, async bool, env []string) ([]error, string)
}
