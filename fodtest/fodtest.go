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

// Package fodtest contains testing fixtures for the File Operations Daemon:
// a stateful fake grid I/O adapter whose per-file behavior is configurable.
package fodtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sciops/fod/adapter"
)

// FakeAdapter implements adapter.GridIO with fully scripted, in-memory
// behavior so tests never touch a real grid endpoint.
type FakeAdapter struct {
	mu sync.Mutex

	// StatExists, when set for a pfn, makes Stat succeed for it.
	StatExists map[string]bool
	// UnlinkErrors maps a pfn to an error Unlink should return for it
	// (e.g. "no such file" to exercise classifier success-equivalence).
	UnlinkErrors map[string]error
	// CopyErrors maps a dst pfn to an error FileCopy should return for it.
	CopyErrors map[string]error
	// RetryUntilAttempt, if set for a dst pfn, makes FileCopy fail with a
	// retryable error until the given attempt number is reached. Unlink and
	// Stat do not consult it.
	RetryUntilAttempt map[string]int
	attempts          map[string]int

	// staging state: token -> set of pfns still pending
	pending map[string]map[string]bool

	// LastBringOnlineEnv captures the env argument of the most recent
	// BringOnlineWithEnv call.
	LastBringOnlineEnv []string
}

// NewFakeAdapter returns a ready-to-use FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		StatExists:        make(map[string]bool),
		UnlinkErrors:      make(map[string]error),
		CopyErrors:        make(map[string]error),
		RetryUntilAttempt: make(map[string]int),
		attempts:          make(map[string]int),
		pending:           make(map[string]map[string]bool),
	}
}

var _ adapter.GridIO = (*FakeAdapter)(nil)

func (f *FakeAdapter) nextAttempt(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[key]++
	return f.attempts[key]
}

func (f *FakeAdapter) FileCopy(src, dst string, params adapter.Params) adapter.Result {
	start := time.Now()
	if n, retrying := f.RetryUntilAttempt[dst]; retrying {
		if f.nextAttempt(dst) < n {
			return adapter.Result{ExitCode: 70, Start: start, Finish: time.Now(),
				Message: "transient communication error", Log: "attempt failed, retrying\n"}
		}
	}
	if err, found := f.CopyErrors[dst]; found {
		return adapter.Result{ExitCode: 1, Start: start, Finish: time.Now(), Message: err.Error(), Log: err.Error()}
	}
	f.mu.Lock()
	f.StatExists[dst] = true
	f.mu.Unlock()
	return adapter.Result{ExitCode: 0, Start: start, Finish: time.Now(), Log: "copied " + src + " -> " + dst}
}

func (f *FakeAdapter) Stat(pfn string) adapter.Result {
	start := time.Now()
	f.mu.Lock()
	exists := f.StatExists[pfn]
	f.mu.Unlock()
	if exists {
		return adapter.Result{ExitCode: 0, Start: start, Finish: time.Now(), Log: "stat ok"}
	}
	return adapter.Result{ExitCode: 2, Start: start, Finish: time.Now(), Message: "No such file or directory"}
}

func (f *FakeAdapter) Unlink(pfn string) adapter.Result {
	start := time.Now()
	if err, found := f.UnlinkErrors[pfn]; found {
		return adapter.Result{ExitCode: 1, Start: start, Finish: time.Now(), Message: err.Error()}
	}
	f.mu.Lock()
	delete(f.StatExists, pfn)
	f.mu.Unlock()
	return adapter.Result{ExitCode: 0, Start: start, Finish: time.Now(), Log: "unlinked " + pfn}
}

func (f *FakeAdapter) BringOnline(pfns []string, pinTime, timeout time.Duration, async bool) ([]error, string) {
	token := uuid.NewString()
	f.mu.Lock()
	set := make(map[string]bool, len(pfns))
	for _, p := range pfns {
		set[p] = true
	}
	f.pending[token] = set
	f.mu.Unlock()
	return make([]error, len(pfns)), token
}

// BringOnlineWithEnv records the env it was called with and otherwise
// behaves exactly like BringOnline; tests can inspect LastBringOnlineEnv to
// confirm a caller swapped in the expected staging credential.
func (f *FakeAdapter) BringOnlineWithEnv(pfns []string, pinTime, timeout time.Duration, async bool, env []string) ([]error, string) {
	f.mu.Lock()
	f.LastBringOnlineEnv = env
	f.mu.Unlock()
	return f.BringOnline(pfns, pinTime, timeout, async)
}

// MarkStaged marks a single pfn as ready to be observed by
// BringOnlinePoll under the given token.
func (f *FakeAdapter) MarkStaged(token, pfn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, found := f.pending[token]; found {
		delete(set, pfn)
	}
}

func (f *FakeAdapter) BringOnlinePoll(pfn, token string) (adapter.PollResult, adapter.Result) {
	f.mu.Lock()
	set, found := f.pending[token]
	pending := found && set[pfn]
	f.mu.Unlock()
	if !found {
		return adapter.PollError, adapter.Result{ExitCode: -1, Message: fmt.Sprintf("unknown stage token %s", token)}
	}
	if pending {
		return adapter.PollPending, adapter.Result{ExitCode: 1}
	}
	return adapter.PollReady, adapter.Result{ExitCode: 0}
}
