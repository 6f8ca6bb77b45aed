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

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sciops/fod/fodtest"
)

func noopMarkActive() error { return nil }

func TestExecuteTransferStatShortCircuit(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.StatExists["/dst/a.dat"] = true
	queued := NewQueuedIdSet()
	queued.Add(1)

	out := ExecuteTransfer(io, queued, 1, noopMarkActive, "/src/a.dat", "/dst/a.dat",
		false, "", "", 0)

	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.Cancelled)
	assert.Equal(t, "destination already present", out.Message)
}

func TestExecuteTransferOverwriteAlwaysCopies(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.StatExists["/dst/b.dat"] = true
	queued := NewQueuedIdSet()
	queued.Add(2)

	out := ExecuteTransfer(io, queued, 2, noopMarkActive, "/src/b.dat", "/dst/b.dat",
		true, "", "", 0)

	assert.Equal(t, 0, out.ExitCode)
	assert.NotEqual(t, "destination already present", out.Message)
}

func TestExecuteTransferCancelledSentinel(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	queued := NewQueuedIdSet()
	// task 3 was never added to the set, emulating a row that flipped to
	// 'cancelled' between submission and dispatch.

	out := ExecuteTransfer(io, queued, 3, noopMarkActive, "/src/c.dat", "/dst/c.dat",
		false, "", "", 0)

	assert.True(t, out.Cancelled)
	assert.Equal(t, -1, out.ExitCode)
}

func TestExecuteTransferRetryExhaustion(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.RetryUntilAttempt["/dst/d.dat"] = 100 // never succeeds within MaxAttempts
	queued := NewQueuedIdSet()
	queued.Add(4)

	out := ExecuteTransfer(io, queued, 4, noopMarkActive, "/src/d.dat", "/dst/d.dat",
		false, "", "", 0)

	assert.Equal(t, 70, out.ExitCode)
	assert.Contains(t, out.Log, "attempt failed, retrying")
}

func TestExecuteTransferMarkActiveFailure(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	queued := NewQueuedIdSet()
	queued.Add(5)

	out := ExecuteTransfer(io, queued, 5, func() error { return assert.AnError },
		"/src/e.dat", "/dst/e.dat", false, "", "", 0)

	assert.Equal(t, -1, out.ExitCode)
	assert.False(t, out.Cancelled)
	assert.NotEmpty(t, out.Message)
}

func TestExecuteDeleteSuccessEquivalence(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.UnlinkErrors["/dst/gone.dat"] = assertErr("No such file or directory")
	queued := NewQueuedIdSet()
	queued.Add(6)

	out := ExecuteDelete(io, queued, 6, noopMarkActive, "/dst/gone.dat")

	assert.Equal(t, 0, out.ExitCode)
}

// TestExecuteTransferENOENTIsNotSuccessEquivalent guards against folding a
// vanished-source failure into a false success: ENOENT-class results are
// success-equivalent for a deletion, never for a transfer.
func TestExecuteTransferENOENTIsNotSuccessEquivalent(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.CopyErrors["/dst/vanished.dat"] = assertErr("No such file or directory")
	queued := NewQueuedIdSet()
	queued.Add(8)

	out := ExecuteTransfer(io, queued, 8, noopMarkActive, "/src/vanished.dat", "/dst/vanished.dat",
		true, "", "", 0)

	assert.NotEqual(t, 0, out.ExitCode)
}

// TestExecuteDeleteEEXISTIsNotSuccessEquivalent is the mirror case:
// EEXIST-class results are success-equivalent for a transfer, never for a
// deletion.
func TestExecuteDeleteEEXISTIsNotSuccessEquivalent(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	io.UnlinkErrors["/dst/stillthere.dat"] = assertErr("File exists")
	queued := NewQueuedIdSet()
	queued.Add(9)

	out := ExecuteDelete(io, queued, 9, noopMarkActive, "/dst/stillthere.dat")

	assert.NotEqual(t, 0, out.ExitCode)
}

func TestExecuteDeleteCancelled(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	queued := NewQueuedIdSet()

	out := ExecuteDelete(io, queued, 7, noopMarkActive, "/dst/f.dat")

	assert.True(t, out.Cancelled)
}

func TestExecuteStagePending(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	_, token := io.BringOnline([]string{"/tape/g.dat"}, time.Hour, time.Minute, true)

	out := ExecuteStage(io, 100, "/tape/g.dat", token)

	assert.False(t, out.Staged)
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecuteStageReady(t *testing.T) {
	io := fodtest.NewFakeAdapter()
	_, token := io.BringOnline([]string{"/tape/h.dat"}, time.Hour, time.Minute, true)
	io.MarkStaged(token, "/tape/h.dat")

	out := ExecuteStage(io, 101, "/tape/h.dat", token)

	assert.True(t, out.Staged)
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecuteStageUnknownToken(t *testing.T) {
	io := fodtest.NewFakeAdapter()

	out := ExecuteStage(io, 102, "/tape/i.dat", "bogus-token")

	assert.False(t, out.Staged)
	assert.NotEqual(t, 0, out.ExitCode)
}

type stringError string

func (e stringError) Error() string { return string(e) }

func assertErr(s string) error { return stringError(s) }
