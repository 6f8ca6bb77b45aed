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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sciops/fod/fodtest"
	"github.com/sciops/fod/store"
	"github.com/sciops/fod/tasks"
	"github.com/sciops/fod/worker"
)

func newTestScheduler(s *store.MemStore, io *fodtest.FakeAdapter) *Scheduler {
	return New(s, io, worker.NewQueuedIdSet(), worker.NewQueuedIdSet())
}

// waitForStatus polls a small number of scheduler passes plus collector
// drains until f reports true or the attempt budget is exhausted.
func waitForStatus(t *testing.T, sch *Scheduler, f func() bool) {
	t.Helper()
	for i := 0; i < 20; i++ {
		assert.NoError(t, sch.RunOnce())
		sch.collectAll()
		if f() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestDeletionBatchWithOneMissingFile(t *testing.T) {
	s := store.NewMemStore()
	s.AddDeletion(1, "/a", "T1_A")
	s.AddDeletion(2, "/b", "T1_A")
	s.AddDeletion(3, "/c", "T1_A")

	io := fodtest.NewFakeAdapter()
	io.StatExists["/a"] = true
	io.StatExists["/c"] = true
	io.UnlinkErrors["/b"] = fakeErr("Target file does not exist.")

	sch := newTestScheduler(s, io)
	waitForStatus(t, sch, func() bool {
		for _, id := range []int64{1, 2, 3} {
			st, _ := s.DeletionStatus(id)
			if st != tasks.DeletionDone {
				return false
			}
		}
		return true
	})
}

func TestTransferStatShortCircuitSkipsCopy(t *testing.T) {
	s := store.NewMemStore()
	s.AddTransferBatch("b1", "src", "dst", false)
	s.AddTransfer(1, "b1", "/src/a.dat", "/dst/a.dat", "", "")

	io := fodtest.NewFakeAdapter()
	io.StatExists["/dst/a.dat"] = true
	// a FileCopy call would fail the task, so reaching 'done' shows the copy
	// was skipped.
	io.CopyErrors["/dst/a.dat"] = fakeErr("copy must not be invoked")

	sch := newTestScheduler(s, io)
	waitForStatus(t, sch, func() bool {
		st, _ := s.TransferStatus(1)
		return st == tasks.TransferDone
	})
}

func TestTapeStagingIssuesOnceAndPolls(t *testing.T) {
	s := store.NewMemStore()
	s.AddTransferBatch("tape-1", "T1_TAPE", "T2_DISK", true)
	s.AddTransfer(1, "tape-1", "/tape/a.dat", "/disk/a.dat", "", "")
	s.AddTransfer(2, "tape-1", "/tape/b.dat", "/disk/b.dat", "", "")

	io := fodtest.NewFakeAdapter()

	sch := newTestScheduler(s, io)

	// first pass: issues bring_online, both tasks move to staging.
	assert.NoError(t, sch.RunOnce())
	st1, _ := s.TransferStatus(1)
	st2, _ := s.TransferStatus(2)
	assert.Equal(t, tasks.TransferStaging, st1)
	assert.Equal(t, tasks.TransferStaging, st2)

	// mark only task 1's pfn as ready at the fake adapter, then let the
	// stage pool poll catch up.
	token, found := findStageToken(s)
	assert.True(t, found)
	io.MarkStaged(token, "/tape/a.dat")

	sch.collectAll()
	waitForStatus(t, sch, func() bool {
		s1, _ := s.TransferStatus(1)
		return s1 == tasks.TransferStaged
	})
	s2, _ := s.TransferStatus(2)
	assert.Equal(t, tasks.TransferStaging, s2)

	// a second pass must not re-issue bring_online: TapeBatchesNeedingStage
	// should now be empty because stage_token is set.
	batches, err := s.TapeBatchesNeedingStage()
	assert.NoError(t, err)
	assert.Empty(t, batches)
}

func findStageToken(s *store.MemStore) (string, bool) {
	rows, err := s.StagingTasks()
	if err != nil || len(rows) == 0 {
		return "", false
	}
	return rows[0].Token, true
}

func TestExternalCancellationClearsQueuedSet(t *testing.T) {
	s := store.NewMemStore()
	s.AddTransferBatch("b1", "src", "dst", false)
	s.AddTransfer(9, "b1", "/src/z.dat", "/dst/z.dat", "", "")

	io := fodtest.NewFakeAdapter()
	sch := newTestScheduler(s, io)

	// directly exercise the refresh step so this test doesn't race the
	// fake adapter's near-instant completion of the dispatched worker.
	assert.NoError(t, s.MarkTransferQueued(9))
	sch.TransferQueued.Add(9)
	assert.True(t, sch.TransferQueued.Contains(9))

	// simulate FOM cancelling the row directly in the database.
	s.SetTransferStatus(9, tasks.TransferCancelled)

	assert.NoError(t, sch.refreshTransferQueuedSet())
	assert.False(t, sch.TransferQueued.Contains(9))
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	s := store.NewMemStore()
	s.AddTransferBatch("b1", "src", "dst", false)
	s.AddTransfer(5, "b1", "/src/r.dat", "/dst/r.dat", "", "")

	io := fodtest.NewFakeAdapter()
	io.RetryUntilAttempt["/dst/r.dat"] = 1000

	sch := newTestScheduler(s, io)
	waitForStatus(t, sch, func() bool {
		st, _ := s.TransferStatus(5)
		return st == tasks.TransferFailed
	})
}

type fakeErrType string

func (e fakeErrType) Error() string { return string(e) }

func fakeErr(s string) error { return fakeErrType(s) }
