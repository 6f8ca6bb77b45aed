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

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sciops/fod/tasks"
	"github.com/sciops/fod/worker"
)

func TestNewDeletionsOrderedBySiteThenId(t *testing.T) {
	m := NewMemStore()
	m.AddDeletion(3, "/c", "T1_A")
	m.AddDeletion(1, "/a", "T1_A")
	m.AddDeletion(2, "/b", "T0_B")

	rows, err := m.NewDeletions()
	assert.NoError(t, err)
	assert.Equal(t, []DeletionRow{
		{Id: 2, File: "/b", Site: "T0_B"},
		{Id: 1, File: "/a", Site: "T1_A"},
		{Id: 3, File: "/c", Site: "T1_A"},
	}, rows)
}

func TestWriteDeletionResultSuccessEquivalence(t *testing.T) {
	m := NewMemStore()
	m.AddDeletion(1, "/b", "T1_A")
	m.SetDeletionStatus(1, tasks.DeletionActive)

	err := m.WriteDeletionResult(1, worker.Outcome{ExitCode: 0, Message: "Target file does not exist."})
	assert.NoError(t, err)

	status, found := m.DeletionStatus(1)
	assert.True(t, found)
	assert.Equal(t, tasks.DeletionDone, status)
}

func TestWriteDeletionResultCancelledNeverOverwritesRow(t *testing.T) {
	m := NewMemStore()
	m.AddDeletion(4, "/d", "T1_A")
	m.SetDeletionStatus(4, tasks.DeletionCancelled)

	err := m.WriteDeletionResult(4, worker.Outcome{Cancelled: true, ExitCode: -1})
	assert.NoError(t, err)

	status, _ := m.DeletionStatus(4)
	assert.Equal(t, tasks.DeletionCancelled, status)
}

func TestTapeBatchStagingLifecycle(t *testing.T) {
	m := NewMemStore()
	m.AddTransferBatch("batch-1", "T1_TAPE", "T2_DISK", true)
	m.AddTransfer(10, "batch-1", "/tape/a.dat", "/disk/a.dat", "", "")
	m.AddTransfer(11, "batch-1", "/tape/b.dat", "/disk/b.dat", "", "")

	batches, err := m.TapeBatchesNeedingStage()
	assert.NoError(t, err)
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0].PFNs, 2)

	assert.NoError(t, m.SetBatchStageToken("batch-1", "token-xyz"))
	assert.NoError(t, m.SetTaskStaging(10))
	assert.NoError(t, m.SetTaskStaging(11))

	// idempotence: a stage token now present means the batch is no longer
	// returned by TapeBatchesNeedingStage.
	batches, err = m.TapeBatchesNeedingStage()
	assert.NoError(t, err)
	assert.Empty(t, batches)

	rows, err := m.StagingTasks()
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "token-xyz", r.Token)
		assert.Equal(t, "T1_TAPE", r.SourceSite)
	}

	assert.NoError(t, m.WriteStageResult(10, worker.Outcome{Staged: true, ExitCode: 0}))
	assert.NoError(t, m.WriteStageResult(11, worker.Outcome{Staged: false}))

	status10, _ := m.TransferStatus(10)
	status11, _ := m.TransferStatus(11)
	assert.Equal(t, tasks.TransferStaged, status10)
	assert.Equal(t, tasks.TransferStaging, status11)
}

func TestRunnableTransfersIncludesNonTapeNewAndStaged(t *testing.T) {
	m := NewMemStore()
	m.AddTransferBatch("b-disk", "T2_DISK", "T3_DISK", false)
	m.AddTransferBatch("b-tape", "T1_TAPE", "T3_DISK", true)
	m.AddTransfer(20, "b-disk", "/disk/a.dat", "/dst/a.dat", "", "")
	m.AddTransfer(21, "b-tape", "/tape/a.dat", "/dst/b.dat", "", "")
	m.SetTransferStatus(21, tasks.TransferStaged)
	m.AddTransfer(22, "b-tape", "/tape/b.dat", "/dst/c.dat", "", "")
	// task 22 stays 'new' under a tape batch: not runnable until staged.

	rows, err := m.RunnableTransfers()
	assert.NoError(t, err)
	ids := []int64{}
	for _, r := range rows {
		ids = append(ids, r.Id)
	}
	assert.ElementsMatch(t, []int64{20, 21}, ids)
}

func TestCrashRecoveryRewritesQueuedAndActive(t *testing.T) {
	m := NewMemStore()
	m.AddTransferBatch("b", "A", "B", false)
	m.AddTransfer(7, "b", "/s", "/d", "", "")
	m.AddTransfer(8, "b", "/s2", "/d2", "", "")
	m.SetTransferStatus(7, tasks.TransferActive)
	m.SetTransferStatus(8, tasks.TransferQueued)

	assert.NoError(t, m.CrashRecover())

	s7, _ := m.TransferStatus(7)
	s8, _ := m.TransferStatus(8)
	assert.Equal(t, tasks.TransferNew, s7)
	assert.Equal(t, tasks.TransferNew, s8)
}

func TestQueuedIdsRefresh(t *testing.T) {
	m := NewMemStore()
	m.AddTransferBatch("b", "A", "B", false)
	m.AddTransfer(1, "b", "/s", "/d", "", "")
	m.AddTransfer(2, "b", "/s2", "/d2", "", "")
	assert.NoError(t, m.MarkTransferQueued(1))
	assert.NoError(t, m.MarkTransferQueued(2))

	ids, err := m.TransferQueuedIds()
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}
