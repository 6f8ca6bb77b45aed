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

// Package store is the daemon's sole authority over the standalone_* task
// and batch tables: it issues every read that feeds the scheduler and every
// write that records a task's terminal outcome.
package store

import (
	"github.com/sciops/fod/worker"
)

// DeletionRow is one runnable row from standalone_deletion_tasks joined
// against its batch's site.
type DeletionRow struct {
	Id   int64
	File string
	Site string
}

// TapeBatch is a transfer batch whose source is tape-backed and has not yet
// had bring_online issued for it.
type TapeBatch struct {
	BatchId    string
	SourceSite string
	PFNs       []string
	// TaskIdByPFN lets the scheduler mark individual tasks staging/failed
	// once bring_online returns its per-file error slice.
	TaskIdByPFN map[string]int64
}

// StageRow is one transfer task currently in the 'staging' status, ready to
// be polled.
type StageRow struct {
	TaskId     int64
	PFN        string
	Token      string
	SourceSite string
}

// TransferRow is one runnable row from standalone_transfer_tasks: either
// status='new' with mss_source=0, or status='staged'.
type TransferRow struct {
	Id           int64
	Source       string
	Destination  string
	ChecksumAlgo string
	Checksum     string
	SourceSite   string
	DestSite     string
}

// Store is the full persistence surface the scheduler needs, for both its
// passes and its result collector. RealStore backs it with MySQL; MemStore backs it with an in-memory
// map for tests.
type Store interface {
	// deletions
	NewDeletions() ([]DeletionRow, error)
	MarkDeletionQueued(id int64) error
	DeletionQueuedIds() ([]int64, error)
	MarkDeletionActive(id int64) error
	WriteDeletionResult(id int64, out worker.Outcome) error

	// tape staging
	TapeBatchesNeedingStage() ([]TapeBatch, error)
	SetBatchStageToken(batchId, token string) error
	SetTaskStaging(taskId int64) error
	SetTaskFailedNoTiming(taskId int64, message string) error

	// staging polls
	StagingTasks() ([]StageRow, error)
	WriteStageResult(id int64, out worker.Outcome) error

	// transfers
	RunnableTransfers() ([]TransferRow, error)
	MarkTransferQueued(id int64) error
	TransferQueuedIds() ([]int64, error)
	MarkTransferActive(id int64) error
	WriteTransferResult(id int64, out worker.Outcome) error

	// lifecycle
	CrashRecover() error
	Close() error
}
