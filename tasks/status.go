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

// Package tasks holds the row types and status state machines that make up
// the File Operations Daemon's data model: the transfer and deletion tasks
// and batches it reads from and writes back to the shared MySQL database.
package tasks

// TransferStatus enumerates the lifecycle states of a
// standalone_transfer_tasks row.
type TransferStatus string

const (
	TransferNew       TransferStatus = "new"
	TransferStaging   TransferStatus = "staging"
	TransferStaged    TransferStatus = "staged"
	TransferQueued    TransferStatus = "queued"
	TransferActive    TransferStatus = "active"
	TransferDone      TransferStatus = "done"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// DeletionStatus enumerates the lifecycle states of a
// standalone_deletion_tasks row.
type DeletionStatus string

const (
	DeletionNew       DeletionStatus = "new"
	DeletionQueued    DeletionStatus = "queued"
	DeletionActive    DeletionStatus = "active"
	DeletionDone      DeletionStatus = "done"
	DeletionFailed    DeletionStatus = "failed"
	DeletionCancelled DeletionStatus = "cancelled"
)

// transferEdges enumerates the DAG of legal transfer status transitions:
// new -> (staging -> staged)? -> queued -> active -> {done, failed}, with
// cancelled reachable from any of {new, staging, staged, queued} but never
// from active or a terminal status. new, staging and queued can also fail
// directly, without ever reaching active: a bring_online call issued for the
// whole batch, a stage poll, or a failed markActive write can each fail a
// task before it ever runs.
var transferEdges = map[TransferStatus][]TransferStatus{
	TransferNew:       {TransferStaging, TransferQueued, TransferFailed, TransferCancelled},
	TransferStaging:   {TransferStaged, TransferFailed, TransferCancelled},
	TransferStaged:    {TransferQueued, TransferCancelled},
	TransferQueued:    {TransferActive, TransferFailed, TransferCancelled},
	TransferActive:    {TransferDone, TransferFailed},
	TransferDone:      {},
	TransferFailed:    {},
	TransferCancelled: {},
}

// deletionEdges enumerates the DAG of legal deletion status transitions:
// new -> queued -> active -> {done, failed}, with cancelled reachable from
// {new, queued} but never from active or a terminal status. queued can also
// fail directly, when a markActive write fails before a task ever runs.
var deletionEdges = map[DeletionStatus][]DeletionStatus{
	DeletionNew:       {DeletionQueued, DeletionCancelled},
	DeletionQueued:    {DeletionActive, DeletionFailed, DeletionCancelled},
	DeletionActive:    {DeletionDone, DeletionFailed},
	DeletionDone:      {},
	DeletionFailed:    {},
	DeletionCancelled: {},
}

// ValidTransferTransition reports whether a transfer task may move from one
// status to another along a legal edge of transferEdges.
func ValidTransferTransition(from, to TransferStatus) bool {
	for _, allowed := range transferEdges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidDeletionTransition reports whether a deletion task may move from one
// status to another along a legal edge of deletionEdges.
func ValidDeletionTransition(from, to DeletionStatus) bool {
	for _, allowed := range deletionEdges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether status is a terminal transfer status (done,
// failed, or cancelled).
func (s TransferStatus) Terminal() bool {
	return s == TransferDone || s == TransferFailed || s == TransferCancelled
}

// Terminal reports whether status is a terminal deletion status.
func (s DeletionStatus) Terminal() bool {
	return s == DeletionDone || s == DeletionFailed || s == DeletionCancelled
}

// StatusFromExitCode maps an adapter exit code to the terminal status an
// already-non-cancelled outcome implies: 0 means the task completed,
// anything else -- including the worker's -1 crash/markActive-failure
// sentinel -- means it failed. True cancellation is signalled out-of-band
// by Outcome.Cancelled and is filtered out by callers before this function
// ever runs, so -1 here can never mean "cancelled".
func StatusFromExitCode(exitCode int) TransferStatus {
	if exitCode == 0 {
		return TransferDone
	}
	return TransferFailed
}

// DeletionStatusFromExitCode is the deletion-task analogue of
// StatusFromExitCode.
func DeletionStatusFromExitCode(exitCode int) DeletionStatus {
	if exitCode == 0 {
		return DeletionDone
	}
	return DeletionFailed
}
