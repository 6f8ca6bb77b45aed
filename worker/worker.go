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

// Package worker holds the stateless task-execution functions for the three
// kinds of work the daemon performs: transfer, stage, and delete. Each is a
// separate Execute* function returning the same Outcome type; callers pick
// the function for the task's kind.
package worker

import (
	"fmt"
	"time"

	"github.com/sciops/fod/adapter"
	"github.com/sciops/fod/classifier"
	"github.com/sciops/fod/journal"
)

// recordCall journals a single adapter call under its task id. The journal
// is an audit trail, not part of the task state machine: a write failure
// (including a closed journal, as in tests that never call journal.Init)
// never fails the task itself.
func recordCall(taskId int64, operation string, result adapter.Result) {
	_ = journal.RecordCall(journal.Entry{
		TaskId:    taskId,
		Operation: operation,
		ExitCode:  result.ExitCode,
		Start:     result.Start,
		Finish:    result.Finish,
		Message:   result.Message,
		Log:       result.Log,
	})
}

// Outcome is what a worker function hands back to its Pool Manager: either
// the cancelled sentinel, or a structured result ready to be classified and
// written to the database.
type Outcome struct {
	Cancelled bool
	ExitCode  int
	Start     time.Time
	Finish    time.Time
	Message   string
	Log       string
	// Staged is set by the staging worker only. A stage result with Staged
	// set is written as 'staged', one with a non-zero ExitCode as 'failed',
	// and a pending poll (Staged false, ExitCode 0) is a silent no-op.
	Staged bool
}

// cancelledOutcome is the exit=-1 cancellation sentinel a worker returns
// when it finds its task id no longer present in the queued-id set.
var cancelledOutcome = Outcome{Cancelled: true, ExitCode: -1}

// opKind distinguishes the two worker functions that share
// resultToOutcome, since the success-equivalence classes are op-specific:
// EEXIST-class results only mean success for a transfer, ENOENT-class
// results only mean success for a deletion.
type opKind int

const (
	opTransfer opKind = iota
	opDelete
)

// recoverPanic coerces a panic raised out of adapter code into a failed
// Outcome instead of propagating it into the pool's collector. Workers never
// raise out of the pool; every exception is caught and coerced into an
// exit=-1, message=str(exc) result.
func recoverPanic(out *Outcome) {
	if r := recover(); r != nil {
		*out = Outcome{ExitCode: -1, Message: fmt.Sprintf("%v", r), Finish: time.Now()}
	}
}

// ExecuteTransfer runs the transfer worker: it first performs the
// queued-set test-and-remove preamble and active-status write shared by all
// non-staging workers, then -- unless overwrite is false and the
// destination already exists -- invokes FileCopy.
func ExecuteTransfer(io adapter.GridIO, queued *QueuedIdSet, taskId int64,
	markActive func() error, src, dst string, overwrite bool,
	checksumAlgo, checksum string, timeout time.Duration) (out Outcome) {
	defer recoverPanic(&out)

	if !queued.TestAndRemove(taskId) {
		return cancelledOutcome
	}
	if err := markActive(); err != nil {
		return Outcome{ExitCode: -1, Message: err.Error(), Finish: time.Now()}
	}

	if !overwrite {
		statResult := io.Stat(dst)
		recordCall(taskId, "stat", statResult)
		if statResult.ExitCode == 0 {
			// the file is already present; accept it as done without
			// invoking FileCopy.
			return Outcome{ExitCode: 0, Start: statResult.Start, Finish: statResult.Finish,
				Message: "destination already present", Log: statResult.Log}
		}
	}

	params := adapter.Params{
		Overwrite:     overwrite,
		ChecksumAlgo:  checksumAlgo,
		Checksum:      checksum,
		Timeout:       timeout,
		CreateParents: true,
	}
	result := io.FileCopy(src, dst, params)
	recordCall(taskId, "filecopy", result)
	return resultToOutcome(opTransfer, result)
}

// ExecuteDelete runs the deletion worker.
func ExecuteDelete(io adapter.GridIO, queued *QueuedIdSet, taskId int64,
	markActive func() error, pfn string) (out Outcome) {
	defer recoverPanic(&out)

	if !queued.TestAndRemove(taskId) {
		return cancelledOutcome
	}
	if err := markActive(); err != nil {
		return Outcome{ExitCode: -1, Message: err.Error(), Finish: time.Now()}
	}

	result := io.Unlink(pfn)
	recordCall(taskId, "unlink", result)
	return resultToOutcome(opDelete, result)
}

// ExecuteStage runs the staging worker. It does not participate in
// queued-set cancellation: staging does not consume a
// per-site concurrency slot the way transfers and deletions do, so status
// simply remains 'staging' until the poll reports the file ready.
func ExecuteStage(io adapter.GridIO, taskId int64, pfn, token string) (out Outcome) {
	defer recoverPanic(&out)

	poll, result := io.BringOnlinePoll(pfn, token)
	recordCall(taskId, "bring_online_poll", result)
	switch poll {
	case adapter.PollReady:
		return Outcome{Staged: true, ExitCode: 0, Start: result.Start, Finish: result.Finish, Log: result.Log}
	case adapter.PollPending:
		return Outcome{Staged: false}
	default:
		return Outcome{Staged: false, ExitCode: result.ExitCode, Message: result.Message, Log: result.Log,
			Start: result.Start, Finish: result.Finish}
	}
}

// resultToOutcome classifies a completed adapter result and turns it into a
// terminal Outcome, folding in the op-specific success-equivalence
// disposition so a Pool Manager's process_result never needs to know about
// the classifier package itself. A disposition that belongs to the other
// op is not success-equivalent here: a transfer whose source vanished
// (ENOENT-class) did not happen and is not a success, even though the same
// disposition is exactly what makes a deletion of an already-gone file a
// success.
func resultToOutcome(op opKind, result adapter.Result) Outcome {
	if result.ExitCode == 0 {
		return Outcome{ExitCode: 0, Start: result.Start, Finish: result.Finish, Message: result.Message, Log: result.Log}
	}
	disposition := classifier.Classify(result.ExitCode, result.Message)
	successEquivalent := (op == opTransfer && disposition == classifier.SuccessEquivalentTransfer) ||
		(op == opDelete && disposition == classifier.SuccessEquivalentDeletion)
	if successEquivalent {
		return Outcome{ExitCode: 0, Start: result.Start, Finish: result.Finish, Message: result.Message}
	}
	return Outcome{ExitCode: result.ExitCode, Start: result.Start, Finish: result.Finish,
		Message: result.Message, Log: result.Log}
}
