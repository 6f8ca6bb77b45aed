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

package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferDAGForwardPath(t *testing.T) {
	assert.True(t, ValidTransferTransition(TransferNew, TransferStaging))
	assert.True(t, ValidTransferTransition(TransferStaging, TransferStaged))
	assert.True(t, ValidTransferTransition(TransferStaged, TransferQueued))
	assert.True(t, ValidTransferTransition(TransferQueued, TransferActive))
	assert.True(t, ValidTransferTransition(TransferActive, TransferDone))
	assert.True(t, ValidTransferTransition(TransferActive, TransferFailed))
	// non-tape transfers skip staging entirely
	assert.True(t, ValidTransferTransition(TransferNew, TransferQueued))
}

func TestTransferCancellationReachability(t *testing.T) {
	for _, from := range []TransferStatus{TransferNew, TransferStaging, TransferStaged, TransferQueued} {
		assert.True(t, ValidTransferTransition(from, TransferCancelled), "from %s", from)
	}
}

func TestActiveIsNeverCancellable(t *testing.T) {
	assert.False(t, ValidTransferTransition(TransferActive, TransferCancelled))
}

func TestNewAndStagingCanFailDirectly(t *testing.T) {
	// a bring_online call or a stage poll can fail before a task is ever
	// queued or made active.
	assert.True(t, ValidTransferTransition(TransferNew, TransferFailed))
	assert.True(t, ValidTransferTransition(TransferStaging, TransferFailed))
}

func TestQueuedCanFailDirectly(t *testing.T) {
	// a failed markActive write leaves a task queued, never active; it must
	// still be able to reach a terminal state instead of being stuck.
	assert.True(t, ValidTransferTransition(TransferQueued, TransferFailed))
	assert.True(t, ValidDeletionTransition(DeletionQueued, DeletionFailed))
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []TransferStatus{TransferDone, TransferFailed, TransferCancelled} {
		assert.True(t, s.Terminal())
		assert.False(t, ValidTransferTransition(s, TransferNew))
	}
}

func TestDeletionDAG(t *testing.T) {
	assert.True(t, ValidDeletionTransition(DeletionNew, DeletionQueued))
	assert.True(t, ValidDeletionTransition(DeletionQueued, DeletionActive))
	assert.True(t, ValidDeletionTransition(DeletionActive, DeletionDone))
	assert.True(t, ValidDeletionTransition(DeletionActive, DeletionFailed))
	assert.True(t, ValidDeletionTransition(DeletionNew, DeletionCancelled))
	assert.True(t, ValidDeletionTransition(DeletionQueued, DeletionCancelled))
	assert.False(t, ValidDeletionTransition(DeletionActive, DeletionCancelled))
}

func TestStatusFromExitCode(t *testing.T) {
	// -1 is the worker's crash/markActive-failure sentinel here, not the
	// cancellation sentinel: true cancellation never reaches this function
	// (callers filter on Outcome.Cancelled first), so -1 maps to failed.
	assert.Equal(t, TransferFailed, StatusFromExitCode(-1))
	assert.Equal(t, TransferDone, StatusFromExitCode(0))
	assert.Equal(t, TransferFailed, StatusFromExitCode(1))
	assert.Equal(t, TransferFailed, StatusFromExitCode(70))

	assert.Equal(t, DeletionFailed, DeletionStatusFromExitCode(-1))
	assert.Equal(t, DeletionDone, DeletionStatusFromExitCode(0))
	assert.Equal(t, DeletionFailed, DeletionStatusFromExitCode(2))
}
