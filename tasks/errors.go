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

import "fmt"

// NotFoundError indicates that a task with the given id does not exist in
// the relevant table.
type NotFoundError struct {
	Id int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("task %d was not found", e.Id)
}

// InvalidTransferTransitionError indicates an attempt to move a transfer
// task's status along an edge that isn't allowed by transferEdges.
type InvalidTransferTransitionError struct {
	Id       int64
	From, To TransferStatus
}

func (e InvalidTransferTransitionError) Error() string {
	return fmt.Sprintf("transfer task %d: invalid transition %s -> %s", e.Id, e.From, e.To)
}

// InvalidDeletionTransitionError is the deletion-task analogue of
// InvalidTransferTransitionError.
type InvalidDeletionTransitionError struct {
	Id       int64
	From, To DeletionStatus
}

func (e InvalidDeletionTransitionError) Error() string {
	return fmt.Sprintf("deletion task %d: invalid transition %s -> %s", e.Id, e.From, e.To)
}
