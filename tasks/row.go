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

import "time"

// TransferTask mirrors a row of standalone_transfer_tasks. Column names are
// preserved verbatim because they form an external interface shared with the
// File Operations Manager.
type TransferTask struct {
	Id           int64
	BatchId      int64
	Source       string
	Destination  string
	ChecksumAlgo string
	Checksum     string
	Status       TransferStatus
	ExitCode     int
	Message      string
	StartTime    time.Time
	FinishTime   time.Time
}

// TransferBatch mirrors a row of standalone_transfer_batches.
type TransferBatch struct {
	BatchId         int64
	SourceSite      string
	DestinationSite string
	MSSSource       bool
	StageToken      string // empty iff no bring_online has been issued
	HasStageToken   bool
}

// DeletionTask mirrors a row of standalone_deletion_tasks.
type DeletionTask struct {
	Id         int64
	BatchId    int64
	File       string
	Status     DeletionStatus
	ExitCode   int
	Message    string
	StartTime  time.Time
	FinishTime time.Time
}

// DeletionBatch mirrors a row of standalone_deletion_batches.
type DeletionBatch struct {
	BatchId int64
	Site    string
}
