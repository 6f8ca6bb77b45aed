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
	"fmt"
	"sort"
	"sync"

	"github.com/sciops/fod/tasks"
	"github.com/sciops/fod/worker"
)

type memDeletion struct {
	file, site string
	status     tasks.DeletionStatus
}

type memTransferBatch struct {
	sourceSite, destSite string
	mssSource            bool
	stageToken           string
}

type memTransfer struct {
	batchId      string
	source       string
	destination  string
	checksumAlgo string
	checksum     string
	status       tasks.TransferStatus
}

// MemStore is an in-memory Store used by tests that want to exercise the
// scheduler and pool managers without a live MySQL instance.
type MemStore struct {
	mu sync.Mutex

	deletions map[int64]*memDeletion

	transferBatches map[string]*memTransferBatch
	transfers       map[int64]*memTransfer
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		deletions:       make(map[int64]*memDeletion),
		transferBatches: make(map[string]*memTransferBatch),
		transfers:       make(map[int64]*memTransfer),
	}
}

// AddDeletion seeds a deletion task row directly, bypassing FOM.
func (m *MemStore) AddDeletion(id int64, file, site string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions[id] = &memDeletion{file: file, site: site, status: tasks.DeletionNew}
}

// SetDeletionStatus lets a test simulate an external actor (FOM) moving a
// row's status directly, e.g. a cancellation.
func (m *MemStore) SetDeletionStatus(id int64, status tasks.DeletionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, found := m.deletions[id]; found {
		d.status = status
	}
}

func (m *MemStore) DeletionStatus(id int64) (tasks.DeletionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, found := m.deletions[id]
	if !found {
		return "", false
	}
	return d.status, true
}

// AddTransferBatch seeds a transfer batch.
func (m *MemStore) AddTransferBatch(batchId, sourceSite, destSite string, mssSource bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferBatches[batchId] = &memTransferBatch{sourceSite: sourceSite, destSite: destSite, mssSource: mssSource}
}

// AddTransfer seeds a transfer task belonging to batchId.
func (m *MemStore) AddTransfer(id int64, batchId, source, destination, checksumAlgo, checksum string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[id] = &memTransfer{
		batchId: batchId, source: source, destination: destination,
		checksumAlgo: checksumAlgo, checksum: checksum, status: tasks.TransferNew,
	}
}

func (m *MemStore) SetTransferStatus(id int64, status tasks.TransferStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, found := m.transfers[id]; found {
		t.status = status
	}
}

func (m *MemStore) TransferStatus(id int64) (tasks.TransferStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, found := m.transfers[id]
	if !found {
		return "", false
	}
	return t.status, true
}

func (m *MemStore) NewDeletions() ([]DeletionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeletionRow
	for id, d := range m.deletions {
		if d.status == tasks.DeletionNew {
			out = append(out, DeletionRow{Id: id, File: d.file, Site: d.site})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (m *MemStore) MarkDeletionQueued(id int64) error {
	return m.setDeletionStatus(id, tasks.DeletionQueued)
}

func (m *MemStore) MarkDeletionActive(id int64) error {
	return m.setDeletionStatus(id, tasks.DeletionActive)
}

// setDeletionStatus is the internal write path the daemon itself uses to
// move a deletion task's status forward; it refuses a transition
// tasks.ValidDeletionTransition forbids rather than applying it blindly.
// The public SetDeletionStatus is unguarded, since it exists to let tests
// simulate an external actor (FOM) setting status directly.
func (m *MemStore) setDeletionStatus(id int64, status tasks.DeletionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, found := m.deletions[id]
	if !found {
		return tasks.NotFoundError{Id: id}
	}
	if !tasks.ValidDeletionTransition(d.status, status) {
		return tasks.InvalidDeletionTransitionError{Id: id, From: d.status, To: status}
	}
	d.status = status
	return nil
}

func (m *MemStore) DeletionQueuedIds() ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, d := range m.deletions {
		if d.status == tasks.DeletionQueued {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemStore) WriteDeletionResult(id int64, out worker.Outcome) error {
	if out.Cancelled {
		return nil
	}
	return m.setDeletionStatus(id, tasks.DeletionStatusFromExitCode(out.ExitCode))
}

func (m *MemStore) TapeBatchesNeedingStage() ([]TapeBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TapeBatch
	for batchId, b := range m.transferBatches {
		if !b.mssSource || b.stageToken != "" {
			continue
		}
		tb := TapeBatch{BatchId: batchId, SourceSite: b.sourceSite, TaskIdByPFN: make(map[string]int64)}
		for id, t := range m.transfers {
			if t.batchId == batchId {
				tb.PFNs = append(tb.PFNs, t.source)
				tb.TaskIdByPFN[t.source] = id
			}
		}
		out = append(out, tb)
	}
	return out, nil
}

func (m *MemStore) SetBatchStageToken(batchId, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, found := m.transferBatches[batchId]
	if !found {
		return fmt.Errorf("unknown transfer batch %s", batchId)
	}
	b.stageToken = token
	return nil
}

func (m *MemStore) SetTaskStaging(taskId int64) error {
	return m.setTransferStatus(taskId, tasks.TransferStaging)
}

func (m *MemStore) SetTaskFailedNoTiming(taskId int64, message string) error {
	return m.setTransferStatus(taskId, tasks.TransferFailed)
}

// setTransferStatus is the internal write path the daemon itself uses to
// move a transfer task's status forward; it refuses a transition
// tasks.ValidTransferTransition forbids rather than applying it blindly.
// The public SetTransferStatus is unguarded, since it exists to let tests
// simulate an external actor (FOM) setting status directly.
func (m *MemStore) setTransferStatus(id int64, status tasks.TransferStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, found := m.transfers[id]
	if !found {
		return tasks.NotFoundError{Id: id}
	}
	if !tasks.ValidTransferTransition(t.status, status) {
		return tasks.InvalidTransferTransitionError{Id: id, From: t.status, To: status}
	}
	t.status = status
	return nil
}

func (m *MemStore) StagingTasks() ([]StageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StageRow
	for id, t := range m.transfers {
		if t.status != tasks.TransferStaging {
			continue
		}
		b := m.transferBatches[t.batchId]
		out = append(out, StageRow{TaskId: id, PFN: t.source, Token: b.stageToken, SourceSite: b.sourceSite})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskId < out[j].TaskId })
	return out, nil
}

func (m *MemStore) WriteStageResult(id int64, out worker.Outcome) error {
	if out.Staged {
		return m.setTransferStatus(id, tasks.TransferStaged)
	}
	if out.ExitCode != 0 {
		return m.setTransferStatus(id, tasks.TransferFailed)
	}
	return nil
}

func (m *MemStore) RunnableTransfers() ([]TransferRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TransferRow
	for id, t := range m.transfers {
		b := m.transferBatches[t.batchId]
		runnable := (t.status == tasks.TransferNew && !b.mssSource) || t.status == tasks.TransferStaged
		if !runnable {
			continue
		}
		out = append(out, TransferRow{
			Id: id, Source: t.source, Destination: t.destination,
			ChecksumAlgo: t.checksumAlgo, Checksum: t.checksum,
			SourceSite: b.sourceSite, DestSite: b.destSite,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceSite != out[j].SourceSite {
			return out[i].SourceSite < out[j].SourceSite
		}
		if out[i].DestSite != out[j].DestSite {
			return out[i].DestSite < out[j].DestSite
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (m *MemStore) MarkTransferQueued(id int64) error {
	return m.setTransferStatus(id, tasks.TransferQueued)
}

func (m *MemStore) TransferQueuedIds() ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, t := range m.transfers {
		if t.status == tasks.TransferQueued {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemStore) MarkTransferActive(id int64) error {
	return m.setTransferStatus(id, tasks.TransferActive)
}

func (m *MemStore) WriteTransferResult(id int64, out worker.Outcome) error {
	if out.Cancelled {
		return nil
	}
	return m.setTransferStatus(id, tasks.StatusFromExitCode(out.ExitCode))
}

func (m *MemStore) CrashRecover() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deletions {
		if d.status == tasks.DeletionQueued || d.status == tasks.DeletionActive {
			d.status = tasks.DeletionNew
		}
	}
	for _, t := range m.transfers {
		if t.status == tasks.TransferQueued || t.status == tasks.TransferActive {
			t.status = tasks.TransferNew
		}
	}
	return nil
}

func (m *MemStore) Close() error { return nil }
