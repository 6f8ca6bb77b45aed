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

// Package scheduler runs the single control loop that drains the task
// tables, feeds pool managers, and keeps the shared queued-id sets in sync
// with the database.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sciops/fod/adapter"
	"github.com/sciops/fod/pool"
	"github.com/sciops/fod/store"
	"github.com/sciops/fod/worker"
)

// Scheduler owns the three pool registries (transfer, stage, delete) and
// the two shared queued-id sets, and drives them from one 30-second loop.
type Scheduler struct {
	Store store.Store
	IO    adapter.GridIO

	TransferQueued *worker.QueuedIdSet
	DeletionQueued *worker.QueuedIdSet

	TransferPools *pool.Registry
	StagePools    *pool.Registry
	DeletionPools *pool.Registry

	// Interval is the nominal pass period; defaults to 30s.
	Interval time.Duration
	// CollectInterval is how often completed pool results are drained and
	// written back; defaults to 5s.
	CollectInterval time.Duration

	// TransferTimeout bounds a single filecopy call.
	TransferTimeout time.Duration
	// Overwrite is the default for file_operations.daemon.overwrite.
	Overwrite bool
	// StagingEnv is the process environment (including a swapped-in
	// X509_USER_PROXY) used for the single bring_online call issued per
	// tape batch each pass.
	StagingEnv []string

	// TransferCapacity and friends size a pool the first time its key is
	// seen. They default to 1 when nil.
	TransferCapacity func(link string) int64
	StageCapacity    func(site string) int64
	DeletionCapacity func(site string) int64

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New wires a Scheduler's three pool registries. Each registry sizes a new
// pool from the TransferCapacity, StageCapacity or DeletionCapacity field at
// the time the pool is created; a nil field means capacity 1.
func New(s store.Store, io adapter.GridIO, transferQueued, deletionQueued *worker.QueuedIdSet) *Scheduler {
	sch := &Scheduler{
		Store:           s,
		IO:              io,
		TransferQueued:  transferQueued,
		DeletionQueued:  deletionQueued,
		Interval:        30 * time.Second,
		CollectInterval: 5 * time.Second,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	sch.TransferPools = pool.NewRegistry(func(kind pool.Kind, key string) int64 {
		if sch.TransferCapacity != nil {
			return sch.TransferCapacity(key)
		}
		return 1
	})
	sch.StagePools = pool.NewRegistry(func(kind pool.Kind, key string) int64 {
		if sch.StageCapacity != nil {
			return sch.StageCapacity(key)
		}
		return 1
	})
	sch.DeletionPools = pool.NewRegistry(func(kind pool.Kind, key string) int64 {
		if sch.DeletionCapacity != nil {
			return sch.DeletionCapacity(key)
		}
		return 1
	})
	return sch
}

// Start launches the scheduler's main loop and its result collector as
// background goroutines.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	go func() {
		defer s.wg.Done()
		s.collectLoop()
	}()
}

// Stop signals both background goroutines to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(); err != nil {
			slog.Error(fmt.Sprintf("scheduler pass failed: %s", err))
		}
		select {
		case <-ticker.C:
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) collectLoop() {
	ticker := time.NewTicker(s.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.collectAll()
		case <-s.stop:
			s.collectAll()
			return
		}
	}
}

func (s *Scheduler) collectAll() {
	s.collect(s.DeletionPools, s.Store.WriteDeletionResult)
	s.collect(s.StagePools, s.Store.WriteStageResult)
	s.collect(s.TransferPools, s.Store.WriteTransferResult)
}

func (s *Scheduler) collect(reg *pool.Registry, write func(int64, worker.Outcome) error) {
	for _, mgr := range reg.All() {
		for taskId, out := range mgr.Drain() {
			if err := write(taskId, out); err != nil {
				slog.Error(fmt.Sprintf("writing result for task %d: %s", taskId, err))
			}
		}
	}
}

// RunOnce performs the seven ordered steps of a single scheduler pass. It
// is exported so tests can drive the scheduler deterministically instead
// of waiting on its ticker.
func (s *Scheduler) RunOnce() error {
	if err := s.drainNewDeletions(); err != nil {
		return fmt.Errorf("draining new deletions: %w", err)
	}
	if err := s.refreshDeletionQueuedSet(); err != nil {
		return fmt.Errorf("refreshing deletion queued set: %w", err)
	}
	if err := s.issueTapeStaging(); err != nil {
		return fmt.Errorf("issuing tape staging: %w", err)
	}
	if err := s.pollStagingTasks(); err != nil {
		return fmt.Errorf("polling staging tasks: %w", err)
	}
	if err := s.submitRunnableTransfers(); err != nil {
		return fmt.Errorf("submitting runnable transfers: %w", err)
	}
	if err := s.refreshTransferQueuedSet(); err != nil {
		return fmt.Errorf("refreshing transfer queued set: %w", err)
	}
	s.recyclePools()
	return nil
}

func (s *Scheduler) drainNewDeletions() error {
	rows, err := s.Store.NewDeletions()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.Store.MarkDeletionQueued(row.Id); err != nil {
			slog.Error(fmt.Sprintf("marking deletion %d queued: %s", row.Id, err))
			continue
		}
		s.DeletionQueued.Add(row.Id)

		mgr := s.DeletionPools.Get(pool.Delete, row.Site)
		row := row
		err := mgr.Submit(row.Id, func() worker.Outcome {
			return worker.ExecuteDelete(s.IO, s.DeletionQueued, row.Id,
				func() error { return s.Store.MarkDeletionActive(row.Id) }, row.File)
		})
		if err != nil {
			slog.Debug(fmt.Sprintf("deletion %d not resubmitted: %s", row.Id, err))
		}
	}
	return nil
}

func (s *Scheduler) refreshDeletionQueuedSet() error {
	ids, err := s.Store.DeletionQueuedIds()
	if err != nil {
		return err
	}
	s.DeletionQueued.Replace(ids)
	return nil
}

func (s *Scheduler) issueTapeStaging() error {
	batches, err := s.Store.TapeBatchesNeedingStage()
	if err != nil {
		return err
	}
	for _, batch := range batches {
		var errs []error
		var token string
		if overrider, ok := s.IO.(adapter.EnvOverrider); ok {
			errs, token = overrider.BringOnlineWithEnv(batch.PFNs, 0, 0, true, s.StagingEnv)
		} else {
			errs, token = s.IO.BringOnline(batch.PFNs, 0, 0, true)
		}

		// the token is recorded even when every file failed, so this
		// batch is never handed to bring_online a second time.
		if err := s.Store.SetBatchStageToken(batch.BatchId, token); err != nil {
			slog.Error(fmt.Sprintf("recording stage token for batch %s: %s", batch.BatchId, err))
		}
		for i, pfn := range batch.PFNs {
			taskId := batch.TaskIdByPFN[pfn]
			if i < len(errs) && errs[i] != nil {
				if err := s.Store.SetTaskFailedNoTiming(taskId, errs[i].Error()); err != nil {
					slog.Error(fmt.Sprintf("marking task %d failed: %s", taskId, err))
				}
				continue
			}
			if err := s.Store.SetTaskStaging(taskId); err != nil {
				slog.Error(fmt.Sprintf("marking task %d staging: %s", taskId, err))
			}
		}
	}
	return nil
}

func (s *Scheduler) pollStagingTasks() error {
	rows, err := s.Store.StagingTasks()
	if err != nil {
		return err
	}
	for _, row := range rows {
		mgr := s.StagePools.Get(pool.Stage, row.SourceSite)
		row := row
		err := mgr.Submit(row.TaskId, func() worker.Outcome {
			return worker.ExecuteStage(s.IO, row.TaskId, row.PFN, row.Token)
		})
		if err != nil {
			slog.Debug(fmt.Sprintf("stage poll %d not resubmitted: %s", row.TaskId, err))
		}
	}
	return nil
}

func (s *Scheduler) submitRunnableTransfers() error {
	rows, err := s.Store.RunnableTransfers()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.Store.MarkTransferQueued(row.Id); err != nil {
			slog.Error(fmt.Sprintf("marking transfer %d queued: %s", row.Id, err))
			continue
		}
		s.TransferQueued.Add(row.Id)

		link := row.SourceSite + "->" + row.DestSite
		mgr := s.TransferPools.Get(pool.Transfer, link)
		row := row
		err := mgr.Submit(row.Id, func() worker.Outcome {
			return worker.ExecuteTransfer(s.IO, s.TransferQueued, row.Id,
				func() error { return s.Store.MarkTransferActive(row.Id) },
				row.Source, row.Destination, s.Overwrite, row.ChecksumAlgo, row.Checksum, s.TransferTimeout)
		})
		if err != nil {
			slog.Debug(fmt.Sprintf("transfer %d not resubmitted: %s", row.Id, err))
		}
	}
	return nil
}

func (s *Scheduler) refreshTransferQueuedSet() error {
	ids, err := s.Store.TransferQueuedIds()
	if err != nil {
		return err
	}
	s.TransferQueued.Replace(ids)
	return nil
}

func (s *Scheduler) recyclePools() {
	s.DeletionPools.Recycle()
	s.StagePools.Recycle()
	s.TransferPools.Recycle()
}

// WaitForIdle drains and polls the three pool registries until every
// manager is ready-for-recycle (no in-flight work, no undrained results) or
// timeout elapses, returning true iff every pool went idle in time. Callers
// use this after Stop to let in-flight operations finish before the final
// cleanup sweep runs.
func (s *Scheduler) WaitForIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.collectAll()
		if allIdle(s.TransferPools) && allIdle(s.StagePools) && allIdle(s.DeletionPools) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func allIdle(reg *pool.Registry) bool {
	for _, mgr := range reg.All() {
		if !mgr.Recyclable() {
			return false
		}
	}
	return true
}
