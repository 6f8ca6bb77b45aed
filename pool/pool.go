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

// Package pool bounds the number of concurrent file operations the daemon
// runs against a single link or site. One Manager exists per (kind, key)
// pair -- a transfer link such as "jdp->kbase", a staging site, or a
// deletion site -- and owns a weighted semaphore sized to that pair's
// configured concurrency limit.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sciops/fod/worker"
)

// Kind distinguishes the three families of work a Manager can run.
type Kind int

const (
	Transfer Kind = iota
	Stage
	Delete
)

func (k Kind) String() string {
	switch k {
	case Transfer:
		return "transfer"
	case Stage:
		return "stage"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Manager runs a bounded number of worker.Execute* calls concurrently for
// one (kind, key) pair and buffers their outcomes until a caller drains
// them.
type Manager struct {
	Kind     Kind
	Key      string
	Channels Channels

	capacity int64
	sem      *semaphore.Weighted

	mu      sync.Mutex
	pending map[int64]struct{}
	results map[int64]worker.Outcome
}

// Channels is the client-facing surface of a Manager, following the
// request/response idiom used throughout this daemon's channel-actor
// components.
type Channels struct {
	Submit chan submission
	Stop   chan struct{}
	Error  chan error
}

type submission struct {
	taskId int64
	run    func() worker.Outcome
}

// NewManager returns a Manager for kind/key bounded to capacity concurrent
// in-flight operations. capacity must be at least 1.
func NewManager(kind Kind, key string, capacity int64) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		Kind:     kind,
		Key:      key,
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
		pending:  make(map[int64]struct{}),
		results:  make(map[int64]worker.Outcome),
		Channels: Channels{
			Submit: make(chan submission, 256),
			Stop:   make(chan struct{}),
			Error:  make(chan error, 8),
		},
	}
}

// Start launches the Manager's dispatch goroutine.
func (m *Manager) Start() {
	go m.process()
}

// Stop halts dispatch. Outcomes already in flight still run to completion;
// callers should Drain after Stop to retrieve them.
func (m *Manager) Stop() {
	close(m.Channels.Stop)
}

// Submit enqueues taskId to run via run as soon as a concurrency slot opens
// up. If taskId is already pending or has an undrained result, Submit
// reports an error rather than double-dispatching the same task.
func (m *Manager) Submit(taskId int64, run func() worker.Outcome) error {
	m.mu.Lock()
	if _, inFlight := m.pending[taskId]; inFlight {
		m.mu.Unlock()
		return fmt.Errorf("task %d is already running in pool %s/%s", taskId, m.Kind, m.Key)
	}
	if _, undrained := m.results[taskId]; undrained {
		m.mu.Unlock()
		return fmt.Errorf("task %d has an undrained result in pool %s/%s", taskId, m.Kind, m.Key)
	}
	m.pending[taskId] = struct{}{}
	m.mu.Unlock()

	m.Channels.Submit <- submission{taskId: taskId, run: run}
	return nil
}

func (m *Manager) process() {
	for {
		select {
		case s := <-m.Channels.Submit:
			go m.run(s)
		case <-m.Channels.Stop:
			return
		}
	}
}

func (m *Manager) run(s submission) {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		m.mu.Lock()
		delete(m.pending, s.taskId)
		m.mu.Unlock()
		select {
		case m.Channels.Error <- err:
		default:
		}
		return
	}
	defer m.sem.Release(1)

	out := s.run()

	m.mu.Lock()
	delete(m.pending, s.taskId)
	m.results[s.taskId] = out
	m.mu.Unlock()
}

// Drain atomically removes and returns every completed outcome accumulated
// since the last Drain. The scheduler calls this on its poll tick to write
// terminal results back to the database.
func (m *Manager) Drain() map[int64]worker.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		return nil
	}
	out := m.results
	m.results = make(map[int64]worker.Outcome)
	return out
}

// InFlight reports the number of tasks currently executing or awaiting a
// concurrency slot.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Recyclable reports whether the Manager has no pending work and no
// undrained results, meaning it can be safely removed from a Registry when
// its link or site no longer has runnable tasks.
func (m *Manager) Recyclable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) == 0 && len(m.results) == 0
}

// Capacity returns the configured concurrency bound for this Manager.
func (m *Manager) Capacity() int64 {
	return m.capacity
}
