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

package worker

import "sync"

// QueuedIdSet is the shared in-memory structure backing per-task
// cancellation visibility: a set of task ids currently in the 'queued'
// state for one op type (transfer or deletion), guarded by a mutex visible
// to every worker goroutine. The scheduler rebuilds it from the database
// every pass; workers perform an atomic test-and-remove on it before
// issuing any I/O, so a row flipped to 'cancelled' after being queued but
// before a worker picks it up is never executed.
//
// Because workers here are goroutines rather than subprocesses, a
// sync.Mutex-protected map gives the same happens-before guarantee a
// shared-memory list with a lock would, without any IPC machinery.
type QueuedIdSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewQueuedIdSet returns an empty set.
func NewQueuedIdSet() *QueuedIdSet {
	return &QueuedIdSet{ids: make(map[int64]struct{})}
}

// Add inserts id into the set. The scheduler calls it after marking a row
// queued and before submitting the task to its pool.
func (s *QueuedIdSet) Add(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// TestAndRemove atomically checks for id's presence and removes it,
// reporting whether it was present. This is the primitive every worker's
// preamble uses to decide whether its task is still live.
func (s *QueuedIdSet) TestAndRemove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.ids[id]; !found {
		return false
	}
	delete(s.ids, id)
	return true
}

// Replace atomically swaps the set's contents for the given ids, used by
// the scheduler to rebuild the set from a fresh `SELECT id WHERE
// status='queued'` query.
func (s *QueuedIdSet) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Contains reports whether id is currently a member of the set. Exposed
// chiefly so tests can verify that a cancelled task is never re-queued.
func (s *QueuedIdSet) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.ids[id]
	return found
}

// Snapshot returns a copy of the set's current ids, for diagnostics and
// tests only -- never used on the worker's hot path.
func (s *QueuedIdSet) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}
