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

package pool

import "sync"

type registryKey struct {
	kind Kind
	key  string
}

// Registry owns every live Manager, creating one on first use and letting
// the scheduler recycle ones that have gone idle. A transfer link, a
// staging site, and a deletion site each get their own Manager so a burst
// of work on one link can never starve concurrency slots meant for
// another.
type Registry struct {
	mu       sync.Mutex
	managers map[registryKey]*Manager
	// CapacityFor returns the concurrency bound for a given (kind, key)
	// pair, looked up from configuration. It defaults to 1 when unset.
	CapacityFor func(kind Kind, key string) int64
}

// NewRegistry returns an empty Registry. capacityFor may be nil, in which
// case every Manager gets a capacity of 1.
func NewRegistry(capacityFor func(kind Kind, key string) int64) *Registry {
	return &Registry{
		managers:    make(map[registryKey]*Manager),
		CapacityFor: capacityFor,
	}
}

// Get returns the Manager for (kind, key), creating and starting it if this
// is the first time it has been requested.
func (r *Registry) Get(kind Kind, key string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	rk := registryKey{kind: kind, key: key}
	if m, found := r.managers[rk]; found {
		return m
	}

	capacity := int64(1)
	if r.CapacityFor != nil {
		if c := r.CapacityFor(kind, key); c > 0 {
			capacity = c
		}
	}
	m := NewManager(kind, key, capacity)
	m.Start()
	r.managers[rk] = m
	return m
}

// Recycle stops and discards every Manager that currently has no pending
// work and no undrained results, freeing its goroutine and semaphore. The
// scheduler calls this once at the end of each pass; draining is done by its
// separate collector, so a manager still holding results is kept.
func (r *Registry) Recycle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for rk, m := range r.managers {
		if m.Recyclable() {
			m.Stop()
			delete(r.managers, rk)
			removed++
		}
	}
	return removed
}

// All returns a snapshot of every live Manager, for the scheduler's
// per-pass drain step.
func (r *Registry) All() []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	return out
}

// Len reports the number of live managers, chiefly for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
