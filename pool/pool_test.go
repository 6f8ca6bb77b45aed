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

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sciops/fod/worker"
)

func TestManagerBoundsConcurrency(t *testing.T) {
	m := NewManager(Transfer, "jdp->kbase", 2)
	m.Start()
	defer m.Stop()

	var inFlight int32
	var maxObserved int32
	release := make(chan struct{})

	for i := int64(1); i <= 5; i++ {
		i := i
		err := m.Submit(i, func() worker.Outcome {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return worker.Outcome{ExitCode: 0}
		})
		assert.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
	close(release)

	assert.Eventually(t, func() bool {
		return len(m.Drain()) == 0 && m.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManagerDrainReturnsCompletedOutcomes(t *testing.T) {
	m := NewManager(Delete, "site-a", 4)
	m.Start()
	defer m.Stop()

	assert.NoError(t, m.Submit(1, func() worker.Outcome { return worker.Outcome{ExitCode: 0} }))

	var results map[int64]worker.Outcome
	assert.Eventually(t, func() bool {
		if r := m.Drain(); len(r) > 0 {
			results = r
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, results, int64(1))
	assert.Equal(t, 0, results[1].ExitCode)
}

func TestManagerRejectsDoubleSubmission(t *testing.T) {
	m := NewManager(Stage, "site-b", 1)
	m.Start()
	defer m.Stop()

	block := make(chan struct{})
	assert.NoError(t, m.Submit(7, func() worker.Outcome {
		<-block
		return worker.Outcome{ExitCode: 0}
	}))

	time.Sleep(10 * time.Millisecond)
	err := m.Submit(7, func() worker.Outcome { return worker.Outcome{ExitCode: 0} })
	assert.Error(t, err)
	close(block)
}

func TestRegistryRecyclesIdleManagers(t *testing.T) {
	r := NewRegistry(func(kind Kind, key string) int64 { return 3 })

	m := r.Get(Transfer, "jdp->kbase")
	assert.Equal(t, int64(3), m.Capacity())
	assert.Equal(t, 1, r.Len())

	removed := r.Recycle()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryKeepsBusyManagers(t *testing.T) {
	r := NewRegistry(nil)
	m := r.Get(Delete, "site-c")

	block := make(chan struct{})
	assert.NoError(t, m.Submit(1, func() worker.Outcome {
		<-block
		return worker.Outcome{ExitCode: 0}
	}))

	removed := r.Recycle()
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, r.Len())
	close(block)
}
