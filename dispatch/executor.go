// Copyright (c) 2026 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor runs drain turns of schedulers. Execute must not block until f has
// run, and returns an error if f will never run.
type Executor interface {
	Execute(f func()) error
}

// ExecutorFunc is a function that can be used as an executor.
type ExecutorFunc func(func()) error

// Execute implements the Execute method of the Executor interface.
func (fn ExecutorFunc) Execute(f func()) error {
	return fn(f)
}

// GoroutineExecutor returns an executor that runs every drain turn in its own
// goroutine.
func GoroutineExecutor() Executor {
	return ExecutorFunc(func(f func()) error {
		go f()

		return nil
	})
}

// BoundedExecutor runs at most a fixed number of drain turns at the same
// time. Turns over the limit wait for a free slot without blocking Execute.
type BoundedExecutor struct {
	sem    *semaphore.Weighted
	closed atomic.Bool
}

// NewBoundedExecutor creates a BoundedExecutor running at most n turns at once.
func NewBoundedExecutor(n int) (*BoundedExecutor, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: executor size must be positive, got %d", ErrInvalidOption, n)
	}

	return &BoundedExecutor{
		sem: semaphore.NewWeighted(int64(n)),
	}, nil
}

// Execute implements the Execute method of the Executor interface.
func (e *BoundedExecutor) Execute(f func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	go func() {
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer e.sem.Release(1)

		f()
	}()

	return nil
}

// Close stops the executor from accepting new work. Work already accepted
// still runs.
func (e *BoundedExecutor) Close() error {
	e.closed.Store(true)

	return nil
}
