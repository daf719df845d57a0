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

import "sync"

// queue is a FIFO of tasks that is safe for concurrent use.
type queue[T any] struct {
	mu    sync.Mutex
	tasks []T
}

func (q *queue[T]) push(task T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
}

// pushAndSubmit appends a task and runs submit while no other goroutine can
// take it. The task is removed again if submit fails.
func (q *queue[T]) pushAndSubmit(task T, submit func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)

	if err := submit(); err != nil {
		var zero T
		q.tasks[len(q.tasks)-1] = zero
		q.tasks = q.tasks[:len(q.tasks)-1]

		return err
	}

	return nil
}

// pop removes and returns up to n tasks from the front of the queue.
func (q *queue[T]) pop(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.tasks) {
		n = len(q.tasks)
	}

	if n == 0 {
		return nil
	}

	batch := make([]T, n)
	copy(batch, q.tasks)

	if n == len(q.tasks) {
		q.tasks = nil
	} else {
		q.tasks = q.tasks[n:]
	}

	return batch
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// clear drops all tasks and returns how many there were.
func (q *queue[T]) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	q.tasks = nil

	return n
}
