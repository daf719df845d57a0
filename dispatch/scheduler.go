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
	"sync"
	"time"

	"github.com/jpillora/backoff"
	ed "github.com/looplab/eventdispatch"
	"github.com/sirupsen/logrus"
)

type state int

const (
	// Created, no drain turn submitted yet.
	idle state = iota
	// A drain turn is submitted or running.
	running
	// The queue was found empty or dropped, no new tasks are accepted.
	shuttingDown
	// The shutdown callback has run.
	terminated
)

// scheduler drains one queue in batches, with at most one drain turn running
// at any time. Keyed schedulers own their queue, unordered schedulers share
// the queue of the dispatcher.
type scheduler[T any] struct {
	d          *Dispatcher[T]
	key        any
	queue      *queue[T]
	logger     logrus.FieldLogger
	onShutdown func(*scheduler[T])

	// Only used by the running drain turn.
	backoff *backoff.Backoff

	mu    sync.Mutex
	state state
}

func newBackoff(min, max time.Duration) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
	}
}

// enqueue adds a task to the queue and submits a drain turn if none is
// running. It returns false if the scheduler is shutting down, in which case
// the task must go to a new scheduler.
func (s *scheduler[T]) enqueue(task T) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case shuttingDown, terminated:
		return false, nil
	case running:
		s.queue.push(task)

		return true, nil
	}

	s.d.wg.Add(1)

	if err := s.queue.pushAndSubmit(task, func() error {
		return s.d.opts.executor.Execute(s.run)
	}); err != nil {
		s.d.wg.Done()

		s.state = shuttingDown
		s.onShutdown(s)
		s.state = terminated

		return true, fmt.Errorf("could not submit task: %w", err)
	}

	s.state = running

	return true, nil
}

// run is a drain turn. When the tasks queued at its start are handled it
// yields the executor by submitting a new turn if there is more work, or shuts
// the scheduler down.
func (s *scheduler[T]) run() {
	defer s.d.wg.Done()

	for {
		if !s.drain() {
			return
		}

		s.mu.Lock()
		if s.queue.len() == 0 {
			s.state = shuttingDown
			s.mu.Unlock()
			s.shutdown()

			return
		}
		s.mu.Unlock()

		s.d.wg.Add(1)

		err := s.d.opts.executor.Execute(s.run)
		if err == nil {
			return
		}

		s.d.wg.Done()
		s.logger.WithError(err).Debug("could not yield drain turn, continuing")
	}
}

// drain handles the tasks present when it is called. It returns false if the
// scheduler terminated.
func (s *scheduler[T]) drain() bool {
	limit := s.queue.len()

	for processed := 0; ; {
		if s.d.ctx.Err() != nil {
			s.terminate(true, 0)

			return false
		}

		if processed >= limit {
			return true
		}

		batch := s.queue.pop(s.d.opts.batchSize)
		if len(batch) == 0 {
			return true
		}

		if !s.handleBatch(batch) {
			return false
		}

		processed += len(batch)
	}
}

// handleBatch handles a batch until it is done, resolving failures with the
// retry policy. It returns false if the scheduler terminated.
func (s *scheduler[T]) handleBatch(batch []T) bool {
	for len(batch) > 0 {
		var ok bool
		if batch, ok = s.attempt(batch); !ok {
			return false
		}
	}

	return true
}

// attempt handles a batch in one transaction. It returns the tasks that must
// be attempted again, and false if the scheduler terminated.
func (s *scheduler[T]) attempt(batch []T) ([]T, bool) {
	ctx, tx, err := s.d.opts.txManager.Begin(s.d.ctx)
	if err != nil {
		return s.batchFailed(fmt.Errorf("could not begin transaction: %w", err), batch)
	}

	// Finishing the transaction must work also while closing.
	txCtx := context.WithoutCancel(ctx)

	for i, task := range batch {
		err := s.handle(ctx, task)
		if err == nil {
			continue
		}

		s.d.report(&Error{Err: err, Task: task, Key: s.key})

		switch s.d.opts.retryPolicy {
		case ed.SkipFailedEvent:
			s.logger.WithError(err).Debug("skipping failed task")

			continue
		case ed.RetryTransaction:
			if err := tx.Rollback(txCtx); err != nil {
				s.d.report(&Error{Err: fmt.Errorf("could not roll back transaction: %w", err), Key: s.key})
			}

			return batch, s.wait(len(batch))
		case ed.AbortScheduler:
			if err := tx.Commit(txCtx); err != nil {
				s.d.report(&Error{Err: fmt.Errorf("could not commit transaction: %w", err), Key: s.key})
			}

			s.terminate(s.key != nil, len(batch)-i-1)

			return nil, false
		default:
			if err := tx.Commit(txCtx); err != nil {
				s.d.report(&Error{Err: fmt.Errorf("could not commit transaction: %w", err), Key: s.key})

				return batch, s.wait(len(batch))
			}

			rest := batch[i:]

			return rest, s.wait(len(rest))
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return s.batchFailed(fmt.Errorf("could not commit transaction: %w", err), batch)
	}

	if s.backoff != nil {
		s.backoff.Reset()
	}

	return nil, true
}

// batchFailed resolves a failure of the transaction itself.
func (s *scheduler[T]) batchFailed(err error, batch []T) ([]T, bool) {
	s.d.report(&Error{Err: err, Key: s.key})

	switch p := s.d.opts.retryPolicy; {
	case p.Retries():
		return batch, s.wait(len(batch))
	case p == ed.AbortScheduler:
		s.terminate(s.key != nil, len(batch))

		return nil, false
	default:
		s.logger.WithField("dropped", len(batch)).Warn("skipping failed batch")

		return nil, true
	}
}

func (s *scheduler[T]) handle(ctx context.Context, task T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return s.d.handler.Handle(ctx, task)
}

// wait blocks until the next retry. It returns false, after terminating the
// scheduler, if the dispatcher was closed while waiting.
func (s *scheduler[T]) wait(pending int) bool {
	var delay time.Duration
	if s.backoff != nil {
		delay = s.backoff.Duration()
	}

	s.logger.WithField("delay", delay).Warn("retrying failed task")

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.d.ctx.Done():
		s.terminate(true, pending)

		return false
	}
}

// terminate shuts the scheduler down early, dropping pending tasks of the
// current batch and optionally everything queued.
func (s *scheduler[T]) terminate(dropQueue bool, pending int) {
	s.mu.Lock()
	s.state = shuttingDown

	dropped := pending
	if dropQueue {
		dropped += s.queue.clear()
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.WithField("dropped", dropped).Warn("dropping unhandled tasks")
	}

	s.shutdown()
}

func (s *scheduler[T]) shutdown() {
	s.onShutdown(s)

	s.mu.Lock()
	s.state = terminated
	s.mu.Unlock()
}
