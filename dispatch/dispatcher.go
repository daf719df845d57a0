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

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/sequencing"
	"github.com/sirupsen/logrus"
)

// Dispatcher hands tasks to a handler asynchronously. Tasks with the same
// sequence identifier are handled one at a time in the order they were
// scheduled, all other tasks are handled concurrently.
type Dispatcher[T any] struct {
	handler Handler[T]
	policy  ed.SequencingPolicy[T]
	opts    *options
	logger  logrus.FieldLogger

	registry registry[T]
	shared   queue[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan *Error

	closed   bool
	closedMu sync.RWMutex
}

// NewDispatcher creates a Dispatcher handling tasks with h.
func NewDispatcher[T any](h Handler[T], options ...Option) (*Dispatcher[T], error) {
	if h == nil {
		return nil, fmt.Errorf("%w: missing handler", ErrInvalidOption)
	}

	opts := defaultOptions()

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(opts); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("error while applying option: %w", err)
	}

	var policy ed.SequencingPolicy[T]

	if opts.policy != nil {
		p, ok := opts.policy.(ed.SequencingPolicy[T])
		if !ok {
			return nil, fmt.Errorf("error while applying option: %w: sequencing policy %T does not match the task type",
				ErrInvalidOption, opts.policy)
		}

		policy = p
	} else {
		policy = defaultSequencingPolicy[T]()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher[T]{
		handler: h,
		policy:  policy,
		opts:    opts,
		logger:  opts.logger,
		ctx:     ctx,
		cancel:  cancel,
		errCh:   make(chan *Error, opts.errorBuffer),
	}, nil
}

// defaultSequencingPolicy orders events per aggregate. Other task types have
// no ordering constraint.
func defaultSequencingPolicy[T any]() ed.SequencingPolicy[T] {
	if p, ok := any(sequencing.SequentialPerAggregate()).(ed.SequencingPolicy[T]); ok {
		return p
	}

	return ed.SequencingPolicyFunc[T](func(T) any { return nil })
}

// Schedule queues a task for handling. It returns once the task is queued,
// the outcome of handling it is only visible through the handler and the
// Errors channel.
func (d *Dispatcher[T]) Schedule(task T) error {
	d.closedMu.RLock()
	defer d.closedMu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	key := d.policy.SequenceIdentifierFor(task)
	if key == nil {
		d.logger.Debug("scheduling task for concurrent handling")

		_, err := d.newScheduler(nil, &d.shared).enqueue(task)

		return err
	}

	if !ed.IsComparable(key) {
		return fmt.Errorf("%w: %T", ErrUncomparableIdentifier, key)
	}

	d.logger.WithField("sequence", key).Debug("scheduling task for sequential handling")

	// The scheduler found can be shutting down after its queue ran empty,
	// in which case it rejects the task and is replaced. This converges
	// quickly since the window between a scheduler finding its queue empty
	// and removing itself is short.
	for {
		s, ok := d.registry.get(key)
		if !ok {
			fresh := d.newScheduler(key, &queue[T]{})
			if _, loaded := d.registry.putIfAbsent(key, fresh); loaded {
				continue
			}

			s = fresh
		}

		accepted, err := s.enqueue(task)
		if accepted {
			return err
		}

		d.registry.removeIf(key, s)
	}
}

// Errors returns a channel with all errors from handling tasks. It is closed
// when the dispatcher is closed.
func (d *Dispatcher[T]) Errors() <-chan *Error {
	return d.errCh
}

// Close stops accepting tasks and waits for the running drain turns to stop.
// Running retry waits are interrupted and queued tasks are dropped.
func (d *Dispatcher[T]) Close() error {
	d.closedMu.Lock()
	if d.closed {
		d.closedMu.Unlock()

		return nil
	}

	d.closed = true
	d.closedMu.Unlock()

	d.cancel()
	d.wg.Wait()

	if n := d.shared.clear(); n > 0 {
		d.logger.WithField("dropped", n).Warn("dropping unhandled tasks on close")
	}

	close(d.errCh)

	return nil
}

func (d *Dispatcher[T]) newScheduler(key any, q *queue[T]) *scheduler[T] {
	s := &scheduler[T]{
		d:          d,
		key:        key,
		queue:      q,
		logger:     d.logger,
		onShutdown: func(*scheduler[T]) {},
	}

	if key != nil {
		s.logger = d.logger.WithField("sequence", key)
		s.onShutdown = func(s *scheduler[T]) {
			d.registry.removeIf(key, s)
		}
	}

	if d.opts.retryInterval > 0 {
		s.backoff = newBackoff(d.opts.retryInterval, d.opts.maxRetryInterval)
	}

	return s
}

func (d *Dispatcher[T]) report(err *Error) {
	select {
	case d.errCh <- err:
	default:
		d.logger.WithError(err).Error("missed error in dispatcher")
	}
}
