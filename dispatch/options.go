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
	"fmt"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBatchSize is the number of tasks handled in one transaction.
	DefaultBatchSize = 50
	// DefaultRetryInterval is the wait before retrying a failed task.
	DefaultRetryInterval = 5 * time.Second
	// DefaultErrorBuffer is the size of the error channel.
	DefaultErrorBuffer = 100
)

// Option is an option setter used to configure creation.
type Option func(*options) error

type options struct {
	policy           any
	executor         Executor
	txManager        ed.TransactionManager
	retryPolicy      ed.RetryPolicy
	batchSize        int
	retryInterval    time.Duration
	maxRetryInterval time.Duration
	logger           logrus.FieldLogger
	errorBuffer      int
}

func defaultOptions() *options {
	return &options{
		executor:      GoroutineExecutor(),
		txManager:     ed.NoTransactionManager,
		retryPolicy:   ed.DefaultRetryPolicy(),
		batchSize:     DefaultBatchSize,
		retryInterval: DefaultRetryInterval,
		logger:        logrus.StandardLogger().WithField("component", "dispatch"),
		errorBuffer:   DefaultErrorBuffer,
	}
}

// WithSequencingPolicy sets the policy deciding which tasks are handled in
// order. Defaults to ordering events per aggregate and no ordering for other
// task types.
func WithSequencingPolicy[T any](p ed.SequencingPolicy[T]) Option {
	return func(o *options) error {
		if p == nil {
			return fmt.Errorf("%w: missing sequencing policy", ErrInvalidOption)
		}

		o.policy = p

		return nil
	}
}

// WithExecutor sets the executor that runs drain turns. Defaults to a
// goroutine per turn.
func WithExecutor(e Executor) Option {
	return func(o *options) error {
		if e == nil {
			return fmt.Errorf("%w: missing executor", ErrInvalidOption)
		}

		o.executor = e

		return nil
	}
}

// WithTransactionManager sets the transaction manager used for every batch.
func WithTransactionManager(tm ed.TransactionManager) Option {
	return func(o *options) error {
		if tm == nil {
			return fmt.Errorf("%w: missing transaction manager", ErrInvalidOption)
		}

		o.txManager = tm

		return nil
	}
}

// WithRetryPolicy sets what to do when handling a task fails.
func WithRetryPolicy(p ed.RetryPolicy) Option {
	return func(o *options) error {
		if !p.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidOption, p)
		}

		o.retryPolicy = p

		return nil
	}
}

// WithBatchSize sets the max number of tasks handled in one transaction.
func WithBatchSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOption, n)
		}

		o.batchSize = n

		return nil
	}
}

// WithRetryInterval sets the wait before a failed task is retried.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("%w: negative retry interval %s", ErrInvalidOption, d)
		}

		o.retryInterval = d

		return nil
	}
}

// WithRetryBackoff makes the retry wait double for every consecutive failure,
// up to max. The wait goes back to the retry interval after a success. It
// needs a non-zero retry interval.
func WithRetryBackoff(max time.Duration) Option {
	return func(o *options) error {
		if max < 0 {
			return fmt.Errorf("%w: negative max retry interval %s", ErrInvalidOption, max)
		}

		o.maxRetryInterval = max

		return nil
	}
}

// WithLogger sets the logger to use.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) error {
		if l == nil {
			return fmt.Errorf("%w: missing logger", ErrInvalidOption)
		}

		o.logger = l

		return nil
	}
}

// WithErrorBuffer sets the size of the error channel. Errors that do not fit
// are logged.
func WithErrorBuffer(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("%w: negative error buffer %d", ErrInvalidOption, n)
		}

		o.errorBuffer = n

		return nil
	}
}

func (o *options) validate() error {
	if o.retryInterval == 0 && o.maxRetryInterval > 0 {
		return fmt.Errorf("%w: retry backoff to %s without a retry interval",
			ErrInvalidOption, o.maxRetryInterval)
	}

	if o.maxRetryInterval == 0 {
		o.maxRetryInterval = o.retryInterval
	}

	if o.maxRetryInterval < o.retryInterval {
		return fmt.Errorf("%w: max retry interval %s is below the retry interval %s",
			ErrInvalidOption, o.maxRetryInterval, o.retryInterval)
	}

	return nil
}
