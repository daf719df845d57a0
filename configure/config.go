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

// Package configure sets up dispatchers from configuration and binds event
// handlers to them with shared collaborators.
package configure

import (
	"fmt"
	"os"
	"strconv"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
)

// Config is the configuration of the dispatchers of bound handlers.
type Config struct {
	// BatchSize is the max number of events handled in one transaction.
	BatchSize int
	// RetryInterval is the wait before a failed event is retried.
	RetryInterval time.Duration
	// MaxRetryInterval enables a doubling retry wait up to it, if above
	// RetryInterval.
	MaxRetryInterval time.Duration
	// RetryPolicy decides what happens when handling fails.
	RetryPolicy ed.RetryPolicy
	// Workers is the max number of drain turns running at once, shared by all
	// bound handlers. Zero means one goroutine per turn.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     dispatch.DefaultBatchSize,
		RetryInterval: dispatch.DefaultRetryInterval,
		RetryPolicy:   ed.DefaultRetryPolicy(),
	}
}

// FromEnv overlays <PREFIX>_* environment variables onto the default
// configuration: BATCH_SIZE, RETRY_INTERVAL, MAX_RETRY_INTERVAL (durations
// like "5s"), RETRY_POLICY (like "retry_transaction") and WORKERS.
func FromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(prefix + "_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &Error{Err: err, Op: OpParse, Name: prefix + "_BATCH_SIZE"}
		}

		cfg.BatchSize = n
	}

	if v := os.Getenv(prefix + "_RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, &Error{Err: err, Op: OpParse, Name: prefix + "_RETRY_INTERVAL"}
		}

		cfg.RetryInterval = d
	}

	if v := os.Getenv(prefix + "_MAX_RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, &Error{Err: err, Op: OpParse, Name: prefix + "_MAX_RETRY_INTERVAL"}
		}

		cfg.MaxRetryInterval = d
	}

	if v := os.Getenv(prefix + "_RETRY_POLICY"); v != "" {
		p, err := ed.ParseRetryPolicy(v)
		if err != nil {
			return cfg, &Error{Err: err, Op: OpParse, Name: prefix + "_RETRY_POLICY"}
		}

		cfg.RetryPolicy = p
	}

	if v := os.Getenv(prefix + "_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &Error{Err: err, Op: OpParse, Name: prefix + "_WORKERS"}
		}

		cfg.Workers = n
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return &Error{Err: fmt.Errorf("%w: batch size %d", dispatch.ErrInvalidOption, c.BatchSize), Op: OpValidate, Name: "BatchSize"}
	case c.RetryInterval < 0:
		return &Error{Err: fmt.Errorf("%w: retry interval %s", dispatch.ErrInvalidOption, c.RetryInterval), Op: OpValidate, Name: "RetryInterval"}
	case c.MaxRetryInterval != 0 && (c.MaxRetryInterval < c.RetryInterval || c.RetryInterval == 0):
		return &Error{Err: fmt.Errorf("%w: max retry interval %s", dispatch.ErrInvalidOption, c.MaxRetryInterval), Op: OpValidate, Name: "MaxRetryInterval"}
	case !c.RetryPolicy.Valid():
		return &Error{Err: fmt.Errorf("%w: %s", ed.ErrUnknownRetryPolicy, c.RetryPolicy), Op: OpValidate, Name: "RetryPolicy"}
	case c.Workers < 0:
		return &Error{Err: fmt.Errorf("%w: workers %d", dispatch.ErrInvalidOption, c.Workers), Op: OpValidate, Name: "Workers"}
	}

	return nil
}

// Options returns the dispatcher options of the configuration. The executor
// for Workers is not included, it is shared by a Container.
func (c Config) Options() []dispatch.Option {
	opts := []dispatch.Option{
		dispatch.WithBatchSize(c.BatchSize),
		dispatch.WithRetryInterval(c.RetryInterval),
		dispatch.WithRetryPolicy(c.RetryPolicy),
	}

	if c.MaxRetryInterval > 0 {
		opts = append(opts, dispatch.WithRetryBackoff(c.MaxRetryInterval))
	}

	return opts
}
