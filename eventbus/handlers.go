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

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

// Handlers keeps the handlers added to an event bus. Each handler gets a
// dispatcher of its own, so that a slow or failing handler never holds up
// the others, and events of one aggregate reach a handler in order.
type Handlers struct {
	options  []async.Option
	logger   logrus.FieldLogger
	handlers map[ed.EventHandlerType]*async.EventHandler
	mu       sync.RWMutex
	errCh    chan error
	wg       sync.WaitGroup
	// closed stops adding, errClosed stops reporting.
	closed    bool
	errClosed bool
}

// ErrBusClosed is returned when adding a handler to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// ErrAsyncHandler is returned when adding a handler that is already async. The
// bus would consider its events handled, and ack them, as soon as they are
// scheduled. Use async.Configure to pass async options instead.
var ErrAsyncHandler = errors.New("handler is already async")

// NewHandlers creates a Handlers, the options are used for every added
// handler.
func NewHandlers(logger logrus.FieldLogger, options ...async.Option) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "eventbus")
	}

	return &Handlers{
		options:  append([]async.Option{async.WithLogger(logger)}, options...),
		logger:   logger,
		handlers: map[ed.EventHandlerType]*async.EventHandler{},
		errCh:    make(chan error, 100),
	}
}

// Add adds a handler. Only one handler per handler type can be added. Options
// attached to the handler with async.Configure are applied after those of the
// bus.
func (hs *Handlers) Add(m ed.EventMatcher, h ed.EventHandler) (*async.EventHandler, error) {
	if m == nil {
		return nil, ed.ErrMissingMatcher
	}

	if h == nil {
		return nil, ed.ErrMissingHandler
	}

	if async.IsAsync(h) {
		return nil, ErrAsyncHandler
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.closed {
		return nil, ErrBusClosed
	}

	if _, ok := hs.handlers[h.HandlerType()]; ok {
		return nil, ed.ErrHandlerAlreadyAdded
	}

	options := append(hs.options[:len(hs.options):len(hs.options)], async.OptionsFor(h)...)

	a, err := async.NewEventHandler(h, options...)
	if err != nil {
		return nil, fmt.Errorf("could not create handler: %w", err)
	}

	hs.handlers[h.HandlerType()] = a

	hs.wg.Add(1)

	go hs.forwardErrors(a)

	return a, nil
}

// Remove closes and removes a handler, used when a subscription could not
// be set up.
func (hs *Handlers) Remove(t ed.EventHandlerType) {
	hs.mu.Lock()
	a, ok := hs.handlers[t]
	delete(hs.handlers, t)
	hs.mu.Unlock()

	if ok {
		if err := a.Close(); err != nil {
			hs.logger.WithError(err).Error("could not close handler")
		}
	}
}

// Get returns an added handler.
func (hs *Handlers) Get(t ed.EventHandlerType) (*async.EventHandler, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	a, ok := hs.handlers[t]

	return a, ok
}

// Errors returns the errors of all handlers and those reported.
func (hs *Handlers) Errors() <-chan error {
	return hs.errCh
}

// Report sends an error of the bus itself, like a failed receive.
func (hs *Handlers) Report(ctx context.Context, event ed.Event, err error) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	if hs.errClosed {
		hs.logger.WithError(err).Error("missed error in event bus")

		return
	}

	select {
	case hs.errCh <- &ed.EventBusError{Err: err, Ctx: ctx, Event: event}:
	default:
		hs.logger.WithError(err).Error("missed error in event bus")
	}
}

// Close closes all handlers, queued events are dropped without being acked.
func (hs *Handlers) Close() error {
	hs.mu.Lock()
	if hs.closed {
		hs.mu.Unlock()

		return nil
	}

	hs.closed = true
	handlers := hs.handlers
	hs.handlers = map[ed.EventHandlerType]*async.EventHandler{}
	hs.mu.Unlock()

	for _, a := range handlers {
		if err := a.Close(); err != nil {
			hs.logger.WithError(err).Error("could not close handler")
		}
	}

	hs.wg.Wait()

	hs.mu.Lock()
	hs.errClosed = true
	close(hs.errCh)
	hs.mu.Unlock()

	return nil
}

func (hs *Handlers) forwardErrors(a *async.EventHandler) {
	defer hs.wg.Done()

	for err := range a.Errors() {
		hs.Report(err.Ctx, err.Event,
			fmt.Errorf("could not handle event (%s): %w", a.HandlerType(), err.Err))
	}
}
