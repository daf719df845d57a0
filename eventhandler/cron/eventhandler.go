// Copyright (c) 2017 - The Event Horizon authors.
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

package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
)

// ErrClosed is returned when scheduling on a closed EventHandler.
var ErrClosed = errors.New("cron event handler closed")

// EventHandler is a cron runner that inserts timed events into the event stream.
// It uses the cron syntax from https://github.com/gorhill/cronexpr.
//
// Triggered events are handled one at a time, in trigger order, by the inner
// handler. Combined with an async handler or an event bus the events of each
// aggregate are then dispatched in order like any other event.
type EventHandler struct {
	ed.EventHandler

	eventsCh chan data
	errCh    chan error
	logger   logrus.FieldLogger

	cctx   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runWg  sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Option is an option setter used to configure creation.
type Option func(*EventHandler)

// WithLogger sets the logger to use.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *EventHandler) {
		h.logger = l
	}
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(eventHandler ed.EventHandler, options ...Option) *EventHandler {
	ctx, cancel := context.WithCancel(context.Background())

	h := &EventHandler{
		EventHandler: eventHandler,
		eventsCh:     make(chan data),
		errCh:        make(chan error, 10),
		cctx:         ctx,
		cancel:       cancel,
	}

	for _, option := range options {
		option(h)
	}

	if h.logger == nil {
		h.logger = logrus.StandardLogger().WithField("component", "eventhandler/cron")
	}

	h.runWg.Add(1)

	go h.run()

	return h
}

// ScheduleEvent schedules an event to be sent on regular intervals, using
// a line in the crontab format to setup the timing. The eventFunc should create
// the event to send given the triggered time as input. Cancelling the context
// will stop the triggering of more events.
func (h *EventHandler) ScheduleEvent(ctx context.Context, cronLine string, eventFunc func(time.Time) ed.Event) error {
	expr, err := cronexpr.Parse(cronLine)
	if err != nil {
		return fmt.Errorf("could not parse cron line: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		for {
			nextTime := expr.Next(time.Now())
			if nextTime.IsZero() {
				h.logger.WithField("cron", cronLine).Debug("no more trigger times")

				return
			}

			select {
			case <-time.After(time.Until(nextTime)):
			case <-ctx.Done():
				return
			case <-h.cctx.Done():
				return
			}

			select {
			case h.eventsCh <- data{ctx, eventFunc(nextTime)}:
			case <-ctx.Done():
				return
			case <-h.cctx.Done():
				return
			}
		}
	}()

	return nil
}

// Errors returns the error channel, errors are of type *eventdispatch.EventHandlerError.
// It is closed by Close.
func (h *EventHandler) Errors() <-chan error {
	return h.errCh
}

// Close stops all scheduled events and waits for the one being handled.
func (h *EventHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return
	}

	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	close(h.eventsCh)
	h.runWg.Wait()
	close(h.errCh)
}

type data struct {
	ctx   context.Context
	event ed.Event
}

func (h *EventHandler) run() {
	defer h.runWg.Done()

	for data := range h.eventsCh {
		if err := h.HandleEvent(data.ctx, data.event); err != nil {
			err = &ed.EventHandlerError{Err: err, Event: data.event}

			select {
			case h.errCh <- err:
			default:
				h.logger.WithError(err).Error("missed error in cron event handler")
			}
		}
	}
}
