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

package async

import (
	"context"
	"fmt"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
)

// NewMiddleware returns a new async handling middleware that returns any errors
// on a error channel. Every wrapped handler gets a dispatcher of its own,
// configured with the options, which are validated up front.
func NewMiddleware(options ...Option) (ed.EventHandlerMiddleware, chan *Error, error) {
	// Build and close one handler to reject bad options before the first use.
	probe, err := NewEventHandler(ed.EventHandlerFunc(func(context.Context, ed.Event) error {
		return nil
	}), options...)
	if err != nil {
		return nil, nil, err
	}

	if err := probe.Close(); err != nil {
		return nil, nil, err
	}

	errCh := make(chan *Error, dispatch.DefaultErrorBuffer)

	return ed.EventHandlerMiddleware(func(h ed.EventHandler) ed.EventHandler {
		opts := append(options[:len(options):len(options)], withErrors(errCh))

		a, err := NewEventHandler(h, opts...)
		if err != nil {
			return &failedHandler{h: h, err: err}
		}

		return a
	}), errCh, nil
}

// failedHandler stands in for a handler that could not be made async, like a
// nil handler, and returns the error for every event.
type failedHandler struct {
	h   ed.EventHandler
	err error
}

// HandlerType implements the HandlerType method of the EventHandler interface.
func (h *failedHandler) HandlerType() ed.EventHandlerType {
	if h.h == nil {
		return ""
	}

	return h.h.HandlerType()
}

// HandleEvent implements the HandleEvent method of the EventHandler interface.
func (h *failedHandler) HandleEvent(context.Context, ed.Event) error {
	return fmt.Errorf("could not create async handler: %w", h.err)
}

// Configure attaches options to a handler for the async handler that an event
// bus creates for it when it is added. The options are applied after those of
// the bus. The handler itself is used unchanged, so bus middleware like
// tracing still wraps the handling of every event.
func Configure(h ed.EventHandler, options ...Option) ed.EventHandler {
	if h == nil {
		return nil
	}

	return &configured{EventHandler: h, options: options}
}

type configured struct {
	ed.EventHandler
	options []Option
}

// InnerHandler implements EventHandlerChain
func (h *configured) InnerHandler() ed.EventHandler {
	return h.EventHandler
}

// OptionsFor returns the options attached with Configure anywhere in the
// handler chain of h, outermost first.
func OptionsFor(h ed.EventHandler) []Option {
	var options []Option

	for h != nil {
		if c, ok := h.(*configured); ok {
			options = append(options, c.options...)
		}

		chain, ok := h.(ed.EventHandlerChain)
		if !ok {
			break
		}

		h = chain.InnerHandler()
	}

	return options
}

// IsAsync reports if the handler chain of h contains an async handler. Such a
// handler returns as soon as an event is scheduled, so wrapping it again
// would consider events handled before they are.
func IsAsync(h ed.EventHandler) bool {
	for h != nil {
		if _, ok := h.(*EventHandler); ok {
			return true
		}

		chain, ok := h.(ed.EventHandlerChain)
		if !ok {
			return false
		}

		h = chain.InnerHandler()
	}

	return false
}

// Error is an async error containing the error and the event.
type Error struct {
	// Err is the error that happened when handling the event.
	Err error
	// Ctx is the context used when the error happened.
	Ctx context.Context
	// Event is the event handeled when the error happened, nil for errors of
	// the transaction manager.
	Event ed.Event
}

// Error implements the Error method of the error interface.
func (e *Error) Error() string {
	if e.Event == nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("%s: %s", e.Event.String(), e.Err.Error())
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *Error) Cause() error {
	return e.Unwrap()
}

// newError converts an error from the dispatcher.
func newError(err *dispatch.Error) *Error {
	e := &Error{Err: err.Err}

	if d, ok := err.Task.(Delivery); ok {
		e.Ctx = d.Ctx
		e.Event = d.Event
	}

	return e
}
