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
	"sync"

	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
	"github.com/looplab/eventdispatch/sequencing"
)

// Delivery is an event to handle together with the context it was published
// with.
type Delivery struct {
	Ctx   context.Context
	Event ed.Event
	// Ack is called when the handling of the event has been committed. It is
	// never called for an event that was skipped or dropped.
	Ack func()
}

// Option is an option setter used to configure creation.
type Option func(*EventHandler) error

// WithSequencingPolicy sets the policy deciding which events are handled in
// order. Defaults to per aggregate ordering.
func WithSequencingPolicy(p ed.SequencingPolicy[ed.Event]) Option {
	return func(h *EventHandler) error {
		if p == nil {
			return fmt.Errorf("%w: missing sequencing policy", dispatch.ErrInvalidOption)
		}

		h.policy = p

		return nil
	}
}

// WithTransactionManager sets the transaction manager used for every batch of
// events. Acks of a batch are called after it has been committed.
func WithTransactionManager(tm ed.TransactionManager) Option {
	return func(h *EventHandler) error {
		if tm == nil {
			return fmt.Errorf("%w: missing transaction manager", dispatch.ErrInvalidOption)
		}

		h.txManager = tm

		return nil
	}
}

// WithDispatchOptions adds options for the dispatcher, for example the retry
// policy or the executor. Sequencing and transactions are set with the
// options of this package.
func WithDispatchOptions(options ...dispatch.Option) Option {
	return func(h *EventHandler) error {
		h.dispatchOpts = append(h.dispatchOpts, options...)

		return nil
	}
}

// WithLogger sets the logger to use.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *EventHandler) error {
		if l == nil {
			return fmt.Errorf("%w: missing logger", dispatch.ErrInvalidOption)
		}

		h.logger = l

		return nil
	}
}

// withErrors sends errors to a channel shared by many handlers.
func withErrors(errCh chan *Error) Option {
	return func(h *EventHandler) error {
		h.errCh = errCh

		return nil
	}
}

// EventHandler handles events asynchronously with a dispatcher, in order per
// sequence identifier and concurrently otherwise.
type EventHandler struct {
	ed.EventHandler

	policy       ed.SequencingPolicy[ed.Event]
	txManager    ed.TransactionManager
	dispatchOpts []dispatch.Option
	logger       logrus.FieldLogger

	d         *dispatch.Dispatcher[Delivery]
	errCh     chan *Error
	ownsErrCh bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEventHandler creates an asynchronous handler around h.
func NewEventHandler(h ed.EventHandler, options ...Option) (*EventHandler, error) {
	if h == nil {
		return nil, ed.ErrMissingHandler
	}

	a := &EventHandler{
		EventHandler: h,
		policy:       sequencing.SequentialPerAggregate(),
		txManager:    ed.NoTransactionManager,
	}

	for _, option := range options {
		if err := option(a); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if a.logger == nil {
		a.logger = logrus.StandardLogger().WithField("component", "async")
	}

	a.logger = a.logger.WithField("handler", h.HandlerType())

	policy := a.policy

	dispatchOpts := append([]dispatch.Option{dispatch.WithLogger(a.logger)}, a.dispatchOpts...)
	dispatchOpts = append(dispatchOpts,
		dispatch.WithSequencingPolicy[Delivery](ed.SequencingPolicyFunc[Delivery](func(d Delivery) any {
			return policy.SequenceIdentifierFor(d.Event)
		})),
		dispatch.WithTransactionManager(&ackingTxManager{a.txManager}),
	)

	d, err := dispatch.NewDispatcher[Delivery](dispatch.HandlerFunc[Delivery](a.handle), dispatchOpts...)
	if err != nil {
		return nil, err
	}

	a.d = d

	if a.errCh == nil {
		a.errCh = make(chan *Error, dispatch.DefaultErrorBuffer)
		a.ownsErrCh = true
	}

	a.wg.Add(1)

	go a.forwardErrors()

	return a, nil
}

// InnerHandler implements EventHandlerChain
func (h *EventHandler) InnerHandler() ed.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the EventHandler. It
// returns once the event is scheduled.
func (h *EventHandler) HandleEvent(ctx context.Context, event ed.Event) error {
	return h.Deliver(Delivery{Ctx: ctx, Event: event})
}

// Deliver schedules a delivery for handling.
func (h *EventHandler) Deliver(d Delivery) error {
	if d.Ctx == nil {
		d.Ctx = context.Background()
	}

	return h.d.Schedule(d)
}

// Errors returns the errors from handling events. The channel is closed by
// Close unless it is shared through the middleware.
func (h *EventHandler) Errors() <-chan *Error {
	return h.errCh
}

// Close stops the handler, queued events are dropped without being acked.
func (h *EventHandler) Close() error {
	err := h.d.Close()

	h.wg.Wait()

	if h.ownsErrCh {
		h.closeOnce.Do(func() { close(h.errCh) })
	}

	return err
}

func (h *EventHandler) handle(txCtx context.Context, d Delivery) error {
	if err := h.EventHandler.HandleEvent(mergeContext(txCtx, d.Ctx), d.Event); err != nil {
		return err
	}

	if d.Ack != nil {
		acksFromContext(txCtx).add(d.Ack)
	}

	return nil
}

func (h *EventHandler) forwardErrors() {
	defer h.wg.Done()

	for err := range h.d.Errors() {
		select {
		case h.errCh <- newError(err):
		default:
			h.logger.WithError(err).Error("missed error in async handler")
		}
	}
}
