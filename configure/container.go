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

package configure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

// ErrHandlersBound is returned when registering a collaborator after the
// first handler was bound, as the bound dispatchers would not see it.
var ErrHandlersBound = errors.New("handlers already bound")

// ErrContainerClosed is returned when binding to a closed container.
var ErrContainerClosed = errors.New("container closed")

// Operations of a Error.
const (
	OpParse    = "parse"
	OpValidate = "validate"
	OpRegister = "register"
	OpBind     = "bind"
)

// Error is a configuration error.
type Error struct {
	// Err is the error.
	Err error
	// Op is the operation, like OpRegister.
	Op string
	// Name is the setting, collaborator or handler involved.
	Name string
}

// Error implements the Error method of the errors.Error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("configure: could not %s %s: %s", e.Op, e.Name, e.Err)
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *Error) Cause() error {
	return e.Unwrap()
}

// Container holds the collaborators shared by bound handlers: the
// configuration, the transaction manager and the event store, plus named
// resources for the handlers. Collaborators are registered first, binding a
// handler freezes them.
type Container struct {
	config    Config
	tm        ed.TransactionManager
	store     ed.EventStore
	resources map[string]interface{}
	executor  *dispatch.BoundedExecutor
	handlers  []*async.EventHandler
	errCh     chan *async.Error
	logger    logrus.FieldLogger
	bound     bool
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// NewContainer creates a Container with a validated configuration.
func NewContainer(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config:    cfg,
		tm:        ed.NoTransactionManager,
		resources: map[string]interface{}{},
		errCh:     make(chan *async.Error, dispatch.DefaultErrorBuffer),
		logger:    logrus.StandardLogger().WithField("component", "configure"),
	}

	if cfg.Workers > 0 {
		var err error
		if c.executor, err = dispatch.NewBoundedExecutor(cfg.Workers); err != nil {
			return nil, &Error{Err: err, Op: OpValidate, Name: "Workers"}
		}
	}

	return c, nil
}

// RegisterLogger sets the logger of the container and of bound handlers.
func (c *Container) RegisterLogger(l logrus.FieldLogger) error {
	return c.register("logger", func() {
		c.logger = l
	})
}

// RegisterTransactionManager sets the transaction manager of bound handlers.
func (c *Container) RegisterTransactionManager(tm ed.TransactionManager) error {
	if tm == nil {
		return &Error{Err: errors.New("missing transaction manager"), Op: OpRegister, Name: "transaction manager"}
	}

	return c.register("transaction manager", func() {
		c.tm = tm
	})
}

// RegisterEventStore sets the event store available to handlers.
func (c *Container) RegisterEventStore(store ed.EventStore) error {
	if store == nil {
		return &Error{Err: errors.New("missing event store"), Op: OpRegister, Name: "event store"}
	}

	return c.register("event store", func() {
		c.store = store
	})
}

// RegisterResource adds a named resource available to handlers.
func (c *Container) RegisterResource(name string, r interface{}) error {
	return c.register(name, func() {
		c.resources[name] = r
	})
}

func (c *Container) register(name string, f func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound {
		return &Error{Err: ErrHandlersBound, Op: OpRegister, Name: name}
	}

	f()

	return nil
}

// EventStore returns the registered event store, or nil.
func (c *Container) EventStore() ed.EventStore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.store
}

// Resource returns a named resource.
func (c *Container) Resource(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.resources[name]

	return r, ok
}

// Config returns the configuration.
func (c *Container) Config() Config {
	return c.config
}

// Bind wraps a handler in an async handler using the configuration and the
// registered collaborators. Extra options are applied after them. Errors of
// all bound handlers are sent on Errors.
func (c *Container) Bind(h ed.EventHandler, options ...async.Option) (*async.EventHandler, error) {
	if h == nil {
		return nil, &Error{Err: ed.ErrMissingHandler, Op: OpBind, Name: "handler"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.handlerOptions(h, options)
	if err != nil {
		return nil, err
	}

	a, err := async.NewEventHandler(h, opts...)
	if err != nil {
		return nil, &Error{Err: err, Op: OpBind, Name: h.HandlerType().String()}
	}

	c.handlers = append(c.handlers, a)

	c.wg.Add(1)

	go c.forwardErrors(a)

	return a, nil
}

// AddHandler adds a handler to an event bus, configured like Bind does. The bus
// creates the async handler itself, so events are acked only after they have
// been handled and committed. Errors of the handler are sent on the Errors of
// the bus, which must be closed before the container.
func (c *Container) AddHandler(ctx context.Context, bus ed.EventBus, m ed.EventMatcher, h ed.EventHandler, options ...async.Option) error {
	if h == nil {
		return &Error{Err: ed.ErrMissingHandler, Op: OpBind, Name: "handler"}
	}

	c.mu.Lock()
	opts, err := c.handlerOptions(h, options)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	if err := bus.AddHandler(ctx, m, async.Configure(h, opts...)); err != nil {
		return &Error{Err: err, Op: OpBind, Name: h.HandlerType().String()}
	}

	return nil
}

// handlerOptions freezes the collaborators and returns the async options for
// a handler. The caller must hold the lock.
func (c *Container) handlerOptions(h ed.EventHandler, options []async.Option) ([]async.Option, error) {
	if c.closed {
		return nil, &Error{Err: ErrContainerClosed, Op: OpBind, Name: h.HandlerType().String()}
	}

	dispatchOptions := c.config.Options()
	if c.executor != nil {
		dispatchOptions = append(dispatchOptions, dispatch.WithExecutor(c.executor))
	}

	opts := []async.Option{
		async.WithLogger(c.logger),
		async.WithTransactionManager(c.tm),
		async.WithDispatchOptions(dispatchOptions...),
	}

	c.bound = true

	return append(opts, options...), nil
}

// Errors returns the errors of all bound handlers.
func (c *Container) Errors() <-chan *async.Error {
	return c.errCh
}

// Close closes all bound handlers and the shared executor. The error channel
// is closed when all handler errors have been forwarded.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	handlers := c.handlers
	c.mu.Unlock()

	var errs []error

	for _, h := range handlers {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.executor != nil {
		if err := c.executor.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.wg.Wait()
	close(c.errCh)

	return errors.Join(errs...)
}

func (c *Container) forwardErrors(h *async.EventHandler) {
	defer c.wg.Done()

	for err := range h.Errors() {
		select {
		case c.errCh <- err:
		default:
			c.logger.WithError(err).Error("missed error in container")
		}
	}
}
