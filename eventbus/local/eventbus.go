// Copyright (c) 2014 - The Event Horizon authors.
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

package local

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

// EventBus is a local event bus that delegates handling of published events
// to all matching registered handlers. Every handler handles events
// asynchronously, in order per aggregate.
type EventBus struct {
	group          *Group
	handlers       *eventbus.Handlers
	handlerOptions []async.Option
	logger         logrus.FieldLogger
}

// NewEventBus creates a EventBus.
func NewEventBus(options ...Option) (*EventBus, error) {
	b := &EventBus{}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(b); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if b.group == nil {
		b.group = NewGroup()
	}

	b.handlers = eventbus.NewHandlers(b.logger, b.handlerOptions...)

	return b, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithGroup uses a publishing group shared with other buses. Handlers of the
// same type on buses of a group share the events.
func WithGroup(g *Group) Option {
	return func(b *EventBus) error {
		b.group = g

		return nil
	}
}

// WithHandlerOptions sets the options of the dispatchers of added handlers.
func WithHandlerOptions(options ...async.Option) Option {
	return func(b *EventBus) error {
		b.handlerOptions = append(b.handlerOptions, options...)

		return nil
	}
}

// WithLogger sets the logger to use.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *EventBus) error {
		b.logger = l

		return nil
	}
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (b *EventBus) HandlerType() ed.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ed.Event) error {
	return b.group.publish(ctx, event)
}

// AddHandler implements the AddHandler method of the eventdispatch.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m ed.EventMatcher, h ed.EventHandler) error {
	a, err := b.handlers.Add(m, h)
	if err != nil {
		return err
	}

	b.group.subscribe(&subscriber{bus: b, matcher: m, handler: a})

	return nil
}

// Errors implements the Errors method of the eventdispatch.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.handlers.Errors()
}

// Close implements the Close method of the eventdispatch.EventBus interface.
func (b *EventBus) Close() error {
	b.group.unsubscribe(b)

	return b.handlers.Close()
}

// Group is a publishing group shared by multiple event busses locally, if needed.
type Group struct {
	subscribers   map[ed.EventHandlerType][]*subscriber
	subscribersMu sync.RWMutex
}

// NewGroup creates a Group.
func NewGroup() *Group {
	return &Group{
		subscribers: map[ed.EventHandlerType][]*subscriber{},
	}
}

type subscriber struct {
	bus     *EventBus
	matcher ed.EventMatcher
	handler *async.EventHandler
}

func (g *Group) subscribe(s *subscriber) {
	g.subscribersMu.Lock()
	defer g.subscribersMu.Unlock()

	t := s.handler.HandlerType()
	g.subscribers[t] = append(g.subscribers[t], s)
}

func (g *Group) unsubscribe(b *EventBus) {
	g.subscribersMu.Lock()
	defer g.subscribersMu.Unlock()

	for t, subs := range g.subscribers {
		kept := subs[:0]

		for _, s := range subs {
			if s.bus != b {
				kept = append(kept, s)
			}
		}

		if len(kept) == 0 {
			delete(g.subscribers, t)
		} else {
			g.subscribers[t] = kept
		}
	}
}

func (g *Group) publish(ctx context.Context, event ed.Event) error {
	g.subscribersMu.RLock()
	defer g.subscribersMu.RUnlock()

	for t, subs := range g.subscribers {
		// The events of an aggregate always go to the same bus of the group,
		// which keeps them in order.
		s := subs[0]
		if len(subs) > 1 {
			id := event.AggregateID()
			s = subs[binary.BigEndian.Uint32(id[12:])%uint32(len(subs))]
		}

		if !s.matcher.Match(event) {
			continue
		}

		e, err := ed.CopyEvent(event)
		if err != nil {
			return fmt.Errorf("could not publish event to %s: %w", t, err)
		}

		if err := s.handler.HandleEvent(ctx, e); err != nil {
			return fmt.Errorf("could not publish event to %s: %w", t, err)
		}
	}

	return nil
}
