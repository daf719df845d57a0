// Copyright (c) 2020 - The Event Horizon authors.
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

package tracing

import (
	"context"

	ed "github.com/looplab/eventdispatch"
)

// EventBus is an event bus wrapper that adds tracing.
type EventBus struct {
	ed.EventBus
	h ed.EventHandler
}

// NewEventBus creates a EventBus.
func NewEventBus(eventBus ed.EventBus) *EventBus {
	return &EventBus{
		EventBus: eventBus,
		// Wrap the ed.EventHandler part of the bus with tracing middleware,
		// set as producer to set the correct tags.
		h: ed.UseEventHandlerMiddleware(eventBus, NewEventHandlerMiddleware()),
	}
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ed.Event) error {
	return b.h.HandleEvent(ctx, event)
}

// AddHandler implements the AddHandler method of the eventdispatch.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m ed.EventMatcher, h ed.EventHandler) error {
	if h == nil {
		return ed.ErrMissingHandler
	}

	// Wrap the handlers in tracing middleware.
	h = ed.UseEventHandlerMiddleware(h, NewEventHandlerMiddleware())

	return b.EventBus.AddHandler(ctx, m, h)
}
