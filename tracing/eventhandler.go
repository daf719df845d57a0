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
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	ed "github.com/looplab/eventdispatch"
)

// NewEventHandlerMiddleware returns an event handler middleware that adds tracing spans.
func NewEventHandlerMiddleware() ed.EventHandlerMiddleware {
	return ed.EventHandlerMiddleware(func(h ed.EventHandler) ed.EventHandler {
		return &eventHandler{h}
	})
}

type eventHandler struct {
	ed.EventHandler
}

// InnerHandler implements MiddlewareChain
func (h *eventHandler) InnerHandler() ed.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the EventHandler.
func (h *eventHandler) HandleEvent(ctx context.Context, event ed.Event) error {
	opName := fmt.Sprintf("%s.Event(%s)", h.HandlerType(), event.EventType())
	sp, ctx := opentracing.StartSpanFromContext(ctx, opName)

	err := h.EventHandler.HandleEvent(ctx, event)
	if err != nil {
		ext.LogError(sp, err)
	}

	setEventTags(sp, event)
	sp.Finish()

	return err
}

func setEventTags(sp opentracing.Span, event ed.Event) {
	sp.SetTag("ed.event_type", event.EventType())
	sp.SetTag("ed.aggregate_type", event.AggregateType())
	sp.SetTag("ed.aggregate_id", event.AggregateID())
	sp.SetTag("ed.version", event.Version())
}
