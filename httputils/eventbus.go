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

package httputils

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
)

const writeWait = 10 * time.Second

// EventBusHandler is a Websocket handler for eventdispatch.Events. It is added
// once to an event bus and forwards the matching events as JSON to all
// requests that have been upgraded to websockets.
type EventBusHandler struct {
	id       string
	codec    ed.EventCodec
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
	clients  map[chan []byte]struct{}
	mu       sync.RWMutex
}

// NewEventBusHandler creates an EventBusHandler and adds it to the bus.
func NewEventBusHandler(ctx context.Context, eventBus ed.EventBus, m ed.EventMatcher, id string) (*EventBusHandler, error) {
	h := &EventBusHandler{
		id:      id,
		codec:   &json.EventCodec{},
		logger:  logrus.StandardLogger().WithField("component", "httputils"),
		clients: map[chan []byte]struct{}{},
	}

	if err := eventBus.AddHandler(ctx, m, h); err != nil {
		return nil, fmt.Errorf("could not add websocket handler: %w", err)
	}

	return h, nil
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (h *EventBusHandler) HandlerType() ed.EventHandlerType {
	return ed.EventHandlerType("websocket_" + h.id)
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
// Slow clients miss events instead of holding up the others.
func (h *EventBusHandler) HandleEvent(ctx context.Context, event ed.Event) error {
	b, err := h.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.logger.WithField("event", event.String()).Warn("missed event for websocket client")
		}
	}

	return nil
}

// ServeHTTP implements the http.Handler interface.
func (h *EventBusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("could not upgrade to websocket")

		return
	}
	defer c.Close()

	ch := make(chan []byte, 10)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}()

	// Read until the client goes away, incoming messages are ignored.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b := <-ch:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
				h.logger.WithError(err).Debug("could not write to websocket")

				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// NumClients returns the number of connected clients.
func (h *EventBusHandler) NumClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
