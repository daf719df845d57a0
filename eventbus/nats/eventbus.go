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

package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

// DefaultAckWait is the time to wait for acks before re-delivering an event.
var DefaultAckWait = 60 * time.Second

// EventBus is a NATS JetStream event bus. Every handler type gets a durable
// queue consumer of its own, events are acked when the transaction of their
// batch has been committed and are re-delivered otherwise.
type EventBus struct {
	appID          string
	conn           *nats.Conn
	connOpts       []nats.Option
	js             nats.JetStreamContext
	stream         string
	subject        string
	ackWait        time.Duration
	subs           []*nats.Subscription
	subsMu         sync.Mutex
	handlers       *eventbus.Handlers
	handlerOptions []async.Option
	codec          ed.EventCodec
	logger         logrus.FieldLogger
	cctx           context.Context
	cancel         context.CancelFunc
}

// NewEventBus creates an EventBus, with optional NATS connection settings.
func NewEventBus(url, appID string, options ...Option) (*EventBus, error) {
	b := &EventBus{
		appID:   appID,
		stream:  appID + "_events",
		subject: appID + ".events",
		ackWait: DefaultAckWait,
		codec:   &json.EventCodec{},
	}

	// Apply configuration options.
	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(b); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if b.logger == nil {
		b.logger = logrus.StandardLogger().WithField("component", "eventbus/nats")
	}

	// Create the NATS client.
	var err error
	if b.conn, err = nats.Connect(url, b.connOpts...); err != nil {
		return nil, fmt.Errorf("could not connect to NATS: %w", err)
	}

	if b.js, err = b.conn.JetStream(); err != nil {
		b.conn.Close()

		return nil, fmt.Errorf("could not create JetStream context: %w", err)
	}

	// Get or create the stream.
	if _, err := b.js.StreamInfo(b.stream); errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := b.js.AddStream(&nats.StreamConfig{
			Name:     b.stream,
			Subjects: []string{b.subject},
			Storage:  nats.FileStorage,
		}); err != nil {
			b.conn.Close()

			return nil, fmt.Errorf("could not create stream: %w", err)
		}
	} else if err != nil {
		b.conn.Close()

		return nil, fmt.Errorf("could not get stream: %w", err)
	}

	b.cctx, b.cancel = context.WithCancel(context.Background())
	b.handlers = eventbus.NewHandlers(b.logger, b.handlerOptions...)

	return b, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec ed.EventCodec) Option {
	return func(b *EventBus) error {
		b.codec = codec

		return nil
	}
}

// WithNATSOptions adds the NATS options to the underlying client.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(b *EventBus) error {
		b.connOpts = opts

		return nil
	}
}

// WithAckWait sets the time to wait for an ack before re-delivering an event.
func WithAckWait(d time.Duration) Option {
	return func(b *EventBus) error {
		if d <= 0 {
			return fmt.Errorf("invalid ack wait: %s", d)
		}

		b.ackWait = d

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
	data, err := b.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	msg := nats.NewMsg(b.subject)
	msg.Data = data
	msg.Header.Set("aggregate_type", event.AggregateType().String())
	msg.Header.Set("event_type", event.EventType().String())

	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// AddHandler implements the AddHandler method of the eventdispatch.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m ed.EventMatcher, h ed.EventHandler) error {
	a, err := b.handlers.Add(m, h)
	if err != nil {
		return err
	}

	// Create a durable queue consumer, shared by all buses of the app.
	queueGroup := fmt.Sprintf("%s_%s", b.appID, h.HandlerType())

	sub, err := b.js.QueueSubscribe(
		b.subject, queueGroup, b.handler(m, a),
		nats.Durable(queueGroup),
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(b.ackWait),
	)
	if err != nil {
		b.handlers.Remove(h.HandlerType())

		return fmt.Errorf("could not subscribe to queue: %w", err)
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()

	return nil
}

// Errors implements the Errors method of the eventdispatch.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.handlers.Errors()
}

// Close implements the Close method of the eventdispatch.EventBus interface.
func (b *EventBus) Close() error {
	b.cancel()

	// Stop new deliveries but keep the connection for the last acks.
	b.subsMu.Lock()
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.WithError(err).Error("could not drain subscription")
		}
	}

	b.subs = nil
	b.subsMu.Unlock()

	err := b.handlers.Close()

	b.conn.Close()

	return err
}

func (b *EventBus) handler(m ed.EventMatcher, h *async.EventHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ack := func() {
			if err := msg.Ack(); err != nil {
				b.handlers.Report(b.cctx, nil, fmt.Errorf("could not ack event: %w", err))
			}
		}

		event, ctx, err := b.codec.UnmarshalEvent(context.Background(), msg.Data)
		if err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not unmarshal event: %w", err))

			// Never re-deliver garbage.
			if err := msg.Term(); err != nil {
				b.logger.WithError(err).Error("could not terminate message")
			}

			return
		}

		// Ignore non-matching events.
		if !m.Match(event) {
			ack()

			return
		}

		if err := h.Deliver(async.Delivery{Ctx: ctx, Event: event, Ack: ack}); err != nil {
			b.handlers.Report(ctx, event, fmt.Errorf("could not schedule event: %w", err))

			if err := msg.Nak(); err != nil {
				b.logger.WithError(err).Error("could not nak message")
			}
		}
	}
}
