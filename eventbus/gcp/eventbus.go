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

package gcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
	"github.com/looplab/eventdispatch/uuid"
)

// EventBus is a GCP Pub/Sub event bus. Every handler type gets a subscription
// of its own and events are published with the aggregate ID as ordering key,
// so the events of an aggregate reach a handler in order.
type EventBus struct {
	appID          string
	client         *pubsub.Client
	clientOpts     []option.ClientOption
	topic          *pubsub.Topic
	codec          ed.EventCodec
	handlers       *eventbus.Handlers
	handlerOptions []async.Option
	logger         logrus.FieldLogger
	cctx           context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewEventBus creates an EventBus, with optional GCP connection settings.
func NewEventBus(projectID, appID string, options ...Option) (*EventBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	b := &EventBus{
		appID:  appID,
		codec:  &json.EventCodec{},
		cctx:   ctx,
		cancel: cancel,
	}

	// Apply configuration options.
	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(b); err != nil {
			cancel()

			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if b.logger == nil {
		b.logger = logrus.StandardLogger().WithField("component", "eventbus/gcp")
	}

	// Create the GCP pubsub client.
	var err error

	b.client, err = pubsub.NewClient(ctx, projectID, b.clientOpts...)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("could not create GCP client: %w", err)
	}

	// Get or create the topic.
	name := appID + "_events"
	b.topic = b.client.Topic(name)

	if ok, err := b.topic.Exists(ctx); err != nil {
		cancel()

		return nil, fmt.Errorf("could not check topic: %w", err)
	} else if !ok {
		if b.topic, err = b.client.CreateTopic(ctx, name); err != nil {
			cancel()

			return nil, fmt.Errorf("could not create topic: %w", err)
		}
	}

	b.topic.EnableMessageOrdering = true
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

// WithClientOptions adds the GCP client options to the underlying client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(b *EventBus) error {
		b.clientOpts = append(b.clientOpts, opts...)

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

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"aggregate_type": event.AggregateType().String(),
			"event_type":     event.EventType().String(),
		},
	}

	if id := event.AggregateID(); id != uuid.Nil {
		msg.OrderingKey = id.String()
	}

	res := b.topic.Publish(ctx, msg)
	if _, err := res.Get(ctx); err != nil {
		// A failed publish pauses its ordering key until resumed.
		if msg.OrderingKey != "" {
			b.topic.ResumePublish(msg.OrderingKey)
		}

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

	// Get or create the subscription.
	subscriptionID := b.appID + "_" + h.HandlerType().String()
	sub := b.client.Subscription(subscriptionID)

	ok, err := sub.Exists(ctx)
	if err != nil {
		b.handlers.Remove(h.HandlerType())

		return fmt.Errorf("could not check existing subscription: %w", err)
	}

	if !ok {
		if sub, err = b.client.CreateSubscription(ctx, subscriptionID,
			pubsub.SubscriptionConfig{
				Topic:                 b.topic,
				AckDeadline:           60 * time.Second,
				EnableMessageOrdering: true,
			},
		); err != nil {
			b.handlers.Remove(h.HandlerType())

			return fmt.Errorf("could not create subscription: %w", err)
		}
	}

	// Handle until the bus is closed.
	b.wg.Add(1)

	go b.handle(m, a, sub)

	return nil
}

// Errors implements the Errors method of the eventdispatch.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.handlers.Errors()
}

// Close implements the Close method of the eventdispatch.EventBus interface.
func (b *EventBus) Close() error {
	b.cancel()
	b.wg.Wait()

	err := b.handlers.Close()

	b.topic.Stop()

	if cerr := b.client.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("could not close GCP client: %w", cerr)
	}

	return err
}

// Handles all events coming in on the subscription.
func (b *EventBus) handle(m ed.EventMatcher, h *async.EventHandler, sub *pubsub.Subscription) {
	defer b.wg.Done()

	for {
		if err := sub.Receive(b.cctx, b.handler(m, h)); errors.Is(err, context.Canceled) || b.cctx.Err() != nil {
			return
		} else if err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not receive: %w", err))
		}

		// Retry the receive loop if there was an error.
		select {
		case <-time.After(time.Second):
		case <-b.cctx.Done():
			return
		}
	}
}

func (b *EventBus) handler(m ed.EventMatcher, h *async.EventHandler) func(context.Context, *pubsub.Message) {
	return func(_ context.Context, msg *pubsub.Message) {
		event, ctx, err := b.codec.UnmarshalEvent(context.Background(), msg.Data)
		if err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not unmarshal event: %w", err))

			// Never re-deliver garbage.
			msg.Ack()

			return
		}

		// Ignore non-matching events.
		if !m.Match(event) {
			msg.Ack()

			return
		}

		if err := h.Deliver(async.Delivery{Ctx: ctx, Event: event, Ack: msg.Ack}); err != nil {
			b.handlers.Report(ctx, event, fmt.Errorf("could not schedule event: %w", err))
			msg.Nack()
		}
	}
}
