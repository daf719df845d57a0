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

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

// EventBus is a Redis Streams event bus. Every handler type reads the stream
// with a consumer group of its own, so that buses of one app share the events
// of a handler type. Events are acked when their handling has been committed.
type EventBus struct {
	appID          string
	clientID       string
	streamName     string
	client         *redis.Client
	clientOpts     *redis.Options
	codec          ed.EventCodec
	handlers       *eventbus.Handlers
	handlerOptions []async.Option
	logger         logrus.FieldLogger
	blockTime      time.Duration
	cctx           context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewEventBus creates an EventBus, with optional settings.
func NewEventBus(addr, appID, clientID string, options ...Option) (*EventBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	b := &EventBus{
		appID:      appID,
		clientID:   clientID,
		streamName: appID + "_events",
		codec:      &json.EventCodec{},
		blockTime:  time.Second,
		cctx:       ctx,
		cancel:     cancel,
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

	// Default client options.
	if b.clientOpts == nil {
		b.clientOpts = &redis.Options{
			Addr: addr,
		}
	}

	// Create client and check connection.
	b.client = redis.NewClient(b.clientOpts)
	if res, err := b.client.Ping(b.cctx).Result(); err != nil || res != "PONG" {
		cancel()

		return nil, fmt.Errorf("could not check Redis server: %w", err)
	}

	if b.logger == nil {
		b.logger = logrus.StandardLogger().WithField("component", "eventbus/redis")
	}

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

// WithRedisOptions uses the Redis options for the underlying client, instead of the defaults.
func WithRedisOptions(opts *redis.Options) Option {
	return func(b *EventBus) error {
		b.clientOpts = opts

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

const (
	aggregateTypeKey = "aggregate_type"
	eventTypeKey     = "event_type"
	dataKey          = "data"
)

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ed.Event) error {
	data, err := b.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.streamName,
		Values: map[string]interface{}{
			aggregateTypeKey: event.AggregateType().String(),
			eventTypeKey:     event.EventType().String(),
			dataKey:          data,
		},
	}
	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
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
	groupName := fmt.Sprintf("%s_%s", b.appID, h.HandlerType())

	res, err := b.client.XGroupCreateMkStream(ctx, b.streamName, groupName, "$").Result()
	if err != nil {
		// Ignore group exists non-errors.
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			b.handlers.Remove(h.HandlerType())

			return fmt.Errorf("could not create consumer group: %w", err)
		}
	} else if res != "OK" {
		b.handlers.Remove(h.HandlerType())

		return fmt.Errorf("could not create consumer group: %s", res)
	}

	// Handle until context is cancelled.
	b.wg.Add(1)

	go b.handle(m, a, groupName)

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

	if err := b.handlers.Close(); err != nil {
		return err
	}

	return b.client.Close()
}

// Handles all events coming in on the stream. Entries delivered to this
// consumer before but never acked are read first.
func (b *EventBus) handle(m ed.EventMatcher, h *async.EventHandler, groupName string) {
	defer b.wg.Done()

	consumer := groupName + "_" + b.clientID
	start := "0"

	for {
		if b.cctx.Err() != nil {
			return
		}

		streams, err := b.client.XReadGroup(b.cctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: consumer,
			Streams:  []string{b.streamName, start},
			Block:    b.blockTime,
		}).Result()
		if errors.Is(err, redis.Nil) {
			start = ">"

			continue
		} else if errors.Is(err, context.Canceled) || b.cctx.Err() != nil {
			return
		} else if err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not receive: %w", err))

			// Retry the receive loop if there was an error.
			select {
			case <-time.After(time.Second):
			case <-b.cctx.Done():
				return
			}

			continue
		}

		last := ""

		// Handle all messages from group read.
		for _, stream := range streams {
			if stream.Stream != b.streamName {
				continue
			}

			for _, msg := range stream.Messages {
				b.deliver(m, h, groupName, msg)
				last = msg.ID
			}
		}

		// Pending entries are read after the last one seen, until they are
		// all read. Then go on with new ones.
		if start != ">" {
			if last == "" {
				start = ">"
			} else {
				start = last
			}
		}
	}
}

func (b *EventBus) deliver(m ed.EventMatcher, h *async.EventHandler, groupName string, msg redis.XMessage) {
	ack := func() {
		if _, err := b.client.XAck(context.Background(), b.streamName, groupName, msg.ID).Result(); err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not ack event: %w", err))
		}
	}

	data, ok := msg.Values[dataKey].(string)
	if !ok {
		b.handlers.Report(b.cctx, nil, fmt.Errorf("event data is of incorrect type %T", msg.Values[dataKey]))
		// Broken entries would be read again forever.
		ack()

		return
	}

	event, ctx, err := b.codec.UnmarshalEvent(context.Background(), []byte(data))
	if err != nil {
		b.handlers.Report(b.cctx, nil, fmt.Errorf("could not unmarshal event: %w", err))
		ack()

		return
	}

	// Ignore non-matching events.
	if !m.Match(event) {
		ack()

		return
	}

	if err := h.Deliver(async.Delivery{Ctx: ctx, Event: event, Ack: ack}); err != nil {
		b.handlers.Report(ctx, event, fmt.Errorf("could not schedule event: %w", err))
	}
}
