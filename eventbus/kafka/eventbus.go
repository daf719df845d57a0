// Copyright (c) 2021 - The Event Horizon authors.
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

package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
	"github.com/looplab/eventdispatch/uuid"
)

// EventBus is a Kafka event bus. Every handler type reads the topic with a
// consumer group of its own. Messages are keyed by aggregate ID, so the events
// of an aggregate stay in one partition and reach a handler in order.
//
// Offsets are committed per partition up to the first message that is not yet
// handled, so a restart never skips an event that was still in flight.
type EventBus struct {
	// TODO: Support multiple brokers.
	addr           string
	appID          string
	topic          string
	partitions     int
	writer         *kafka.Writer
	codec          ed.EventCodec
	handlers       *eventbus.Handlers
	handlerOptions []async.Option
	logger         logrus.FieldLogger
	readers        []*kafka.Reader
	readersMu      sync.Mutex
	cctx           context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewEventBus creates an EventBus, with optional settings.
func NewEventBus(addr, appID string, options ...Option) (*EventBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	b := &EventBus{
		addr:       addr,
		appID:      appID,
		topic:      appID + "_events",
		partitions: 1,
		codec:      &json.EventCodec{},
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

	if b.logger == nil {
		b.logger = logrus.StandardLogger().WithField("component", "eventbus/kafka")
	}

	if err := b.createTopic(); err != nil {
		cancel()

		return nil, err
	}

	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Topic:        b.topic,
		Balancer:     &kafka.Hash{},    // Keep the events of an aggregate in one partition.
		BatchSize:    1,                // Write every event to the bus without delay.
		RequiredAcks: kafka.RequireOne, // Stronger consistency.
	}

	b.handlers = eventbus.NewHandlers(b.logger, b.handlerOptions...)

	return b, nil
}

// Get or create the topic.
func (b *EventBus) createTopic() error {
	client := &kafka.Client{
		Addr: kafka.TCP(b.addr),
	}

	var (
		resp *kafka.CreateTopicsResponse
		err  error
	)

	for i := 0; i < 10; i++ {
		resp, err = client.CreateTopics(context.Background(), &kafka.CreateTopicsRequest{
			Topics: []kafka.TopicConfig{{
				Topic:             b.topic,
				NumPartitions:     b.partitions,
				ReplicationFactor: 1,
			}},
		})
		if errors.Is(err, kafka.BrokerNotAvailable) {
			time.Sleep(5 * time.Second)

			continue
		} else if err != nil {
			return fmt.Errorf("error creating Kafka topic: %w", err)
		}

		break
	}

	if resp == nil {
		return fmt.Errorf("could not get/create Kafka topic in time: %w", err)
	}

	if topicErr, ok := resp.Errors[b.topic]; ok && topicErr != nil {
		if !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return fmt.Errorf("invalid Kafka topic: %w", topicErr)
		}
	}

	return nil
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

// WithPartitions sets the number of partitions of the topic, if it is created.
func WithPartitions(n int) Option {
	return func(b *EventBus) error {
		if n < 1 {
			return fmt.Errorf("invalid number of partitions: %d", n)
		}

		b.partitions = n

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
	aggregateTypeHeader = "aggregate_type"
	eventTypeHeader     = "event_type"
)

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ed.Event) error {
	data, err := b.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	msg := kafka.Message{
		Value: data,
		Headers: []kafka.Header{
			{
				Key:   aggregateTypeHeader,
				Value: []byte(event.AggregateType().String()),
			},
			{
				Key:   eventTypeHeader,
				Value: []byte(event.EventType().String()),
			},
		},
	}

	if id := event.AggregateID(); id != uuid.Nil {
		msg.Key = []byte(id.String())
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
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
	joined := make(chan struct{})
	joinedOnce := sync.Once{}
	groupID := b.appID + "_" + h.HandlerType().String()
	logger := b.logger.WithField("group", groupID)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                []string{b.addr},
		Topic:                  b.topic,
		GroupID:                groupID,     // Send messages to only one subscriber per group.
		MaxBytes:               100e3,       // 100KB
		MaxWait:                time.Second, // Allow to exit readloop in max 1s.
		PartitionWatchInterval: time.Second,
		WatchPartitionChanges:  true,
		StartOffset:            kafka.LastOffset, // Don't read old messages.
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			// NOTE: Hacky way to use logger to find out when the reader is ready.
			if strings.HasPrefix(msg, "Joined group") {
				joinedOnce.Do(func() { close(joined) })
			}

			logger.Debugf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(logger.Errorf),
	})

	select {
	case <-joined:
	case <-time.After(10 * time.Second):
		r.Close()
		b.handlers.Remove(h.HandlerType())

		return fmt.Errorf("did not join group in time")
	}

	b.readersMu.Lock()
	b.readers = append(b.readers, r)
	b.readersMu.Unlock()

	// Handle until the bus is closed.
	b.wg.Add(1)

	go b.handle(m, a, r)

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

	// Readers are closed after the handlers, which can still commit.
	if err := b.handlers.Close(); err != nil {
		return err
	}

	b.readersMu.Lock()
	defer b.readersMu.Unlock()

	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			b.logger.WithError(err).Error("could not close Kafka reader")
		}
	}

	b.readers = nil

	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("could not close Kafka writer: %w", err)
	}

	return nil
}

// Handles all events coming in on the reader.
func (b *EventBus) handle(m ed.EventMatcher, h *async.EventHandler, r *kafka.Reader) {
	defer b.wg.Done()

	offsets := newOffsets()

	commit := func(msg kafka.Message) {
		if err := r.CommitMessages(context.Background(), msg); err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not commit offset: %w", err))
		}
	}

	for {
		msg, err := r.FetchMessage(b.cctx)
		if errors.Is(err, context.Canceled) || b.cctx.Err() != nil {
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

		p := offsets.track(msg)
		ack := func() {
			offsets.done(p, commit)
		}

		event, ctx, err := b.codec.UnmarshalEvent(context.Background(), msg.Value)
		if err != nil {
			b.handlers.Report(b.cctx, nil, fmt.Errorf("could not unmarshal event: %w", err))
			ack()

			continue
		}

		// Ignore non-matching events.
		if !m.Match(event) {
			ack()

			continue
		}

		if err := h.Deliver(async.Delivery{Ctx: ctx, Event: event, Ack: ack}); err != nil {
			b.handlers.Report(ctx, event, fmt.Errorf("could not schedule event: %w", err))
		}
	}
}
