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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/configure"
	"github.com/looplab/eventdispatch/eventbus/local"
	"github.com/looplab/eventdispatch/eventhandler/cron"
	"github.com/looplab/eventdispatch/eventstore/memory"
	"github.com/looplab/eventdispatch/httputils"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
	"github.com/looplab/eventdispatch/tracing"
	"github.com/looplab/eventdispatch/uuid"
)

const (
	// AggregateType is the type of the demo aggregates.
	AggregateType = ed.AggregateType("demo")
	// ChangedEvent is published for every change of an aggregate.
	ChangedEvent = ed.EventType("demo:changed")
	// TickEvent is published by the clock while serving.
	TickEvent = ed.EventType("demo:tick")
)

// ChangedData is the data of a ChangedEvent.
type ChangedData struct {
	Step int `json:"step" bson:"step"`
}

// TickData is the data of a TickEvent.
type TickData struct {
	At time.Time `json:"at" bson:"at"`
}

func init() {
	ed.RegisterEventData(ChangedEvent, func() ed.EventData { return &ChangedData{} })
	ed.RegisterEventData(TickEvent, func() ed.EventData { return &TickData{} })
}

type options struct {
	aggregates  int
	events      int
	envPrefix   string
	jaegerAgent string
	httpAddr    string
	tick        string
	logLevel    string
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.aggregates < 1 || opts.events < 1 {
		return errors.New("there must be at least one aggregate and one event")
	}

	logger := logrus.StandardLogger().WithField("component", "dispatchdemo")

	cfg, err := configure.FromEnv(opts.envPrefix)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"batch_size":   cfg.BatchSize,
		"retry_policy": cfg.RetryPolicy,
		"workers":      cfg.Workers,
	}).Info("starting")

	if opts.jaegerAgent != "" {
		closer, err := tracing.NewTracer("dispatchdemo", opts.jaegerAgent)
		if err != nil {
			return err
		}
		defer closer.Close()

		tracing.RegisterContext()
	}

	c, err := configure.NewContainer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	store := tracing.NewEventStore(memory.NewEventStore())
	if err := c.RegisterEventStore(store); err != nil {
		return err
	}

	innerBus, err := local.NewEventBus()
	if err != nil {
		return err
	}
	defer innerBus.Close()

	bus := tracing.NewEventBus(innerBus)

	p := newProjector(store, opts.aggregates*opts.events)
	if err := c.AddHandler(ctx, bus, ed.MatchEvents{ChangedEvent, TickEvent}, p); err != nil {
		return err
	}

	go logErrors(logger, c.Errors(), bus.Errors())

	ids := make([]uuid.UUID, opts.aggregates)
	for i := range ids {
		ids[i] = uuid.New()
	}

	start := time.Now()

	// Every aggregate has its own producer, so the events of all aggregates
	// interleave on the bus.
	g, gctx := errgroup.WithContext(ctx)

	for _, id := range ids {
		id := id

		g.Go(func() error {
			for v := 0; v < opts.events; v++ {
				event := ed.NewEvent(ChangedEvent, &ChangedData{Step: v}, time.Now(),
					ed.ForAggregate(AggregateType, id, v))
				if err := bus.HandleEvent(gctx, event); err != nil {
					return fmt.Errorf("could not publish event: %w", err)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	fmt.Fprintf(out, "handled %d events of %d aggregates in order in %s\n",
		opts.aggregates*opts.events, opts.aggregates, time.Since(start).Round(time.Millisecond))

	for _, line := range p.summary() {
		fmt.Fprintln(out, line)
	}

	if opts.httpAddr == "" {
		return nil
	}

	return serve(ctx, opts, logger, bus, store)
}

// serve publishes clock events and serves the events of the store and the bus
// until the context is cancelled.
func serve(ctx context.Context, opts options, logger logrus.FieldLogger, bus ed.EventBus, store ed.EventStore) error {
	ws, err := httputils.NewEventBusHandler(ctx, bus, ed.MatchAll{}, "demo")
	if err != nil {
		return err
	}

	clock := cron.NewEventHandler(bus, cron.WithLogger(logger))
	defer clock.Close()

	clockID := uuid.New()
	version := 0

	if err := clock.ScheduleEvent(ctx, opts.tick, func(t time.Time) ed.Event {
		e := ed.NewEvent(TickEvent, &TickData{At: t}, t, ed.ForAggregate(AggregateType, clockID, version))
		version++

		return e
	}); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/events/", httputils.EventStoreHandler(store))

	srv := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("could not shut down HTTP server")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     opts.httpAddr,
		"clock_id": clockID,
	}).Info("serving events")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not serve: %w", err)
	}

	return nil
}

func logErrors(logger logrus.FieldLogger, handlerErrs <-chan *async.Error, busErrs <-chan error) {
	for handlerErrs != nil || busErrs != nil {
		select {
		case err, ok := <-handlerErrs:
			if !ok {
				handlerErrs = nil

				continue
			}

			logger.WithError(err).Error("could not handle event")
		case err, ok := <-busErrs:
			if !ok {
				busErrs = nil

				continue
			}

			logger.WithError(err).Error("event bus error")
		}
	}
}

// projector saves every changed event to the store. The store only accepts
// the next version of an aggregate, so any event handled out of order fails.
type projector struct {
	store ed.EventStore
	total int

	mu      sync.Mutex
	counts  map[uuid.UUID]int
	handled int
	done    chan struct{}
}

func newProjector(store ed.EventStore, total int) *projector {
	return &projector{
		store:  store,
		total:  total,
		counts: map[uuid.UUID]int{},
		done:   make(chan struct{}),
	}
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (p *projector) HandlerType() ed.EventHandlerType {
	return "projector"
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (p *projector) HandleEvent(ctx context.Context, event ed.Event) error {
	if err := p.store.Save(ctx, []ed.Event{event}); err != nil {
		return err
	}

	if event.EventType() != ChangedEvent {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[event.AggregateID()]++

	if p.handled++; p.handled == p.total {
		close(p.done)
	}

	return nil
}

func (p *projector) summary() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := make([]string, 0, len(p.counts))
	for id, n := range p.counts {
		lines = append(lines, fmt.Sprintf("  %s: %d events", id, n))
	}

	sort.Strings(lines)

	return lines
}
