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
	"errors"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/eventstore"
	"github.com/looplab/eventdispatch/eventstore/memory"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

// newMockTracer installs a mock tracer as the global tracer for a test.
func newMockTracer(t *testing.T) *mocktracer.MockTracer {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)

	t.Cleanup(func() {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
	})

	return tracer
}

func TestEventStoreAddsTracing(t *testing.T) {
	newMockTracer(t)

	store := NewEventStore(memory.NewEventStore())
	if store == nil {
		t.Fatal("there should be a store")
	}

	eventstore.AcceptanceTest(t, store, context.Background())
}

func TestEventStoreSpans(t *testing.T) {
	tracer := newMockTracer(t)

	store := NewEventStore(memory.NewEventStore())
	ctx := context.Background()
	id := uuid.New()

	event := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: "event"}, time.Now(),
		ed.ForAggregate(mocks.AggregateType, id, 1))
	if err := store.Save(ctx, []ed.Event{event}); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if _, err := store.Load(ctx, id); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// Save with a version conflict.
	if err := store.Save(ctx, []ed.Event{event}); err == nil {
		t.Fatal("there should be an error")
	}

	spans := tracer.FinishedSpans()
	if len(spans) != 3 {
		t.Fatal("there should be 3 spans:", len(spans))
	}

	if spans[0].OperationName != "EventStore.Save" {
		t.Error("the operation should be correct:", spans[0].OperationName)
	}

	if spans[0].Tag("ed.aggregate_id") != id || spans[0].Tag("ed.num_events") != 1 {
		t.Error("the save tags should be correct:", spans[0].Tags())
	}

	if spans[0].Tag("error") != nil {
		t.Error("the save should not be tagged as failed")
	}

	if spans[1].OperationName != "EventStore.Load" || spans[1].Tag("ed.num_events") != 1 {
		t.Error("the load span should be correct:", spans[1].OperationName, spans[1].Tags())
	}

	if spans[2].Tag("error") != true {
		t.Error("the failed save should be tagged as failed:", spans[2].Tags())
	}
}

func TestEventHandlerMiddleware(t *testing.T) {
	tracer := newMockTracer(t)

	inner := mocks.NewEventHandler("handler")
	h := ed.UseEventHandlerMiddleware(inner, NewEventHandlerMiddleware())

	id := uuid.New()
	event := mocks.NewEvent(id, 3, "event")

	if err := h.HandleEvent(context.Background(), event); err != nil {
		t.Fatal("there should be no error:", err)
	}

	inner.Err = errors.New("handler error")
	if err := h.HandleEvent(context.Background(), event); !errors.Is(err, inner.Err) {
		t.Fatal("the handler error should be returned:", err)
	}

	spans := tracer.FinishedSpans()
	if len(spans) != 2 {
		t.Fatal("there should be 2 spans:", len(spans))
	}

	sp := spans[0]
	if sp.OperationName != "handler.Event("+mocks.EventType.String()+")" {
		t.Error("the operation should be correct:", sp.OperationName)
	}

	if sp.Tag("ed.event_type") != mocks.EventType ||
		sp.Tag("ed.aggregate_type") != mocks.AggregateType ||
		sp.Tag("ed.aggregate_id") != id ||
		sp.Tag("ed.version") != 3 {
		t.Error("the event tags should be correct:", sp.Tags())
	}

	if spans[1].Tag("error") != true {
		t.Error("the failed handling should be tagged as failed:", spans[1].Tags())
	}

	if c, ok := h.(ed.EventHandlerChain); !ok || c.InnerHandler() != inner {
		t.Error("the middleware should expose the inner handler")
	}
}

func TestTransactionManager(t *testing.T) {
	tracer := newMockTracer(t)

	if NewTransactionManager(nil) != nil {
		t.Error("there should be no manager without an inner manager")
	}

	inner := &mocks.TransactionManager{}
	tm := NewTransactionManager(inner)
	ctx := context.Background()

	// Commit, with the work of the transaction as a child span.
	txCtx, tx, err := tm.Begin(ctx)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if _, ok := mocks.TransactionFromContext(txCtx); !ok {
		t.Error("the context should carry the inner transaction")
	}

	child, _ := opentracing.StartSpanFromContext(txCtx, "work")
	child.Finish()

	if err := tx.Commit(ctx); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// Rollback.
	_, tx, err = tm.Begin(ctx)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// Failed begin.
	inner.BeginErr = errors.New("begin error")
	if _, _, err := tm.Begin(ctx); !errors.Is(err, inner.BeginErr) {
		t.Fatal("the begin error should be returned:", err)
	}

	spans := tracer.FinishedSpans()
	if len(spans) != 4 {
		t.Fatal("there should be 4 spans:", len(spans))
	}

	work, committed, rolledBack, failed := spans[0], spans[1], spans[2], spans[3]
	if work.ParentID != committed.SpanContext.SpanID {
		t.Error("the work should be a child of the transaction")
	}

	if committed.OperationName != "Transaction" || committed.Tag("ed.transaction") != "commit" {
		t.Error("the commit span should be correct:", committed.Tags())
	}

	if rolledBack.Tag("ed.transaction") != "rollback" {
		t.Error("the rollback span should be correct:", rolledBack.Tags())
	}

	if failed.Tag("error") != true {
		t.Error("the failed begin should be tagged as failed:", failed.Tags())
	}

	if begun, c, r := inner.Counts(); begun != 2 || c != 1 || r != 1 {
		t.Error("the inner transactions should be correct:", begun, c, r)
	}
}

func TestContextRoundTrip(t *testing.T) {
	tracer := newMockTracer(t)

	RegisterContext()

	sp := tracer.StartSpan("publish")
	ctx := opentracing.ContextWithSpan(context.Background(), sp)

	vals := ed.MarshalContext(ctx)
	if _, ok := vals[tracingSpanKeyStr]; !ok {
		t.Fatal("the span should be marshaled:", vals)
	}

	sp.Finish()

	ctx = ed.UnmarshalContext(context.Background(), vals)

	remote := opentracing.SpanFromContext(ctx)
	if remote == nil {
		t.Fatal("there should be a span in the context")
	}

	mockSpan, ok := remote.(*mocktracer.MockSpan)
	if !ok {
		t.Fatal("the span should be a mock span")
	}

	if mockSpan.ParentID != sp.(*mocktracer.MockSpan).SpanContext.SpanID {
		t.Error("the remote span should be a child of the marshaled span")
	}
}
