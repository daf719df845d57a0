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

package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventBus
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventBus(t *testing.T) {
//	    bus1 := NewEventBus()
//	    bus2 := NewEventBus()
//	    eventbus.AcceptanceTest(t, bus1, bus2, time.Second)
//	}
//
// The two buses must share their subscriptions, like two instances of the
// same app.
func AcceptanceTest(t *testing.T, bus1, bus2 ed.EventBus, timeout time.Duration) {
	ctx := mocks.WithContextOne(context.Background(), "testval")

	// Bad handlers.
	if err := bus1.AddHandler(ctx, nil, mocks.NewEventHandler("no-matcher")); !errors.Is(err, ed.ErrMissingMatcher) {
		t.Error("the error should be correct:", err)
	}

	if err := bus1.AddHandler(ctx, ed.MatchAll{}, nil); !errors.Is(err, ed.ErrMissingHandler) {
		t.Error("the error should be correct:", err)
	}

	if err := bus1.AddHandler(ctx, ed.MatchAll{}, mocks.NewEventHandler("multi")); err != nil {
		t.Error("there should be no error:", err)
	}

	if err := bus1.AddHandler(ctx, ed.MatchAll{}, mocks.NewEventHandler("multi")); !errors.Is(err, ed.ErrHandlerAlreadyAdded) {
		t.Error("the error should be correct:", err)
	}

	// Without handler.
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 0))

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	// Add handlers.
	handlerBus1 := mocks.NewEventHandler("handler")
	handlerBus2 := mocks.NewEventHandler("handler")
	anotherHandlerBus2 := mocks.NewEventHandler("another_handler")

	for _, add := range []struct {
		bus ed.EventBus
		h   ed.EventHandler
	}{
		{bus1, handlerBus1},
		{bus2, handlerBus2},
		{bus2, anotherHandlerBus2},
	} {
		if err := add.bus.AddHandler(ctx, ed.MatchAll{}, add.h); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	// Let remote subscriptions settle before publishing.
	time.Sleep(timeout / 10)

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	// Check for correct event in handler 1 or 2.
	expectedEvents := []ed.Event{event1}

	if !(handlerBus1.Wait(timeout) || handlerBus2.Wait(timeout)) {
		t.Error("did not receive event in time")
	}

	handled1, handled2 := handlerBus1.HandledEvents(), handlerBus2.HandledEvents()
	if !(mocks.EqualEvents(handled1, expectedEvents) || mocks.EqualEvents(handled2, expectedEvents)) {
		t.Error("the events were incorrect:")
		t.Log(pretty.Sprint(handled1))
		t.Log(pretty.Sprint(handled2))
	}

	if len(handled1)+len(handled2) != 1 {
		t.Error("only one handler should receive the events")
	}

	handlerBus1.RLock()
	val1, ok1 := mocks.ContextOne(handlerBus1.Context)
	handlerBus1.RUnlock()

	handlerBus2.RLock()
	val2, ok2 := mocks.ContextOne(handlerBus2.Context)
	handlerBus2.RUnlock()

	if !(ok1 && val1 == "testval") && !(ok2 && val2 == "testval") {
		t.Error("the context should be correct")
	}

	// Check the other handler.
	if !anotherHandlerBus2.Wait(timeout) {
		t.Error("did not receive event in time")
	}

	if !mocks.EqualEvents(anotherHandlerBus2.HandledEvents(), expectedEvents) {
		t.Error("the events were incorrect:", pretty.Sprint(anotherHandlerBus2.HandledEvents()))
	}

	// Matching.
	matchedHandler := mocks.NewEventHandler("matched_handler")
	if err := bus1.AddHandler(ctx, ed.MatchEvents{mocks.EventOtherType}, matchedHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	time.Sleep(timeout / 10)

	otherEvent := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, uuid.New(), 0))

	for _, e := range []ed.Event{event1, otherEvent} {
		if err := bus1.HandleEvent(ctx, e); err != nil {
			t.Error("there should be no error:", err)
		}
	}

	if !matchedHandler.Wait(timeout) {
		t.Error("did not receive event in time")
	}

	if !mocks.EqualEvents(matchedHandler.HandledEvents(), []ed.Event{otherEvent}) {
		t.Error("only the matching event should be handled:", pretty.Sprint(matchedHandler.HandledEvents()))
	}

	// Ordering per aggregate.
	orderingTest(t, ctx, bus1, timeout)

	// Test async errors from handlers.
	errorHandler := mocks.NewEventHandler("error_handler")
	errorHandler.Err = errors.New("handler error")

	if err := bus1.AddHandler(ctx, ed.MatchAll{}, errorHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	time.Sleep(timeout / 10)

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	deadline := time.After(timeout)

	for {
		select {
		case <-deadline:
			t.Error("there should be an async error")

			return
		case err := <-bus1.Errors():
			var busErr *ed.EventBusError
			if !errors.As(err, &busErr) || !errors.Is(err, errorHandler.Err) {
				// Errors of other handlers or of the transport.
				t.Log("other error:", err)

				continue
			}

			assert.Equal(t, "event bus: could not handle event (error_handler): handler error ["+event1.String()+"]", err.Error())

			if busErr.Event == nil || mocks.CompareEvents(busErr.Event, event1) != nil {
				t.Error("the event should be correct:", busErr.Event)
			}

			return
		}
	}
}

// orderingTest publishes many events of one aggregate and checks that a
// handler gets them in order.
func orderingTest(t *testing.T, ctx context.Context, bus ed.EventBus, timeout time.Duration) {
	const n = 20

	var (
		versions []int
		mu       sync.Mutex
		done     = make(chan struct{})
	)

	h := &orderedHandler{fn: func(e ed.Event) {
		mu.Lock()
		defer mu.Unlock()

		versions = append(versions, e.Version())
		if len(versions) == n {
			close(done)
		}
	}}

	if err := bus.AddHandler(ctx, ed.MatchAll{}, h); err != nil {
		t.Fatal("there should be no error:", err)
	}

	time.Sleep(timeout / 10)

	id := uuid.New()

	for i := 0; i < n; i++ {
		if err := bus.HandleEvent(ctx, mocks.NewEvent(id, i, "ordered")); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
		t.Error("did not receive all events in time")

		return
	}

	mu.Lock()
	defer mu.Unlock()

	for i, v := range versions {
		if v != i {
			t.Error("the events should be handled in order:", versions)

			return
		}
	}
}

type orderedHandler struct {
	fn func(ed.Event)
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (h *orderedHandler) HandlerType() ed.EventHandlerType {
	return "ordered_handler"
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (h *orderedHandler) HandleEvent(ctx context.Context, e ed.Event) error {
	// Only count the events of the ordering test.
	if d, ok := e.Data().(*mocks.EventData); ok && d.Content == "ordered" {
		h.fn(e)
	}

	return nil
}
