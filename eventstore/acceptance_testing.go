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

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
	"github.com/stretchr/testify/assert"
)

// AcceptanceTest is the acceptance test that all implementations of EventStore
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventStore(t *testing.T) {
//	    store := NewEventStore()
//	    eventstore.AcceptanceTest(t, store, context.Background())
//	}
func AcceptanceTest(t *testing.T, store ed.EventStore, ctx context.Context) []ed.Event {
	savedEvents := []ed.Event{}

	type contextKey string

	ctx = context.WithValue(ctx, contextKey("testkey"), "testval")

	// Save no events.
	eventStoreErr := &ed.EventStoreError{}

	err := store.Save(ctx, []ed.Event{})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrMissingEvents) {
		t.Error("there should be a event store error:", err)
	}

	// Save event, version 0.
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event0 := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: "event0"}, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 0))

	if err := store.Save(ctx, []ed.Event{event0}); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event0)

	// Try to save same event twice.
	err = store.Save(ctx, []ed.Event{event0})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Save event, version 1, with metadata.
	event1 := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 1),
		ed.WithMetadata(map[string]interface{}{"meta": "data", "num": 42.0}),
	)

	if err := store.Save(ctx, []ed.Event{event1}); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event1)

	// Save event without data, version 2.
	event2 := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 2))

	if err := store.Save(ctx, []ed.Event{event2}); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event2)

	// Save multiple events, version 3, 4 and 5.
	event3 := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 3))
	event4 := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 4))
	event5 := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 5))

	if err := store.Save(ctx, []ed.Event{event3, event4, event5}); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event3, event4, event5)

	// Save events with a gap in the versions, nothing may be written.
	eventGapStart := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 6))
	eventGapEnd := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 8))

	err = store.Save(ctx, []ed.Event{eventGapStart, eventGapEnd})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Save events out of order.
	eventLate := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 7))

	err = store.Save(ctx, []ed.Event{eventLate, eventGapStart})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Save event for different aggregate IDs.
	eventSameAggID := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 6))
	eventOtherAggID := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, uuid.New(), 7))

	err = store.Save(ctx, []ed.Event{eventSameAggID, eventOtherAggID})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrMismatchedEventAggregateIDs) {
		t.Error("there should be a event store error:", err)
	}

	// Save event of different aggregate types.
	eventSameAggType := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 6))
	eventOtherAggType := ed.NewEvent(mocks.EventOtherType, nil, timestamp,
		ed.ForAggregate(ed.AggregateType("OtherAggregate"), id, 7))

	err = store.Save(ctx, []ed.Event{eventSameAggType, eventOtherAggType})
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrMismatchedEventAggregateTypes) {
		t.Error("there should be a event store error:", err)
	}

	// Save event for another aggregate.
	id2 := uuid.New()
	event6 := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: "event6"}, timestamp,
		ed.ForAggregate(mocks.AggregateType, id2, 0))

	if err := store.Save(ctx, []ed.Event{event6}); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event6)

	// Load events for non-existing aggregate.
	events, err := store.Load(ctx, uuid.New())
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ed.ErrAggregateNotFound) {
		t.Error("there should be a not found error:", err)
	}

	if len(events) != 0 {
		t.Error("there should be no loaded events:", eventsToString(events))
	}

	// Load events, none of the rejected saves may have written anything.
	events, err = store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	expectedEvents := []ed.Event{
		event0,                 // Version 0
		event1,                 // Version 1
		event2,                 // Version 2
		event3, event4, event5, // Version 3, 4 and 5
	}

	assert.Len(t, events, len(expectedEvents), "incorrect number of loaded events: %s", eventsToString(events))

	for i, event := range events {
		if i >= len(expectedEvents) {
			break
		}

		if err := mocks.CompareEvents(event, expectedEvents[i]); err != nil {
			t.Error("the event was incorrect:", err)
		}

		assert.Equal(t, id, event.AggregateID())
		assert.Equal(t, i, event.Version())
		assert.True(t, event.Timestamp().Equal(timestamp), "the timestamp should be correct")
	}

	if len(events) > 1 {
		assert.Equal(t, "data", events[1].Metadata()["meta"])
	}

	// Load events for another aggregate.
	events, err = store.Load(ctx, id2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if assert.Len(t, events, 1) {
		if err := mocks.CompareEvents(events[0], event6); err != nil {
			t.Error("the event was incorrect:", err)
		}
	}

	return savedEvents
}

// ContiguityTest checks that a store keeps the versions of a stream
// contiguous when many saves race for the same next version. Exactly one
// save per version may succeed.
func ContiguityTest(t *testing.T, store ed.EventStore, ctx context.Context) {
	const writers, rounds = 4, 10

	id := uuid.New()

	for v := 0; v < rounds; v++ {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)

		for w := 0; w < writers; w++ {
			wg.Add(1)

			go func(w int) {
				defer wg.Done()

				e := ed.NewEvent(mocks.EventType, &mocks.EventData{Content: fmt.Sprintf("w%d", w)}, time.Now(),
					ed.ForAggregate(mocks.AggregateType, id, v))

				err := store.Save(ctx, []ed.Event{e})
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()

					return
				}

				if !errors.Is(err, ed.ErrIncorrectEventVersion) && !errors.Is(err, ed.ErrEventConflictFromOtherSave) {
					t.Error("the error should be a version conflict:", err)
				}
			}(w)
		}

		wg.Wait()

		if succeeded != 1 {
			t.Fatalf("exactly one save of version %d should succeed: %d", v, succeeded)
		}
	}

	events, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	assert.Len(t, events, rounds)

	for i, e := range events {
		assert.Equal(t, i, e.Version(), "the versions should be contiguous")
	}
}

func eventsToString(events []ed.Event) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = fmt.Sprintf("%s:%s (%s@%d)",
			e.AggregateType(), e.EventType(),
			e.AggregateID(), e.Version())
	}

	return strings.Join(parts, ", ")
}
