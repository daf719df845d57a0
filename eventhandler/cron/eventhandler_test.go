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

package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

func TestEventHandler(t *testing.T) {
	h := mocks.NewEventHandler("test")
	cron := NewEventHandler(h)

	defer cron.Close()

	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	expectedEvent := ed.NewEvent(mocks.EventType, nil, timestamp,
		ed.ForAggregate(mocks.AggregateType, uuid.New(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cron.ScheduleEvent(ctx, "* * * * * * *", func(t time.Time) ed.Event {
		return expectedEvent
	}); err != nil {
		t.Error("there should be no error:", err)
	}

	if !h.Wait(2 * time.Second) {
		t.Fatal("the first event should be triggered")
	}

	if !h.Wait(2 * time.Second) {
		t.Fatal("the second event should be triggered")
	}

	cancel()

	n := len(h.HandledEvents())
	if n < 2 {
		t.Fatal("there should be two events:", n)
	}

	<-time.After(1500 * time.Millisecond)

	// At most one trigger can have been under way at cancel.
	if m := len(h.HandledEvents()); m > n+1 {
		t.Error("no more events should be triggered:", m)
	}

	for _, e := range h.HandledEvents() {
		if err := mocks.CompareEvents(e, expectedEvent); err != nil {
			t.Error("the event should be correct:", err)
		}
	}
}

func TestEventHandlerErrors(t *testing.T) {
	h := mocks.NewEventHandler("test")
	h.Err = errors.New("handler error")
	cron := NewEventHandler(h)

	if err := cron.ScheduleEvent(context.Background(), "not a cron line", nil); err == nil {
		t.Error("there should be an error for an invalid cron line")
	}

	event := mocks.NewEvent(uuid.New(), 0, "event")
	if err := cron.ScheduleEvent(context.Background(), "* * * * * * *", func(time.Time) ed.Event {
		return event
	}); err != nil {
		t.Fatal("there should be no error:", err)
	}

	select {
	case err := <-cron.Errors():
		var handlerErr *ed.EventHandlerError
		if !errors.As(err, &handlerErr) || !errors.Is(err, h.Err) {
			t.Error("the error should be correct:", err)
		}

		if handlerErr.Event != event {
			t.Error("the error should carry the event:", handlerErr.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("there should be an error")
	}

	cron.Close()

	if err := cron.ScheduleEvent(context.Background(), "* * * * * * *", nil); !errors.Is(err, ErrClosed) {
		t.Error("there should be a closed error:", err)
	}

	// Drain until closed.
	for range cron.Errors() {
	}

	// Closing twice is fine.
	cron.Close()
}
