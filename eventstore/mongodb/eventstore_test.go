// Copyright (c) 2018 - The Event Horizon authors.
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

package mongodb

import (
	"context"
	"errors"
	"testing"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/eventstore"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/mongoutils"
	"github.com/looplab/eventdispatch/uuid"
)

func TestEventStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	url := mongoutils.IntegrationURI(t)
	db := mongoutils.RandomDBName(t)

	t.Log("using DB:", db)

	store, err := NewEventStore(url, db)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if store == nil {
		t.Fatal("there should be a store")
	}

	defer store.Close()

	eventstore.AcceptanceTest(t, store, context.Background())
	eventstore.ContiguityTest(t, store, context.Background())
}

func TestWithCollectionNamesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	url := mongoutils.IntegrationURI(t)
	db := mongoutils.RandomDBName(t)
	eventsColl := "foo_events"
	streamsColl := "bar_streams"

	t.Log("using DB:", db)

	store, err := NewEventStore(url, db,
		WithCollectionNames(eventsColl, streamsColl),
	)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if store == nil {
		t.Fatal("there should be a store")
	}

	defer store.Close()

	if store.events.Name() != eventsColl {
		t.Fatal("events collection should use custom collection name")
	}

	if store.streams.Name() != streamsColl {
		t.Fatal("streams collection should use custom collection name")
	}

	// Providing the same collection name should result in an error.
	if _, err := NewEventStore(url, db,
		WithCollectionNames("my-collection", "my-collection"),
	); err == nil || err.Error() != "error while applying option: custom collection names are equal" {
		t.Fatal("there should be an error")
	}

	// Providing empty collection names should result in an error.
	if _, err := NewEventStore(url, db,
		WithCollectionNames("", "my-collection"),
	); err == nil || !errors.Is(err, mongoutils.ErrMissingCollectionName) {
		t.Fatal("there should be an error")
	}

	if _, err := NewEventStore(url, db,
		WithCollectionNames("my events", "my-collection"),
	); err == nil || !errors.Is(err, mongoutils.ErrInvalidCharInCollectionName) {
		t.Fatal("there should be an error")
	}
}

func TestWithEventHandlerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	h := mocks.NewEventHandler("handler")

	store, err := NewEventStore(mongoutils.IntegrationURI(t), mongoutils.RandomDBName(t),
		WithEventHandler(h),
	)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	defer store.Close()

	ctx := context.Background()
	id := uuid.New()
	event := mocks.NewEvent(id, 0, "event")

	if err := store.Save(ctx, []ed.Event{event}); err != nil {
		t.Error("there should be no error:", err)
	}

	expected := []ed.Event{event}
	if !mocks.EqualEvents(h.HandledEvents(), expected) {
		t.Error("the handler should have received the event")
	}

	// The handler must not be called for a rejected save.
	h.Reset()

	if err := store.Save(ctx, []ed.Event{event}); !errors.Is(err, ed.ErrIncorrectEventVersion) {
		t.Error("there should be a version error:", err)
	}

	if len(h.HandledEvents()) != 0 {
		t.Error("the handler should not have been called")
	}

	if err := store.Clear(ctx); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, err := store.Load(ctx, id); !errors.Is(err, ed.ErrAggregateNotFound) {
		t.Error("the events should have been cleared:", err)
	}
}

func BenchmarkEventStore(b *testing.B) {
	store, err := NewEventStore(mongoutils.IntegrationURI(b), mongoutils.RandomDBName(b))
	if err != nil {
		b.Fatal("there should be no error:", err)
	}

	defer store.Close()

	eventstore.Benchmark(b, store)
}
