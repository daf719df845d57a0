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

package memory

import (
	"context"
	"fmt"
	"sync"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/uuid"
)

// EventStore implements EventStore as an in memory structure. Streams are kept
// apart per namespace of the context.
type EventStore struct {
	// The outer map is with namespace as key, the inner with aggregate ID.
	db   map[string]map[uuid.UUID]aggregateRecord
	dbMu sync.RWMutex
}

type aggregateRecord struct {
	AggregateID uuid.UUID
	Version     int
	Events      []ed.Event
}

// NewEventStore creates a new EventStore using memory as storage.
func NewEventStore() *EventStore {
	return &EventStore{
		db: map[string]map[uuid.UUID]aggregateRecord{},
	}
}

// Save implements the Save method of the eventdispatch.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []ed.Event) error {
	if len(events) == 0 {
		return &ed.EventStoreError{
			Err: ed.ErrMissingEvents,
			Op:  ed.EventStoreOpSave,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()
	ns := ed.NamespaceFromContext(ctx)

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	aggregate := s.namespace(ns)[id]

	// Validate the whole batch before anything is written.
	if err := ed.CheckEventsToSave(events, aggregate.Version); err != nil {
		return &ed.EventStoreError{
			Err:           err,
			Op:            ed.EventStoreOpSave,
			AggregateType: at,
			AggregateID:   id,
			Version:       aggregate.Version,
			Events:        events,
		}
	}

	dbEvents := make([]ed.Event, 0, len(events))

	for _, event := range events {
		e, err := ed.CopyEvent(event)
		if err != nil {
			return &ed.EventStoreError{
				Err:           fmt.Errorf("could not copy event: %w", err),
				Op:            ed.EventStoreOpSave,
				AggregateType: at,
				AggregateID:   id,
				Version:       aggregate.Version,
				Events:        events,
			}
		}

		dbEvents = append(dbEvents, e)
	}

	s.namespace(ns)[id] = aggregateRecord{
		AggregateID: id,
		Version:     aggregate.Version + len(dbEvents),
		Events:      append(aggregate.Events, dbEvents...),
	}

	return nil
}

// Load implements the Load method of the eventdispatch.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ed.Event, error) {
	ns := ed.NamespaceFromContext(ctx)

	s.dbMu.RLock()
	defer s.dbMu.RUnlock()

	aggregate, ok := s.namespace(ns)[id]
	if !ok {
		return []ed.Event{}, &ed.EventStoreError{
			Err:         ed.ErrAggregateNotFound,
			Op:          ed.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	events := make([]ed.Event, len(aggregate.Events))

	for i, event := range aggregate.Events {
		e, err := ed.CopyEvent(event)
		if err != nil {
			return nil, &ed.EventStoreError{
				Err:           fmt.Errorf("could not copy event: %w", err),
				Op:            ed.EventStoreOpLoad,
				AggregateType: event.AggregateType(),
				AggregateID:   id,
				Events:        events,
			}
		}

		events[i] = e
	}

	return events, nil
}

// Clear removes all events of the namespace in the context.
func (s *EventStore) Clear(ctx context.Context) error {
	ns := ed.NamespaceFromContext(ctx)

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	delete(s.db, ns)

	return nil
}

// Close implements the Close method of the eventdispatch.EventStore interface.
func (s *EventStore) Close() error {
	return nil
}

// namespace returns the namespace map, creating it if needed. The caller must
// hold the lock.
func (s *EventStore) namespace(ns string) map[uuid.UUID]aggregateRecord {
	if m, ok := s.db[ns]; ok {
		return m
	}

	m := map[uuid.UUID]aggregateRecord{}
	s.db[ns] = m

	return m
}
