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

package eventdispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/eventdispatch/uuid"
)

// EventStore is an interface for an event sourcing event store.
//
// The events of one aggregate form a contiguous, zero-based series of
// versions. A save must only contain events of one aggregate and must continue
// the stored series exactly, otherwise it is rejected without writing
// anything.
type EventStore interface {
	// Save appends all events in the event stream to the store.
	Save(ctx context.Context, events []Event) error

	// Load loads all events for the aggregate id from the store, ordered by
	// version.
	Load(context.Context, uuid.UUID) ([]Event, error)

	// Close closes the EventStore.
	Close() error
}

var (
	// ErrMissingEvents is when there is no events to be saved.
	ErrMissingEvents = errors.New("missing events")
	// ErrMismatchedEventAggregateIDs is when the events to be saved have different aggregate IDs.
	ErrMismatchedEventAggregateIDs = errors.New("mismatched event aggregate IDs")
	// ErrMismatchedEventAggregateTypes is when the events to be saved have different aggregate types.
	ErrMismatchedEventAggregateTypes = errors.New("mismatched event aggregate types")
	// ErrIncorrectEventVersion is when an event does not continue the
	// version series of its aggregate.
	ErrIncorrectEventVersion = errors.New("mismatching event version")
	// ErrEventConflictFromOtherSave is when another save operation wrote
	// events for the same aggregate concurrently.
	ErrEventConflictFromOtherSave = errors.New("event conflict from other save")
	// ErrAggregateNotFound is when no events can be found for an aggregate.
	ErrAggregateNotFound = errors.New("aggregate not found")
)

// EventStoreOperation is the operation done when an error happened.
type EventStoreOperation string

const (
	// Errors during loading of events.
	EventStoreOpLoad = "load"
	// Errors during saving of events.
	EventStoreOpSave = "save"
)

// EventStoreError is an error in the event store.
type EventStoreError struct {
	// Err is the error.
	Err error
	// BaseErr is an optional underlying error, for example from the DB driver.
	BaseErr error
	// Op is the operation for the error.
	Op EventStoreOperation
	// AggregateType of related operation.
	AggregateType AggregateType
	// AggregateID of related operation.
	AggregateID uuid.UUID
	// Version is the version the aggregate had in the store.
	Version int
	// Events of the related operation.
	Events []Event
}

// Error implements the Error method of the errors.Error interface.
func (e *EventStoreError) Error() string {
	str := "event store: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.BaseErr != nil {
		str += ": " + e.BaseErr.Error()
	}

	if e.AggregateID != uuid.Nil {
		at := "Aggregate"
		if e.AggregateType != "" {
			at = string(e.AggregateType)
		}

		str += fmt.Sprintf(", %s(%s, v%d)", at, e.AggregateID, e.Version)
	}

	if len(e.Events) > 0 {
		var es []string
		for _, ev := range e.Events {
			if ev != nil {
				es = append(es, ev.String())
			} else {
				es = append(es, "nil event")
			}
		}

		str += fmt.Sprintf(" [%v]", es)
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *EventStoreError) Cause() error {
	return e.Unwrap()
}

// CheckEventsToSave validates that a batch of events can be appended to a
// stream that currently holds storedVersions events. It returns the
// reason for a rejection, or nil.
func CheckEventsToSave(events []Event, storedVersions int) error {
	if len(events) == 0 {
		return ErrMissingEvents
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	for i, event := range events {
		if event.AggregateID() != id {
			return ErrMismatchedEventAggregateIDs
		}

		if event.AggregateType() != at {
			return ErrMismatchedEventAggregateTypes
		}

		if event.Version() != storedVersions+i {
			return ErrIncorrectEventVersion
		}
	}

	return nil
}
