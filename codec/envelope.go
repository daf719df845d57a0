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

package codec

import (
	"context"
	"errors"
	"fmt"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/uuid"
)

// ErrInvalidAggregateID is when a decoded event has an aggregate ID that can
// not be parsed.
var ErrInvalidAggregateID = errors.New("invalid aggregate ID")

// Envelope is the part of an encoded event that is common to all codecs,
// everything but the event data. Codecs embed it in their wire types.
type Envelope struct {
	EventType     ed.EventType           `json:"event_type" bson:"event_type"`
	Timestamp     time.Time              `json:"timestamp" bson:"timestamp"`
	AggregateType ed.AggregateType       `json:"aggregate_type" bson:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id" bson:"_id"`
	Version       int                    `json:"version" bson:"version"`
	Metadata      map[string]interface{} `json:"metadata" bson:"metadata"`
	Context       map[string]interface{} `json:"context" bson:"context"`
}

// NewEnvelope creates the envelope of an event, with the marshaled values of
// the context.
func NewEnvelope(ctx context.Context, event ed.Event) Envelope {
	e := Envelope{
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp(),
		AggregateType: event.AggregateType(),
		Version:       event.Version(),
		Metadata:      event.Metadata(),
		Context:       ed.MarshalContext(ctx),
	}

	if id := event.AggregateID(); id != uuid.Nil {
		e.AggregateID = id.String()
	}

	return e
}

// Event creates the event of the envelope. The data is decoded with decode
// into a new value of the type registered for the event type, when there is
// any. The returned context has the values of the envelope unmarshaled.
func (e Envelope) Event(ctx context.Context, hasData bool, decode func(ed.EventData) error) (ed.Event, context.Context, error) {
	var data ed.EventData

	if hasData {
		var err error
		if data, err = ed.CreateEventData(e.EventType); err != nil {
			return nil, nil, fmt.Errorf("could not create event data: %w", err)
		}

		if err := decode(data); err != nil {
			return nil, nil, fmt.Errorf("could not unmarshal event data: %w", err)
		}
	}

	id := uuid.Nil

	if e.AggregateID != "" {
		var err error
		if id, err = uuid.Parse(e.AggregateID); err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAggregateID, e.AggregateID)
		}
	}

	event := ed.NewEvent(
		e.EventType,
		data,
		e.Timestamp,
		ed.ForAggregate(
			e.AggregateType,
			id,
			e.Version,
		),
		ed.WithMetadata(e.Metadata),
	)

	return event, ed.UnmarshalContext(ctx, e.Context), nil
}
