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

package bson

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec"
)

// EventCodec is a codec for marshaling and unmarshaling events
// to and from bytes in BSON format.
type EventCodec struct{}

// MarshalEvent marshals an event into bytes in BSON format.
func (c *EventCodec) MarshalEvent(ctx context.Context, event ed.Event) ([]byte, error) {
	e := evt{
		Envelope: codec.NewEnvelope(ctx, event),
	}

	// Marshal event data if there is any.
	if event.Data() != nil {
		var err error
		if e.RawData, err = bson.Marshal(event.Data()); err != nil {
			return nil, fmt.Errorf("could not marshal event data: %w", err)
		}
	}

	b, err := bson.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not marshal event: %w", err)
	}

	return b, nil
}

// UnmarshalEvent unmarshals an event from bytes in BSON format.
func (c *EventCodec) UnmarshalEvent(ctx context.Context, b []byte) (ed.Event, context.Context, error) {
	var e evt
	if err := bson.Unmarshal(b, &e); err != nil {
		return nil, nil, fmt.Errorf("could not unmarshal event: %w", err)
	}

	return e.Event(ctx, len(e.RawData) > 0, func(data ed.EventData) error {
		return bson.Unmarshal(e.RawData, data)
	})
}

// evt is the internal event used on the wire only.
type evt struct {
	codec.Envelope `bson:",inline"`
	RawData        bson.Raw `bson:"data,omitempty"`
}
