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

package codec

import (
	"context"
	"reflect"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

func init() {
	ed.RegisterEventData(EventType, func() ed.EventData { return &EventData{} })
}

const (
	// EventType is a the type for Event.
	EventType ed.EventType = "CodecEvent"
)

// EventCodecAcceptanceTest is the acceptance test that all implementations of
// EventCodec should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventCodec(t *testing.T) {
//	    c := EventCodec{}
//	    expectedBytes = []byte("")
//	    codec.EventCodecAcceptanceTest(t, c, expectedBytes)
//	}
//
// The encoded bytes are only checked if expectedBytes is not nil.
func EventCodecAcceptanceTest(t *testing.T, c ed.EventCodec, expectedBytes []byte) {
	// Marshaling.
	ctx := mocks.WithContextOne(context.Background(), "testval")
	id := uuid.MustParse("10a7ec0f-7f2b-46f5-bca1-877b6e33c9fd")
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	eventData := EventData{
		Bool:    true,
		String:  "string",
		Number:  42.0,
		Slice:   []string{"a", "b"},
		Map:     map[string]interface{}{"key": "value"}, // NOTE: Just one key to avoid compare issues.
		Time:    timestamp,
		TimeRef: &timestamp,
		Struct: Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
		StructRef: &Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
	}
	event := ed.NewEvent(EventType, &eventData, timestamp,
		ed.ForAggregate(mocks.AggregateType, id, 1),
		ed.WithMetadata(map[string]interface{}{"num": 42.0}), // NOTE: Just one key to avoid compare issues.
	)

	b, err := c.MarshalEvent(ctx, event)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if expectedBytes != nil && string(b) != string(expectedBytes) {
		t.Error("the encoded bytes should be correct:", string(b))
	}

	// Unmarshaling.
	decodedEvent, decodedContext, err := c.UnmarshalEvent(context.Background(), b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := mocks.CompareEvents(decodedEvent, event); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	if !decodedEvent.Timestamp().Equal(timestamp) {
		t.Error("the decoded timestamp was incorrect:", decodedEvent.Timestamp())
	}

	if !reflect.DeepEqual(decodedEvent.Metadata(), event.Metadata()) {
		t.Error("the decoded metadata was incorrect:", decodedEvent.Metadata())
	}

	if val, ok := mocks.ContextOne(decodedContext); !ok || val != "testval" {
		t.Error("the decoded context was incorrect:", decodedContext)
	}

	// Events without data or aggregate.
	bare := ed.NewEvent(mocks.EventOtherType, nil, timestamp)

	if b, err = c.MarshalEvent(context.Background(), bare); err != nil {
		t.Error("there should be no error:", err)
	}

	decodedEvent, _, err = c.UnmarshalEvent(context.Background(), b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := mocks.CompareEvents(decodedEvent, bare); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	if decodedEvent.AggregateID() != uuid.Nil {
		t.Error("the decoded event should have no aggregate:", decodedEvent.AggregateID())
	}

	// Garbage.
	if _, _, err := c.UnmarshalEvent(context.Background(), []byte("garbage")); err == nil {
		t.Error("there should be an error")
	}
}

// EventData is a mocked event data, useful in testing.
type EventData struct {
	Bool       bool
	String     string
	Number     float64
	Slice      []string
	Map        map[string]interface{}
	Time       time.Time
	TimeRef    *time.Time
	NullTime   *time.Time
	Struct     Nested
	StructRef  *Nested
	NullStruct *Nested
}

// Nested is nested event data.
type Nested struct {
	Bool   bool
	String string
	Number float64
}
