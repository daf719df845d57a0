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
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/looplab/eventdispatch/uuid"
)

func TestNewEvent(t *testing.T) {
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event := NewEvent(TestEventType, &TestEventData{"event1"}, timestamp)

	if event.EventType() != TestEventType {
		t.Error("the event type should be correct:", event.EventType())
	}

	if !reflect.DeepEqual(event.Data(), &TestEventData{"event1"}) {
		t.Error("the data should be correct:", event.Data())
	}

	if !event.Timestamp().Equal(timestamp) {
		t.Error("the timestamp should not be zero:", event.Timestamp())
	}

	if event.Version() != 0 {
		t.Error("the version should be zero:", event.Version())
	}

	if event.String() != "TestEvent" {
		t.Error("the string representation should be correct:", event.String())
	}

	id := uuid.New()
	event = NewEvent(TestEventType, &TestEventData{"event1"}, timestamp,
		ForAggregate(TestAggregateType, id, 3),
		WithMetadata(map[string]interface{}{"meta": "data"}),
		WithMetadata(map[string]interface{}{"num": 42}),
	)

	if event.EventType() != TestEventType {
		t.Error("the event type should be correct:", event.EventType())
	}

	if !reflect.DeepEqual(event.Data(), &TestEventData{"event1"}) {
		t.Error("the data should be correct:", event.Data())
	}

	if !event.Timestamp().Equal(timestamp) {
		t.Error("the timestamp should not be zero:", event.Timestamp())
	}

	if event.AggregateType() != TestAggregateType {
		t.Error("the aggregate type should be correct:", event.AggregateType())
	}

	if event.AggregateID() != id {
		t.Error("the aggregate ID should be correct:", event.AggregateID())
	}

	if event.Version() != 3 {
		t.Error("the version should be correct:", event.Version())
	}

	if !reflect.DeepEqual(event.Metadata(), map[string]interface{}{
		"meta": "data",
		"num":  42,
	}) {
		t.Error("the metadata should be correct:", event.Metadata())
	}

	if event.String() != "TestEvent("+id.String()+", v3)" {
		t.Error("the string representation should be correct:", event.String())
	}
}

func TestCreateEventData(t *testing.T) {
	data, err := CreateEventData(TestEventRegisterType)
	if !errors.Is(err, ErrEventDataNotRegistered) {
		t.Error("there should be a event not registered error:", err)
	}

	if data != nil {
		t.Error("the data should be nil")
	}

	RegisterEventData(TestEventRegisterType, func() EventData {
		return &TestEventRegisterData{}
	})

	data, err = CreateEventData(TestEventRegisterType)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if _, ok := data.(*TestEventRegisterData); !ok {
		t.Errorf("the event type should be correct: %T", data)
	}

	UnregisterEventData(TestEventRegisterType)
}

func TestCopyEvent(t *testing.T) {
	RegisterEventData(TestEventCopyType, func() EventData {
		return &TestEventCopyData{}
	})
	defer UnregisterEventData(TestEventCopyType)

	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event := NewEvent(TestEventCopyType, &TestEventCopyData{Content: "event1", Tags: []string{"a"}}, timestamp,
		ForAggregate(TestAggregateType, id, 3),
		WithMetadata(map[string]interface{}{"num": 42}))

	c, err := CopyEvent(event)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if !reflect.DeepEqual(c.Data(), event.Data()) ||
		!reflect.DeepEqual(c.Metadata(), event.Metadata()) ||
		c.AggregateID() != id || c.Version() != 3 || !c.Timestamp().Equal(timestamp) {
		t.Error("the copy should be equal:", c)
	}

	// Changes never show in the copy.
	event.Data().(*TestEventCopyData).Tags[0] = "b"
	event.Metadata()["num"] = 43

	if c.Data().(*TestEventCopyData).Tags[0] != "a" || c.Metadata()["num"] != 42 {
		t.Error("the copy should not change:", c.Data(), c.Metadata())
	}

	// Data needs to be registered.
	if _, err := CopyEvent(NewEvent(TestEventRegisterType, &TestEventRegisterData{}, timestamp)); !errors.Is(err, ErrEventDataNotRegistered) {
		t.Error("there should be a event not registered error:", err)
	}

	if c, err := CopyEvent(NewEvent(TestEventType, nil, timestamp)); err != nil || c.Data() != nil {
		t.Error("an event without data should be copied:", err)
	}
}

func TestRegisterEventEmptyName(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || r != "eventdispatch: attempt to register empty event type" {
			t.Error("there should have been a panic:", r)
		}
	}()
	RegisterEventData(TestEventRegisterEmptyType, func() EventData {
		return &TestEventRegisterEmptyData{}
	})
}

func TestRegisterEventTwice(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || r != "eventdispatch: registering duplicate types for \"TestEventRegisterTwice\"" {
			t.Error("there should have been a panic:", r)
		}
	}()
	RegisterEventData(TestEventRegisterTwiceType, func() EventData {
		return &TestEventRegisterTwiceData{}
	})
	RegisterEventData(TestEventRegisterTwiceType, func() EventData {
		return &TestEventRegisterTwiceData{}
	})
}

func TestUnregisterEventEmptyName(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || r != "eventdispatch: attempt to unregister empty event type" {
			t.Error("there should have been a panic:", r)
		}
	}()
	UnregisterEventData(TestEventUnregisterEmptyType)
}

func TestUnregisterEventTwice(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || r != "eventdispatch: unregister of non-registered type \"TestEventUnregisterTwice\"" {
			t.Error("there should have been a panic:", r)
		}
	}()
	RegisterEventData(TestEventUnregisterTwiceType, func() EventData {
		return &TestEventUnregisterTwiceData{}
	})
	UnregisterEventData(TestEventUnregisterTwiceType)
	UnregisterEventData(TestEventUnregisterTwiceType)
}

const (
	TestAggregateType AggregateType = "TestAggregate"

	TestEventType                EventType = "TestEvent"
	TestEventRegisterType        EventType = "TestEventRegister"
	TestEventRegisterEmptyType   EventType = ""
	TestEventRegisterTwiceType   EventType = "TestEventRegisterTwice"
	TestEventUnregisterEmptyType EventType = ""
	TestEventUnregisterTwiceType EventType = "TestEventUnregisterTwice"
	TestEventCopyType            EventType = "TestEventCopy"
)

type TestEventData struct {
	Content string
}

type TestEventCopyData struct {
	Content string
	Tags    []string
}

type TestEventRegisterData struct{}

type TestEventRegisterEmptyData struct{}

type TestEventRegisterTwiceData struct{}

type TestEventUnregisterTwiceData struct{}
