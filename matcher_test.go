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
	"testing"
	"time"

	"github.com/looplab/eventdispatch/uuid"
)

func TestMatchEvents(t *testing.T) {
	et1 := EventType("et1")
	et2 := EventType("et2")
	m := MatchEvents{et1, et2}

	if m.Match(nil) {
		t.Error("match events should not match nil event")
	}

	if !m.Match(NewEvent(et1, nil, time.Now())) {
		t.Error("match events should match the first event")
	}

	if !m.Match(NewEvent(et2, nil, time.Now())) {
		t.Error("match events should match the last event")
	}

	if m.Match(NewEvent("other", nil, time.Now())) {
		t.Error("match events should not match other events")
	}
}

func TestMatchAggregates(t *testing.T) {
	at := AggregateType("test")
	m := MatchAggregates{at}

	if m.Match(nil) {
		t.Error("match aggregates should not match nil event")
	}

	if !m.Match(NewEvent("test", nil, time.Now(), ForAggregate(at, uuid.Nil, 0))) {
		t.Error("match aggregates should match the event")
	}

	if m.Match(NewEvent("test", nil, time.Now(), ForAggregate("other", uuid.Nil, 0))) {
		t.Error("match aggregates should not match the event")
	}
}

func TestMatchAggregateIDs(t *testing.T) {
	id := uuid.New()
	m := MatchAggregateIDs{id}

	if m.Match(nil) {
		t.Error("match aggregate IDs should not match nil event")
	}

	if !m.Match(NewEvent("test", nil, time.Now(), ForAggregate("test", id, 0))) {
		t.Error("match aggregate IDs should match the event")
	}

	if m.Match(NewEvent("test", nil, time.Now(), ForAggregate("test", uuid.New(), 0))) {
		t.Error("match aggregate IDs should not match the event")
	}
}

func TestMatchAllAndAny(t *testing.T) {
	if !(MatchAll{}).Match(nil) {
		t.Error("match all should always match")
	}

	m := MatchAny{
		MatchEvents{"et1"},
		MatchAggregates{"at1"},
	}

	if !m.Match(NewEvent("et1", nil, time.Now())) {
		t.Error("match any should match the first matcher")
	}

	if !m.Match(NewEvent("et2", nil, time.Now(), ForAggregate("at1", uuid.Nil, 0))) {
		t.Error("match any should match the last matcher")
	}

	if m.Match(NewEvent("et2", nil, time.Now())) {
		t.Error("match any should not match the event")
	}
}
