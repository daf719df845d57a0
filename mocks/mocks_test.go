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

package mocks

import (
	"context"
	"errors"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/uuid"
)

func TestMocks(t *testing.T) {
	var eventHandler interface{} = &EventHandler{}
	if _, ok := eventHandler.(ed.EventHandler); !ok {
		t.Error("the mocked event handler is incorrect")
	}

	var eventStore interface{} = &EventStore{}
	if _, ok := eventStore.(ed.EventStore); !ok {
		t.Error("the mocked event store is incorrect")
	}

	var eventBus interface{} = &EventBus{}
	if _, ok := eventBus.(ed.EventBus); !ok {
		t.Error("the mocked event bus is incorrect")
	}

	var txManager interface{} = &TransactionManager{}
	if _, ok := txManager.(ed.TransactionManager); !ok {
		t.Error("the mocked transaction manager is incorrect")
	}

	ctx := WithContextOne(context.Background(), "string")
	vals := ed.MarshalContext(ctx)

	ctx = ed.UnmarshalContext(context.Background(), vals)
	if val, ok := ContextOne(ctx); !ok || val != "string" {
		t.Error("the context marshalling should work")
	}
}

func TestTransactionManager(t *testing.T) {
	m := &TransactionManager{BeginErr: errors.New("begin")}

	if _, _, err := m.Begin(context.Background()); err == nil {
		t.Error("the first begin should fail")
	}

	ctx, tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	mtx, ok := TransactionFromContext(ctx)
	if !ok || mtx != tx {
		t.Fatal("the transaction should be in the context")
	}

	mtx.Record("task")

	if err := tx.Commit(ctx); err != nil {
		t.Error("there should be no error:", err)
	}

	if begun, committed, rolledBack := m.Counts(); begun != 1 || committed != 1 || rolledBack != 0 {
		t.Error("the counts should be correct:", begun, committed, rolledBack)
	}
}

func TestCompareEvents(t *testing.T) {
	id := uuid.New()
	e1 := NewEvent(id, 0, "a")

	if err := CompareEvents(e1, e1); err != nil {
		t.Error("there should be no error:", err)
	}

	e2 := ed.NewEvent(EventType, &EventData{Content: "b"}, time.Now(), ed.ForAggregate(AggregateType, id, 0))
	if err := CompareEvents(e1, e2); err == nil {
		t.Error("there should be an error")
	}

	if EqualEvents([]ed.Event{e1}, []ed.Event{e2}) {
		t.Error("the events should not be equal")
	}
}
