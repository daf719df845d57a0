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

package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

func TestHandlers(t *testing.T) {
	hs := NewHandlers(nil, async.WithDispatchOptions(dispatch.WithRetryPolicy(ed.SkipFailedEvent)))

	h := mocks.NewEventHandler("handler")
	h.Err = errors.New("handler error")

	a, err := hs.Add(ed.MatchAll{}, h)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if got, ok := hs.Get("handler"); !ok || got != a {
		t.Error("the handler should be added")
	}

	if _, err := hs.Add(ed.MatchAll{}, h); !errors.Is(err, ed.ErrHandlerAlreadyAdded) {
		t.Error("there should be a handler already added error:", err)
	}

	// Handler errors are wrapped with the handler type.
	event := mocks.NewEvent(uuid.New(), 0, "event")
	if err := a.HandleEvent(context.Background(), event); err != nil {
		t.Fatal("there should be no error:", err)
	}

	select {
	case err := <-hs.Errors():
		var busErr *ed.EventBusError
		if !errors.As(err, &busErr) || !errors.Is(err, h.Err) || busErr.Event != event {
			t.Error("the error should be correct:", err)
		}
	case <-time.After(time.Second):
		t.Fatal("there should be an error")
	}

	// Errors of the bus itself.
	transportErr := errors.New("transport error")
	hs.Report(context.Background(), nil, transportErr)

	if err := <-hs.Errors(); !errors.Is(err, transportErr) {
		t.Error("the reported error should be correct:", err)
	}

	hs.Remove("handler")

	if _, ok := hs.Get("handler"); ok {
		t.Error("the handler should be removed")
	}

	if err := a.HandleEvent(context.Background(), event); !errors.Is(err, dispatch.ErrDispatcherClosed) {
		t.Error("the removed handler should be closed:", err)
	}

	// The handler type can be added again.
	if _, err := hs.Add(ed.MatchAll{}, h); err != nil {
		t.Error("there should be no error:", err)
	}

	// Handlers that are already async are rejected.
	bound, err := async.NewEventHandler(mocks.NewEventHandler("async"))
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer bound.Close()

	if _, err := hs.Add(ed.MatchAll{}, bound); !errors.Is(err, ErrAsyncHandler) {
		t.Error("there should be an async handler error:", err)
	}

	// Options attached to the handler are used.
	tm := &mocks.TransactionManager{}
	configured := mocks.NewEventHandler("configured")

	c, err := hs.Add(ed.MatchAll{}, async.Configure(configured, async.WithTransactionManager(tm)))
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := c.HandleEvent(context.Background(), event); err != nil {
		t.Fatal("there should be no error:", err)
	}

	configured.WaitForEvent(t)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, committed, _ := tm.Counts(); committed == 1 {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	if begun, committed, _ := tm.Counts(); begun != 1 || committed != 1 {
		t.Error("the attached transaction manager should be used:", begun, committed)
	}

	if err := hs.Close(); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, ok := <-hs.Errors(); ok {
		t.Error("the error channel should be closed")
	}

	if _, err := hs.Add(ed.MatchAll{}, mocks.NewEventHandler("other")); !errors.Is(err, ErrBusClosed) {
		t.Error("there should be a closed error:", err)
	}

	// Reporting after close only logs.
	hs.Report(context.Background(), nil, transportErr)
}
