// Copyright (c) 2017 - The Event Horizon authors.
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

package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

func TestMiddleware(t *testing.T) {
	id := uuid.New()
	event := mocks.NewEvent(id, 0, "event1")

	inner := mocks.NewEventHandler("test")

	m, errCh, err := NewMiddleware()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	h := ed.UseEventHandlerMiddleware(inner, m)

	if _, ok := h.(ed.EventHandlerChain); !ok {
		t.Error("handler is not an EventHandlerChain")
	}

	ctx := mocks.WithContextOne(context.Background(), "testval")

	if err := h.HandleEvent(ctx, event); err != nil {
		t.Error("there should never be an error:", err)
	}

	inner.WaitForEvent(t)

	select {
	case err := <-errCh:
		t.Error("there should not be an error:", err)
	case <-time.After(10 * time.Millisecond):
	}

	if !mocks.EqualEvents(inner.HandledEvents(), []ed.Event{event}) {
		t.Error("the event should have been handled:", pretty.Sprint(inner.HandledEvents()))
	}

	inner.RLock()
	if val, ok := mocks.ContextOne(inner.Context); !ok || val != "testval" {
		t.Error("the context values should be kept:", val)
	}
	inner.RUnlock()
}

func TestMiddlewareErrors(t *testing.T) {
	event := mocks.NewEvent(uuid.New(), 0, "event1")

	inner := mocks.NewEventHandler("test")
	handlingErr := errors.New("handling error")
	inner.Err = handlingErr

	m, errCh, err := NewMiddleware(WithDispatchOptions(
		dispatch.WithRetryPolicy(ed.SkipFailedEvent),
	))
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	h := ed.UseEventHandlerMiddleware(inner, m)
	ctx := mocks.WithContextOne(context.Background(), "testval")

	if err := h.HandleEvent(ctx, event); err != nil {
		t.Error("there should never be an error:", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, handlingErr) {
			t.Error("the error should be correct:", err)
		}

		if err.Event != event {
			t.Error("the event should be correct:", err.Event)
		}

		if val, ok := mocks.ContextOne(err.Ctx); !ok || val != "testval" {
			t.Error("the context should be correct:", err.Ctx)
		}

		if err.Error() != event.String()+": handling error" {
			t.Error("the error string should be correct:", err.Error())
		}
	case <-time.After(time.Second):
		t.Error("there should be an error")
	}
}

func TestMiddlewareInvalidOptions(t *testing.T) {
	if _, _, err := NewMiddleware(WithDispatchOptions(dispatch.WithBatchSize(0))); !errors.Is(err, dispatch.ErrInvalidOption) {
		t.Error("there should be an invalid option error:", err)
	}

	if _, _, err := NewMiddleware(WithSequencingPolicy(nil)); !errors.Is(err, dispatch.ErrInvalidOption) {
		t.Error("there should be an invalid option error:", err)
	}

	if _, err := NewEventHandler(nil); !errors.Is(err, ed.ErrMissingHandler) {
		t.Error("there should be a missing handler error:", err)
	}
}

func TestMiddlewareMissingHandler(t *testing.T) {
	m, _, err := NewMiddleware()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	h := m(nil)
	if h == nil {
		t.Fatal("there should be a handler")
	}

	event := mocks.NewEvent(uuid.New(), 0, "event")
	if err := h.HandleEvent(context.Background(), event); !errors.Is(err, ed.ErrMissingHandler) {
		t.Error("there should be a missing handler error:", err)
	}
}

func TestConfigure(t *testing.T) {
	if Configure(nil) != nil {
		t.Error("there should be no handler")
	}

	inner := mocks.NewEventHandler("test")
	tm := &mocks.TransactionManager{}

	h := Configure(inner, WithTransactionManager(tm))
	if h.HandlerType() != "test" {
		t.Error("the handler type should be correct:", h.HandlerType())
	}

	if c, ok := h.(ed.EventHandlerChain); !ok || c.InnerHandler() != inner {
		t.Error("the inner handler should be correct")
	}

	if IsAsync(h) {
		t.Error("the handler should not be async")
	}

	// Options are found through other middleware.
	outer := ed.UseEventHandlerMiddleware(h, func(h ed.EventHandler) ed.EventHandler {
		return &chained{h}
	})

	options := OptionsFor(outer)
	if len(options) != 1 {
		t.Fatal("there should be one option:", len(options))
	}

	a, err := NewEventHandler(outer, options...)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer a.Close()

	if !IsAsync(a) || !IsAsync(&chained{a}) {
		t.Error("the handler should be async")
	}

	if err := a.HandleEvent(context.Background(), mocks.NewEvent(uuid.New(), 0, "event")); err != nil {
		t.Fatal("there should be no error:", err)
	}

	inner.WaitForEvent(t)

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

	if len(OptionsFor(inner)) != 0 {
		t.Error("there should be no options")
	}
}

type chained struct {
	ed.EventHandler
}

func (h *chained) InnerHandler() ed.EventHandler {
	return h.EventHandler
}

func TestEventHandlerOrdering(t *testing.T) {
	const n = 50

	id := uuid.New()

	var (
		versions []int
		mu       sync.Mutex
		done     = make(chan struct{})
	)

	inner := ed.EventHandlerFunc(func(ctx context.Context, event ed.Event) error {
		mu.Lock()
		defer mu.Unlock()

		versions = append(versions, event.Version())
		if len(versions) == n {
			close(done)
		}

		return nil
	})

	h, err := NewEventHandler(inner)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer h.Close()

	for i := 0; i < n; i++ {
		if err := h.HandleEvent(context.Background(), mocks.NewEvent(id, i, "event")); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all events were handled")
	}

	mu.Lock()
	defer mu.Unlock()

	for i, v := range versions {
		if v != i {
			t.Fatal("the events should be handled in order:", versions)
		}
	}
}

func TestEventHandlerAcks(t *testing.T) {
	tm := &mocks.TransactionManager{}
	inner := mocks.NewEventHandler("test")

	h, err := NewEventHandler(inner,
		WithTransactionManager(tm),
		WithDispatchOptions(dispatch.WithRetryInterval(0)),
	)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer h.Close()

	// The first commit fails, the event must be handled again before the ack.
	commitErr := errors.New("commit error")
	tm.CommitErr = commitErr

	acked := make(chan struct{}, 2)
	event := mocks.NewEvent(uuid.New(), 0, "event")

	if err := h.Deliver(Delivery{
		Ctx:   context.Background(),
		Event: event,
		Ack:   func() { acked <- struct{}{} },
	}); err != nil {
		t.Fatal("there should be no error:", err)
	}

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("the event should have been acked")
	}

	begun, committed, _ := tm.Counts()
	if begun != 2 || committed != 1 {
		t.Error("the event should be acked after the second transaction:", begun, committed)
	}

	if len(inner.HandledEvents()) != 2 {
		t.Error("the event should have been handled twice:", len(inner.HandledEvents()))
	}

	select {
	case <-acked:
		t.Error("the event should be acked once")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case err := <-h.Errors():
		if !errors.Is(err, commitErr) || err.Event != nil {
			t.Error("the commit error should have no event:", err)
		}
	case <-time.After(time.Second):
		t.Error("the commit error should be reported")
	}
}

func TestEventHandlerTransactionContext(t *testing.T) {
	tm := &mocks.TransactionManager{}

	txs := make(chan *mocks.Transaction, 1)
	inner := ed.EventHandlerFunc(func(ctx context.Context, event ed.Event) error {
		tx, _ := mocks.TransactionFromContext(ctx)
		txs <- tx

		return nil
	})

	h, err := NewEventHandler(inner, WithTransactionManager(tm))
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := h.HandleEvent(context.Background(), mocks.NewEvent(uuid.New(), 0, "event")); err != nil {
		t.Fatal("there should be no error:", err)
	}

	select {
	case tx := <-txs:
		if tx == nil {
			t.Error("the handler should run in a transaction")
		}
	case <-time.After(time.Second):
		t.Fatal("the event should have been handled")
	}

	if err := h.Close(); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, ok := <-h.Errors(); ok {
		t.Error("the error channel should be closed")
	}

	if err := h.HandleEvent(context.Background(), mocks.NewEvent(uuid.New(), 0, "event")); !errors.Is(err, dispatch.ErrDispatcherClosed) {
		t.Error("there should be a closed error:", err)
	}
}
