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
	"sync"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/uuid"
)

func init() {
	ed.RegisterEventData(EventType, func() ed.EventData { return &EventData{} })
}

const (
	// AggregateType is the type for Aggregate.
	AggregateType ed.AggregateType = "Aggregate"

	// EventType is a the type for Event.
	EventType ed.EventType = "Event"
	// EventOtherType is the type for EventOther.
	EventOtherType ed.EventType = "EventOther"
)

// EventData is a mocked event data, useful in testing.
type EventData struct {
	Content string
}

// NewEvent creates an event of EventType for an aggregate, useful in testing.
func NewEvent(id uuid.UUID, version int, content string) ed.Event {
	return ed.NewEvent(EventType, &EventData{Content: content}, time.Now().UTC().Truncate(time.Millisecond),
		ed.ForAggregate(AggregateType, id, version))
}

// EventHandler is a mocked eventdispatch.EventHandler, useful in testing.
type EventHandler struct {
	sync.RWMutex

	Type    ed.EventHandlerType
	Events  []ed.Event
	Context context.Context
	Time    time.Time
	Recv    chan ed.Event
	// Used to simulate errors when handling.
	Err error
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(handlerType ed.EventHandlerType) *EventHandler {
	return &EventHandler{
		Type:    handlerType,
		Events:  []ed.Event{},
		Context: context.Background(),
		Recv:    make(chan ed.Event, 10),
	}
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (m *EventHandler) HandlerType() ed.EventHandlerType {
	return m.Type
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (m *EventHandler) HandleEvent(ctx context.Context, event ed.Event) error {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, event)
	m.Context = ctx
	m.Time = time.Now()

	select {
	case m.Recv <- event:
	default:
	}

	return nil
}

// HandledEvents returns a copy of the handled events.
func (m *EventHandler) HandledEvents() []ed.Event {
	m.RLock()
	defer m.RUnlock()

	return append([]ed.Event(nil), m.Events...)
}

// Reset resets the mock data.
func (m *EventHandler) Reset() {
	m.Lock()
	defer m.Unlock()

	m.Events = []ed.Event{}
	m.Context = context.Background()
	m.Time = time.Time{}
}

// Wait is a helper to wait some duration until for an event to be handled.
func (m *EventHandler) Wait(d time.Duration) bool {
	select {
	case <-m.Recv:
		return true
	case <-time.After(d):
		return false
	}
}

// WaitForEvent is a helper to wait until an event has been handled, it timeouts
// after 1 second.
func (m *EventHandler) WaitForEvent(t *testing.T) {
	t.Helper()

	if !m.Wait(time.Second) {
		t.Error("did not receive event in time")
	}
}

// EventStore is a mocked eventdispatch.EventStore, useful in testing.
type EventStore struct {
	sync.RWMutex

	Events  []ed.Event
	Loaded  uuid.UUID
	Context context.Context
	// Used to simulate errors in the store.
	Err error
}

// Save implements the Save method of the eventdispatch.EventStore interface.
func (m *EventStore) Save(ctx context.Context, events []ed.Event) error {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, events...)
	m.Context = ctx

	return nil
}

// Load implements the Load method of the eventdispatch.EventStore interface.
func (m *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ed.Event, error) {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	m.Loaded = id
	m.Context = ctx

	return m.Events, nil
}

// Close implements the Close method of the eventdispatch.EventStore interface.
func (m *EventStore) Close() error {
	return nil
}

// EventBus is a mocked eventdispatch.EventBus, useful in testing.
type EventBus struct {
	sync.RWMutex

	Events   []ed.Event
	Handlers []ed.EventHandler
	Context  context.Context
	// Used to simulate errors when publishing.
	Err   error
	errCh chan error
}

// HandlerType implements the HandlerType method of the eventdispatch.EventHandler interface.
func (m *EventBus) HandlerType() ed.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the eventdispatch.EventHandler interface.
func (m *EventBus) HandleEvent(ctx context.Context, event ed.Event) error {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, event)
	m.Context = ctx

	return nil
}

// AddHandler implements the AddHandler method of the eventdispatch.EventBus interface.
func (m *EventBus) AddHandler(ctx context.Context, matcher ed.EventMatcher, handler ed.EventHandler) error {
	m.Lock()
	defer m.Unlock()

	m.Handlers = append(m.Handlers, handler)

	return nil
}

// Errors implements the Errors method of the eventdispatch.EventBus interface.
func (m *EventBus) Errors() <-chan error {
	m.Lock()
	defer m.Unlock()

	if m.errCh == nil {
		m.errCh = make(chan error)
	}

	return m.errCh
}

// Close implements the Close method of the eventdispatch.EventBus interface.
func (m *EventBus) Close() error {
	return nil
}

// TransactionManager is a mocked eventdispatch.TransactionManager, useful in
// testing. It records every started transaction.
type TransactionManager struct {
	sync.RWMutex

	Transactions []*Transaction
	// BeginErr is returned once, by the next Begin.
	BeginErr error
	// CommitErr is returned once, by the next Commit.
	CommitErr error
}

// Begin implements the Begin method of the eventdispatch.TransactionManager interface.
func (m *TransactionManager) Begin(ctx context.Context) (context.Context, ed.Transaction, error) {
	m.Lock()
	defer m.Unlock()

	if err := m.BeginErr; err != nil {
		m.BeginErr = nil

		return nil, nil, err
	}

	tx := &Transaction{ID: len(m.Transactions), m: m}
	m.Transactions = append(m.Transactions, tx)

	return context.WithValue(ctx, transactionKey, tx), tx, nil
}

// Counts returns the number of started, committed and rolled back
// transactions.
func (m *TransactionManager) Counts() (begun, committed, rolledBack int) {
	m.RLock()
	defer m.RUnlock()

	for _, tx := range m.Transactions {
		if tx.Committed {
			committed++
		}

		if tx.RolledBack {
			rolledBack++
		}
	}

	return len(m.Transactions), committed, rolledBack
}

// Transaction is a mocked eventdispatch.Transaction, useful in testing.
type Transaction struct {
	ID         int
	Committed  bool
	RolledBack bool
	// Tasks can be appended to by handlers to record what ran in the
	// transaction.
	Tasks []interface{}

	m *TransactionManager
}

// Commit implements the Commit method of the eventdispatch.Transaction interface.
func (t *Transaction) Commit(ctx context.Context) error {
	t.m.Lock()
	defer t.m.Unlock()

	if err := t.m.CommitErr; err != nil {
		t.m.CommitErr = nil

		return err
	}

	t.Committed = true

	return nil
}

// Rollback implements the Rollback method of the eventdispatch.Transaction interface.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.RolledBack = true

	return nil
}

// Record appends a task to the transaction.
func (t *Transaction) Record(task interface{}) {
	t.m.Lock()
	defer t.m.Unlock()

	t.Tasks = append(t.Tasks, task)
}

// TransactionFromContext returns the mocked transaction of a context.
func TransactionFromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(transactionKey).(*Transaction)

	return tx, ok
}

type contextKey int

const (
	contextKeyOne contextKey = iota
	transactionKey
)

const (
	// The string key used to marshal contextKeyOne.
	contextKeyOneStr = "context_one"
)

// Register the marshalers and unmarshalers for ContextOne.
func init() {
	ed.RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if val, ok := ContextOne(ctx); ok {
			vals[contextKeyOneStr] = val
		}
	})
	ed.RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if val, ok := vals[contextKeyOneStr].(string); ok {
			return WithContextOne(ctx, val)
		}

		return ctx
	})
}

// WithContextOne sets a value for One one the context.
func WithContextOne(ctx context.Context, val string) context.Context {
	return context.WithValue(ctx, contextKeyOne, val)
}

// ContextOne returns a value for One from the context.
func ContextOne(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(contextKeyOne).(string)

	return val, ok
}
