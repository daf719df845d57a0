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

package async

import (
	"context"
	"sync"

	ed "github.com/looplab/eventdispatch"
)

// mergedContext takes cancellation and deadline from the transaction context
// and values from it first, then from the context the event was published
// with.
type mergedContext struct {
	context.Context
	values context.Context
}

func mergeContext(txCtx, values context.Context) context.Context {
	return mergedContext{txCtx, values}
}

// Value implements the Value method of the context.Context interface.
func (c mergedContext) Value(key any) any {
	if v := c.Context.Value(key); v != nil {
		return v
	}

	return c.values.Value(key)
}

type acksKey struct{}

// acks are the acks of the events handled in one transaction.
type acks struct {
	fns []func()
	mu  sync.Mutex
}

func acksFromContext(ctx context.Context) *acks {
	if a, ok := ctx.Value(acksKey{}).(*acks); ok {
		return a
	}

	// Not in a transaction of ours, ack right away.
	return nil
}

func (a *acks) add(fn func()) {
	if a == nil {
		fn()

		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.fns = append(a.fns, fn)
}

func (a *acks) take() []func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	fns := a.fns
	a.fns = nil

	return fns
}

// ackingTxManager acks the events of a batch once it is committed.
type ackingTxManager struct {
	ed.TransactionManager
}

// Begin implements the Begin method of the eventdispatch.TransactionManager interface.
func (m *ackingTxManager) Begin(ctx context.Context) (context.Context, ed.Transaction, error) {
	txCtx, tx, err := m.TransactionManager.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}

	a := &acks{}

	return context.WithValue(txCtx, acksKey{}, a), &ackingTx{tx, a}, nil
}

type ackingTx struct {
	ed.Transaction
	acks *acks
}

// Commit implements the Commit method of the eventdispatch.Transaction interface.
func (t *ackingTx) Commit(ctx context.Context) error {
	if err := t.Transaction.Commit(ctx); err != nil {
		t.acks.take()

		return err
	}

	for _, ack := range t.acks.take() {
		ack()
	}

	return nil
}

// Rollback implements the Rollback method of the eventdispatch.Transaction interface.
func (t *ackingTx) Rollback(ctx context.Context) error {
	t.acks.take()

	return t.Transaction.Rollback(ctx)
}
