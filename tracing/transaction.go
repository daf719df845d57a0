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

package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	ed "github.com/looplab/eventdispatch"
)

// TransactionManager is a transaction manager wrapper that traces every
// transaction as a span, which becomes the parent of the spans of the work
// done in it.
type TransactionManager struct {
	ed.TransactionManager
}

// NewTransactionManager creates a TransactionManager.
func NewTransactionManager(tm ed.TransactionManager) *TransactionManager {
	if tm == nil {
		return nil
	}

	return &TransactionManager{
		TransactionManager: tm,
	}
}

// Begin implements the Begin method of the eventdispatch.TransactionManager interface.
func (m *TransactionManager) Begin(ctx context.Context) (context.Context, ed.Transaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Transaction")

	txCtx, tx, err := m.TransactionManager.Begin(ctx)
	if err != nil {
		ext.LogError(sp, err)
		sp.Finish()

		return ctx, nil, err
	}

	return txCtx, &transaction{Transaction: tx, sp: sp}, nil
}

type transaction struct {
	ed.Transaction
	sp opentracing.Span
}

// Commit implements the Commit method of the eventdispatch.Transaction interface.
func (t *transaction) Commit(ctx context.Context) error {
	err := t.Transaction.Commit(ctx)

	t.finish("commit", err)

	return err
}

// Rollback implements the Rollback method of the eventdispatch.Transaction interface.
func (t *transaction) Rollback(ctx context.Context) error {
	err := t.Transaction.Rollback(ctx)

	t.finish("rollback", err)

	return err
}

func (t *transaction) finish(outcome string, err error) {
	t.sp.SetTag("ed.transaction", outcome)

	if err != nil {
		ext.LogError(t.sp, err)
	}

	t.sp.Finish()
}
