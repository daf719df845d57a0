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

package eventdispatch

import "context"

// TransactionManager starts the transaction that surrounds each batch of tasks
// handled by a scheduler.
type TransactionManager interface {
	// Begin starts a transaction. The returned context is passed to every
	// handler call of the batch so that handlers can take part in the
	// transaction.
	Begin(ctx context.Context) (context.Context, Transaction, error)
}

// Transaction is a started transaction.
type Transaction interface {
	// Commit commits all work done in the transaction.
	Commit(ctx context.Context) error
	// Rollback discards all work done in the transaction.
	Rollback(ctx context.Context) error
}

// NoTransactionManager is a TransactionManager without a transactional
// backend, all its operations are no-ops.
var NoTransactionManager TransactionManager = noTransactionManager{}

type noTransactionManager struct{}

// Begin implements the Begin method of the TransactionManager interface.
func (noTransactionManager) Begin(ctx context.Context) (context.Context, Transaction, error) {
	return ctx, noTransaction{}, nil
}

type noTransaction struct{}

// Commit implements the Commit method of the Transaction interface.
func (noTransaction) Commit(context.Context) error {
	return nil
}

// Rollback implements the Rollback method of the Transaction interface.
func (noTransaction) Rollback(context.Context) error {
	return nil
}
