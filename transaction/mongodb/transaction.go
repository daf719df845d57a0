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

// Package mongodb provides a transaction manager that runs each batch of a
// dispatcher in a MongoDB multi-document transaction. Stores using the same
// client, like the MongoDB event store, take part in the transaction through
// the session carried by the context.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	ed "github.com/looplab/eventdispatch"
)

// ErrTransactionDone is returned when committing or rolling back a
// transaction which already ended.
var ErrTransactionDone = errors.New("transaction already done")

// TransactionManager starts a session and a transaction per batch.
type TransactionManager struct {
	client *mongo.Client
	txOpts *options.TransactionOptionsBuilder
}

// NewTransactionManager creates a TransactionManager using the client.
func NewTransactionManager(client *mongo.Client) (*TransactionManager, error) {
	if client == nil {
		return nil, errors.New("missing DB client")
	}

	return &TransactionManager{
		client: client,
		txOpts: options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
	}, nil
}

// Begin implements the Begin method of the eventdispatch.TransactionManager interface.
func (m *TransactionManager) Begin(ctx context.Context) (context.Context, ed.Transaction, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return ctx, nil, fmt.Errorf("could not start session: %w", err)
	}

	if err := sess.StartTransaction(m.txOpts); err != nil {
		sess.EndSession(ctx)

		return ctx, nil, fmt.Errorf("could not start transaction: %w", err)
	}

	return mongo.NewSessionContext(ctx, sess), &transaction{sess: sess}, nil
}

type transaction struct {
	sess *mongo.Session
	done bool
}

// Commit implements the Commit method of the eventdispatch.Transaction interface.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTransactionDone
	}

	t.done = true
	defer t.sess.EndSession(ctx)

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Rollback implements the Rollback method of the eventdispatch.Transaction interface.
func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTransactionDone
	}

	t.done = true
	defer t.sess.EndSession(ctx)

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("could not abort transaction: %w", err)
	}

	return nil
}
