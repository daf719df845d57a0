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

package dispatch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDispatcherClosed is returned when scheduling on a closed dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrExecutorClosed is returned when submitting work to a closed executor.
	ErrExecutorClosed = errors.New("executor closed")
	// ErrInvalidOption is returned when an option has an invalid value.
	ErrInvalidOption = errors.New("invalid option")
	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panic")
	// ErrUncomparableIdentifier is returned when a sequencing policy returns
	// an identifier that can not be used as a map key.
	ErrUncomparableIdentifier = errors.New("uncomparable sequence identifier")
)

// Handler handles tasks for a dispatcher. Handlers used with a retrying policy
// can see the same task more than once and should be idempotent.
type Handler[T any] interface {
	Handle(ctx context.Context, task T) error
}

// HandlerFunc is a function that can be used as a handler.
type HandlerFunc[T any] func(context.Context, T) error

// Handle implements the Handle method of the Handler interface.
func (f HandlerFunc[T]) Handle(ctx context.Context, task T) error {
	return f(ctx, task)
}

// Error is an error that happened while handling tasks. Errors from the
// transaction manager have no task.
type Error struct {
	// Err is the error.
	Err error
	// Task is the task that failed, if any.
	Task any
	// Key is the sequence identifier of the scheduler, nil for unordered tasks.
	Key any
}

// Error implements the Error method of the errors.Error interface.
func (e *Error) Error() string {
	str := "dispatch: "

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.Key != nil {
		str += fmt.Sprintf(" [sequence: %v]", e.Key)
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *Error) Cause() error {
	return e.Unwrap()
}
