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

import (
	"errors"
	"fmt"
	"strings"
)

// RetryPolicy decides what a scheduler does when handling a task fails.
type RetryPolicy int

const (
	// RetryLastEvent commits the tasks handled successfully so far, waits
	// and then retries the failed task followed by the rest of its batch.
	// Retries continue until the task succeeds or the dispatcher is closed.
	RetryLastEvent RetryPolicy = iota
	// RetryTransaction rolls back the transaction of the batch, waits and
	// then handles the whole batch again.
	RetryTransaction
	// SkipFailedEvent reports the failure and continues with the next task
	// in the same transaction.
	SkipFailedEvent
	// AbortScheduler commits the tasks handled successfully so far, reports
	// the failure and drops all tasks queued for the same sequence
	// identifier.
	AbortScheduler
)

// ErrUnknownRetryPolicy is returned when parsing an unknown retry policy.
var ErrUnknownRetryPolicy = errors.New("unknown retry policy")

var retryPolicyNames = map[RetryPolicy]string{
	RetryLastEvent:   "retry_last_event",
	RetryTransaction: "retry_transaction",
	SkipFailedEvent:  "skip_failed_event",
	AbortScheduler:   "abort_scheduler",
}

// String returns the string representation of a retry policy.
func (p RetryPolicy) String() string {
	if s, ok := retryPolicyNames[p]; ok {
		return s
	}

	return fmt.Sprintf("RetryPolicy(%d)", int(p))
}

// Valid returns true if the policy is one of the known policies.
func (p RetryPolicy) Valid() bool {
	_, ok := retryPolicyNames[p]

	return ok
}

// Retries returns true if the policy waits and tries the failed work again.
func (p RetryPolicy) Retries() bool {
	return p == RetryLastEvent || p == RetryTransaction
}

// ParseRetryPolicy parses a retry policy from its string representation.
// Matching ignores case and accepts dashes in place of underscores.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")

	for p, n := range retryPolicyNames {
		if n == name {
			return p, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownRetryPolicy, s)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryLastEvent
}
