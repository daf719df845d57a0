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

// Package sequencing contains sequencing policies for events.
package sequencing

import (
	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/uuid"
)

// SequentialPerAggregate handles the events of each aggregate in order, and
// events of different aggregates concurrently. Events without an aggregate
// ID have no ordering constraint.
func SequentialPerAggregate() ed.SequencingPolicy[ed.Event] {
	return ed.SequencingPolicyFunc[ed.Event](func(e ed.Event) any {
		if e == nil || e.AggregateID() == uuid.Nil {
			return nil
		}

		return e.AggregateID()
	})
}

// FullConcurrency puts no ordering constraint on any event.
func FullConcurrency() ed.SequencingPolicy[ed.Event] {
	return ed.SequencingPolicyFunc[ed.Event](func(ed.Event) any {
		return nil
	})
}

type sequentialKey struct{}

// Sequential handles all events in order, one at a time.
func Sequential() ed.SequencingPolicy[ed.Event] {
	return ed.SequencingPolicyFunc[ed.Event](func(ed.Event) any {
		return sequentialKey{}
	})
}

// ByMetadata handles events with the same value for a metadata key in order.
// Events without the key, or with a value that can not be compared, have no
// ordering constraint.
func ByMetadata(key string) ed.SequencingPolicy[ed.Event] {
	return ed.SequencingPolicyFunc[ed.Event](func(e ed.Event) any {
		if e == nil {
			return nil
		}

		v, ok := e.Metadata()[key]
		if !ok || v == nil {
			return nil
		}

		if !ed.IsComparable(v) {
			return nil
		}

		return metadataKey{key, v}
	})
}

type metadataKey struct {
	name  string
	value interface{}
}

// ByAggregateType handles all events of an aggregate type in order.
func ByAggregateType() ed.SequencingPolicy[ed.Event] {
	return ed.SequencingPolicyFunc[ed.Event](func(e ed.Event) any {
		if e == nil || e.AggregateType() == "" {
			return nil
		}

		return e.AggregateType()
	})
}
