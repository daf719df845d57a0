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

import "reflect"

// SequencingPolicy decides which tasks must be handled in order. Tasks that
// return equal non-nil identifiers are handled one at a time in the order they
// were scheduled. A nil identifier means the task can be handled concurrently
// with any other task.
//
// Implementations must be pure and deterministic, and the identifiers they
// return must be comparable.
type SequencingPolicy[T any] interface {
	SequenceIdentifierFor(task T) any
}

// SequencingPolicyFunc is a function that can be used as a sequencing policy.
type SequencingPolicyFunc[T any] func(T) any

// SequenceIdentifierFor implements the SequenceIdentifierFor method of the
// SequencingPolicy interface.
func (f SequencingPolicyFunc[T]) SequenceIdentifierFor(task T) any {
	return f(task)
}

// IsComparable reports whether an identifier can be used as a map key without
// panicking. Unlike reflect.Type.Comparable it looks at the dynamic values
// held by interfaces, so a struct with an interface field holding a slice is
// not comparable.
func IsComparable(id any) bool {
	if id == nil {
		return true
	}

	return isComparable(reflect.ValueOf(id))
}

func isComparable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return true
		}

		return isComparable(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !isComparable(v.Field(i)) {
				return false
			}
		}

		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !isComparable(v.Index(i)) {
				return false
			}
		}

		return v.Type().Comparable()
	default:
		return v.Type().Comparable()
	}
}
