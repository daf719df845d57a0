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

import "sync"

// registry maps sequence identifiers to their live scheduler. A scheduler is
// live from when it is stored until its shutdown removes it.
type registry[T any] struct {
	m sync.Map
}

func (r *registry[T]) get(key any) (*scheduler[T], bool) {
	v, ok := r.m.Load(key)
	if !ok {
		return nil, false
	}

	return v.(*scheduler[T]), true
}

// putIfAbsent stores s unless there already is a scheduler for the key. It
// returns the stored scheduler and whether it was already present.
func (r *registry[T]) putIfAbsent(key any, s *scheduler[T]) (*scheduler[T], bool) {
	v, loaded := r.m.LoadOrStore(key, s)

	return v.(*scheduler[T]), loaded
}

// removeIf removes the key only if it still maps to s.
func (r *registry[T]) removeIf(key any, s *scheduler[T]) bool {
	return r.m.CompareAndDelete(key, s)
}

func (r *registry[T]) len() int {
	n := 0

	r.m.Range(func(_, _ any) bool {
		n++

		return true
	})

	return n
}
