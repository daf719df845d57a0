// Copyright (c) 2021 - The Event Horizon authors.
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

package eventstore

import (
	"context"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

// Benchmark appends events one at a time to one stream, loading the stream
// after each append.
func Benchmark(b *testing.B, store ed.EventStore) {
	id := uuid.New()
	ctx := context.Background()

	b.Log("num iterations:", b.N)
	b.Log("setup complete")
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		e := ed.NewEvent(mocks.EventType,
			&mocks.EventData{Content: "event1"}, time.Now(),
			ed.ForAggregate(mocks.AggregateType, id, n))

		if err := store.Save(ctx, []ed.Event{e}); err != nil {
			b.Error("could not save event:", err)
		}

		if _, err := store.Load(ctx, id); err != nil {
			b.Error("could not load events:", err)
		}
	}
}
