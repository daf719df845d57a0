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

package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestOffsets(t *testing.T) {
	o := newOffsets()

	var committed []int64
	commit := func(msg kafka.Message) {
		committed = append(committed, msg.Offset)
	}

	p0 := o.track(kafka.Message{Partition: 0, Offset: 10})
	p1 := o.track(kafka.Message{Partition: 0, Offset: 11})
	p2 := o.track(kafka.Message{Partition: 0, Offset: 12})
	other := o.track(kafka.Message{Partition: 1, Offset: 3})

	// Done out of order, nothing can be committed before offset 10.
	o.done(p2, commit)
	o.done(p1, commit)

	if len(committed) != 0 {
		t.Fatal("nothing should be committed:", committed)
	}

	o.done(p0, commit)

	if len(committed) != 1 || committed[0] != 12 {
		t.Fatal("the whole done prefix should be committed at once:", committed)
	}

	o.done(other, commit)

	if len(committed) != 2 || committed[1] != 3 {
		t.Fatal("partitions should be committed apart:", committed)
	}

	if len(o.pending[0]) != 0 || len(o.pending[1]) != 0 {
		t.Error("there should be no pending messages:", o.pending)
	}
}
