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
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsets keeps the fetched messages of every partition in order until they
// are done. Only the offset of the last message of a done prefix is
// committed.
type offsets struct {
	pending   map[int][]*pendingMessage
	committed map[int]int64
	mu        sync.Mutex
}

type pendingMessage struct {
	msg  kafka.Message
	done bool
}

func newOffsets() *offsets {
	return &offsets{
		pending:   map[int][]*pendingMessage{},
		committed: map[int]int64{},
	}
}

// track adds a fetched message, messages of a partition must be tracked in
// offset order.
func (o *offsets) track(msg kafka.Message) *pendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := &pendingMessage{msg: msg}
	o.pending[msg.Partition] = append(o.pending[msg.Partition], p)

	return p
}

// done marks a message as done and commits the done prefix of its partition,
// if it grew. Commits of a partition never go backwards.
func (o *offsets) done(p *pendingMessage, commit func(kafka.Message)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p.done = true

	partition := p.msg.Partition
	queue := o.pending[partition]

	n := 0
	for n < len(queue) && queue[n].done {
		n++
	}

	if n == 0 {
		return
	}

	last := queue[n-1].msg
	o.pending[partition] = queue[n:]

	if c, ok := o.committed[partition]; ok && c >= last.Offset {
		return
	}

	o.committed[partition] = last.Offset

	commit(last)
}
