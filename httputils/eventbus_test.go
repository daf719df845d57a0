// Copyright (c) 2017 - The Event Horizon authors.
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

package httputils

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kr/pretty"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/eventbus/local"
	"github.com/looplab/eventdispatch/eventstore/memory"
	"github.com/looplab/eventdispatch/mocks"
	"github.com/looplab/eventdispatch/uuid"
)

func TestEventBusHandler(t *testing.T) {
	bus, err := local.NewEventBus()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer bus.Close()

	h, err := NewEventBusHandler(context.Background(), bus, ed.MatchAll{}, "id")
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if _, err := NewEventBusHandler(context.Background(), bus, ed.MatchAll{}, "id"); err == nil {
		t.Error("there should be an error for the same handler added twice")
	}

	srv := httptest.NewServer(h)
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer c.Close()

	// The client is registered after the upgrade.
	deadline := time.Now().Add(time.Second)
	for h.NumClients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	event := mocks.NewEvent(uuid.New(), 0, "event")
	if err := bus.HandleEvent(context.Background(), event); err != nil {
		t.Fatal("there should be no error:", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(time.Second))

	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	codec := &json.EventCodec{}

	decoded, _, err := codec.UnmarshalEvent(context.Background(), b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := mocks.CompareEvents(decoded, event); err != nil {
		t.Error("the event should be correct:", err)
	}
}

func TestEventStoreHandler(t *testing.T) {
	store := memory.NewEventStore()
	id := uuid.New()
	events := []ed.Event{
		mocks.NewEvent(id, 0, "event0"),
		mocks.NewEvent(id, 1, "event1"),
	}

	if err := store.Save(context.Background(), events); err != nil {
		t.Fatal("there should be no error:", err)
	}

	h := EventStoreHandler(store)

	testCases := map[string]struct {
		method string
		path   string
		code   int
	}{
		"events": {
			method: http.MethodGet,
			path:   "/events/" + id.String(),
			code:   http.StatusOK,
		},
		"not found": {
			method: http.MethodGet,
			path:   "/events/" + uuid.New().String(),
			code:   http.StatusNotFound,
		},
		"invalid ID": {
			method: http.MethodGet,
			path:   "/events/not-an-id",
			code:   http.StatusBadRequest,
		},
		"invalid method": {
			method: http.MethodPost,
			path:   "/events/" + id.String(),
			code:   http.StatusMethodNotAllowed,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))

			if w.Code != tc.code {
				t.Fatal("the status code should be correct:", w.Code, w.Body.String())
			}

			if tc.code != http.StatusOK {
				return
			}

			var raw []stdjson.RawMessage
			if err := stdjson.Unmarshal(w.Body.Bytes(), &raw); err != nil {
				t.Fatal("there should be no error:", err)
			}

			codec := &json.EventCodec{}

			var decoded []ed.Event

			for _, b := range raw {
				e, _, err := codec.UnmarshalEvent(context.Background(), b)
				if err != nil {
					t.Fatal("there should be no error:", err)
				}

				decoded = append(decoded, e)
			}

			if !mocks.EqualEvents(decoded, events) {
				t.Error("the events should be correct:")
				t.Log(pretty.Sprint(decoded))
			}
		})
	}
}
