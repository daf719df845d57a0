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
	stdjson "encoding/json"
	"errors"
	"net/http"
	"path"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/codec/json"
	"github.com/looplab/eventdispatch/uuid"
)

// EventStoreHandler returns the events of an aggregate from an
// eventdispatch.EventStore, in version order. The last part of the URL path
// is used as the aggregate ID.
func EventStoreHandler(store ed.EventStore) http.Handler {
	codec := &json.EventCodec{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)

			return
		}

		_, idStr := path.Split(r.URL.Path)

		id, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "could not parse ID: "+err.Error(), http.StatusBadRequest)

			return
		}

		events, err := store.Load(r.Context(), id)
		if errors.Is(err, ed.ErrAggregateNotFound) {
			http.Error(w, "could not find aggregate", http.StatusNotFound)

			return
		} else if err != nil {
			http.Error(w, "could not load events: "+err.Error(), http.StatusInternalServerError)

			return
		}

		data := make([]stdjson.RawMessage, 0, len(events))

		for _, event := range events {
			b, err := codec.MarshalEvent(r.Context(), event)
			if err != nil {
				http.Error(w, "could not encode event: "+err.Error(), http.StatusInternalServerError)

				return
			}

			data = append(data, b)
		}

		b, err := stdjson.Marshal(data)
		if err != nil {
			http.Error(w, "could not encode result: "+err.Error(), http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if _, err := w.Write(b); err != nil {
			http.Error(w, "could not write data: "+err.Error(), http.StatusInternalServerError)

			return
		}
	})
}
