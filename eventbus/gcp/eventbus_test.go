// Copyright (c) 2014 - The Event Horizon authors.
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

package gcp

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
	"github.com/looplab/eventdispatch/eventbus"
	"github.com/looplab/eventdispatch/middleware/eventhandler/async"
)

func TestEventBusIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Connect to localhost if not running inside docker
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8793")
	}

	// Get a random app ID.
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}

	appID := "app-" + hex.EncodeToString(b)

	handlerOptions := WithHandlerOptions(
		async.WithDispatchOptions(dispatch.WithRetryPolicy(ed.SkipFailedEvent)),
	)

	bus1, err := NewEventBus("project_id", appID, handlerOptions)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer bus1.Close()

	bus2, err := NewEventBus("project_id", appID, handlerOptions)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}
	defer bus2.Close()

	eventbus.AcceptanceTest(t, bus1, bus2, 2*time.Second)
}
