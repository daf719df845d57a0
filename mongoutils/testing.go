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

package mongoutils

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// IntegrationURI returns the URI of a MongoDB replica set to run integration
// tests against. MONGODB_ADDR is used when set, otherwise a container is
// started for the test and terminated when it ends.
func IntegrationURI(t testing.TB) string {
	t.Helper()

	if addr := os.Getenv("MONGODB_ADDR"); addr != "" {
		return "mongodb://" + addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Skip("no MONGODB_ADDR and no container:", err)
	}

	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Log("could not terminate container:", err)
		}
	})

	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatal("could not get connection string:", err)
	}

	return uri
}

// RandomDBName returns a DB name unique to one test run.
func RandomDBName(t testing.TB) string {
	t.Helper()

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}

	return "test-" + hex.EncodeToString(b)
}
