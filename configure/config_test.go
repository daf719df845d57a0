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

package configure

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"

	ed "github.com/looplab/eventdispatch"
	"github.com/looplab/eventdispatch/dispatch"
)

func TestFromEnv(t *testing.T) {
	cases := map[string]struct {
		env     map[string]string
		config  Config
		errName string
	}{
		"defaults": {
			config: DefaultConfig(),
		},
		"all set": {
			env: map[string]string{
				"TEST_BATCH_SIZE":         "10",
				"TEST_RETRY_INTERVAL":     "100ms",
				"TEST_MAX_RETRY_INTERVAL": "2s",
				"TEST_RETRY_POLICY":       "retry-transaction",
				"TEST_WORKERS":            "4",
			},
			config: Config{
				BatchSize:        10,
				RetryInterval:    100 * time.Millisecond,
				MaxRetryInterval: 2 * time.Second,
				RetryPolicy:      ed.RetryTransaction,
				Workers:          4,
			},
		},
		"invalid batch size": {
			env:     map[string]string{"TEST_BATCH_SIZE": "many"},
			errName: "TEST_BATCH_SIZE",
		},
		"zero batch size": {
			env:     map[string]string{"TEST_BATCH_SIZE": "0"},
			errName: "BatchSize",
		},
		"invalid retry interval": {
			env:     map[string]string{"TEST_RETRY_INTERVAL": "soon"},
			errName: "TEST_RETRY_INTERVAL",
		},
		"max retry interval below retry interval": {
			env: map[string]string{
				"TEST_RETRY_INTERVAL":     "2s",
				"TEST_MAX_RETRY_INTERVAL": "1s",
			},
			errName: "MaxRetryInterval",
		},
		"max retry interval without retry interval": {
			env: map[string]string{
				"TEST_RETRY_INTERVAL":     "0s",
				"TEST_MAX_RETRY_INTERVAL": "1s",
			},
			errName: "MaxRetryInterval",
		},
		"invalid retry policy": {
			env:     map[string]string{"TEST_RETRY_POLICY": "retry_forever"},
			errName: "TEST_RETRY_POLICY",
		},
		"negative workers": {
			env:     map[string]string{"TEST_WORKERS": "-1"},
			errName: "Workers",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := FromEnv("TEST")
			if tc.errName != "" {
				var cfgErr *Error
				if !errors.As(err, &cfgErr) || cfgErr.Name != tc.errName {
					t.Fatal("there should be a config error for", tc.errName, "got:", err)
				}

				return
			}

			if err != nil {
				t.Fatal("there should be no error:", err)
			}

			if !reflect.DeepEqual(cfg, tc.config) {
				t.Error("the config should be correct:")
				t.Log(pretty.Diff(cfg, tc.config))
			}
		})
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Options()) != 3 {
		t.Error("there should be no backoff option by default")
	}

	cfg.MaxRetryInterval = time.Minute
	if len(cfg.Options()) != 4 {
		t.Error("there should be a backoff option")
	}

	h := dispatch.HandlerFunc[ed.Event](func(ctx context.Context, e ed.Event) error { return nil })

	d, err := dispatch.NewDispatcher[ed.Event](h, cfg.Options()...)
	if err != nil {
		t.Fatal("the options should be valid:", err)
	}

	d.Close()

	// Invalid values are rejected by the dispatcher too.
	cfg.BatchSize = 0
	if _, err := dispatch.NewDispatcher[ed.Event](h, cfg.Options()...); !errors.Is(err, dispatch.ErrInvalidOption) {
		t.Error("there should be an invalid option error:", err)
	}
}
