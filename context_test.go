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

package eventdispatch

import (
	"context"
	"testing"
)

func TestContextNamespace(t *testing.T) {
	ctx := context.Background()

	if ns := NamespaceFromContext(ctx); ns != DefaultNamespace {
		t.Error("the namespace should be the default:", ns)
	}

	ctx = NewContextWithNamespace(ctx, "ns")
	if ns := NamespaceFromContext(ctx); ns != "ns" {
		t.Error("the namespace should be correct:", ns)
	}

	vals := MarshalContext(ctx)
	if ns, ok := vals[namespaceKeyStr].(string); !ok || ns != "ns" {
		t.Error("the marshaled namespace should be correct:", vals)
	}

	ctx = UnmarshalContext(context.Background(), vals)
	if ns := NamespaceFromContext(ctx); ns != "ns" {
		t.Error("the unmarshaled namespace should be correct:", ns)
	}
}

func TestContextMarshaler(t *testing.T) {
	RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if val, ok := ContextTestOne(ctx); ok {
			vals[contextTestKeyOneStr] = val
		}
	})

	ctx := context.Background()

	vals := MarshalContext(ctx)
	if _, ok := vals[contextTestKeyOneStr]; ok {
		t.Error("the marshaled values should be empty:", vals)
	}

	ctx = WithContextTestOne(ctx, "testval")
	vals = MarshalContext(ctx)

	if val, ok := vals[contextTestKeyOneStr]; !ok || val != "testval" {
		t.Error("the marshaled value should be correct:", val)
	}
}

func TestContextUnmarshaler(t *testing.T) {
	RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if val, ok := vals[contextTestKeyOneStr].(string); ok {
			return WithContextTestOne(ctx, val)
		}

		return ctx
	})

	vals := map[string]interface{}{}

	ctx := UnmarshalContext(context.Background(), vals)
	if _, ok := ContextTestOne(ctx); ok {
		t.Error("the unmarshaled context should be empty:", ctx)
	}

	vals[contextTestKeyOneStr] = "testval"

	ctx = UnmarshalContext(context.Background(), vals)
	if val, ok := ContextTestOne(ctx); !ok || val != "testval" {
		t.Error("the unmarshaled context should be correct:", val)
	}
}

func TestContextMarshalerDuplicateKey(t *testing.T) {
	for _, v := range []string{"first", "second"} {
		v := v
		RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
			vals["test_duplicate"] = v
		})
	}

	if vals := MarshalContext(context.Background()); vals["test_duplicate"] != "first" {
		t.Error("the first registered value should be kept:", vals)
	}
}

type contextTestKey int

const (
	contextTestKeyOne contextTestKey = iota
)

const (
	// The string key used to marshal contextTestKeyOne.
	contextTestKeyOneStr = "test_context_one"
)

// WithContextTestOne sets a value for One one the context.
func WithContextTestOne(ctx context.Context, val string) context.Context {
	return context.WithValue(ctx, contextTestKeyOne, val)
}

// ContextTestOne returns a value for One from the context.
func ContextTestOne(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(contextTestKeyOne).(string)

	return val, ok
}
