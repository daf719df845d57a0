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
	"sync"
)

// DefaultNamespace is used for contexts without a namespace.
const DefaultNamespace = "default"

type contextKey int

const namespaceKey contextKey = iota

// namespaceKeyStr is the key of the namespace in marshaled contexts.
const namespaceKeyStr = "ed_namespace"

// NamespaceFromContext returns the namespace of the context, or
// DefaultNamespace.
func NamespaceFromContext(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey).(string); ok {
		return ns
	}

	return DefaultNamespace
}

// NewContextWithNamespace returns a context with a namespace, event stores keep
// the streams of different namespaces apart.
func NewContextWithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}

// ContextMarshalFunc adds values of a context to a map, for carrying them
// along with events that leave the process.
type ContextMarshalFunc func(context.Context, map[string]interface{})

// ContextUnmarshalFunc returns a context with the values it finds in a map
// created by a ContextMarshalFunc.
type ContextUnmarshalFunc func(context.Context, map[string]interface{}) context.Context

// contextCodecs are the registered context marshalers, used by the codecs of
// the event buses.
var contextCodecs = struct {
	sync.RWMutex
	marshalers   []ContextMarshalFunc
	unmarshalers []ContextUnmarshalFunc
}{}

func init() {
	RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if ns, ok := ctx.Value(namespaceKey).(string); ok {
			vals[namespaceKeyStr] = ns
		}
	})
	RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if ns, ok := vals[namespaceKeyStr].(string); ok {
			return NewContextWithNamespace(ctx, ns)
		}

		return ctx
	})
}

// RegisterContextMarshaler adds a marshaler for MarshalContext.
func RegisterContextMarshaler(f ContextMarshalFunc) {
	contextCodecs.Lock()
	defer contextCodecs.Unlock()

	contextCodecs.marshalers = append(contextCodecs.marshalers, f)
}

// RegisterContextUnmarshaler adds an unmarshaler for UnmarshalContext.
func RegisterContextUnmarshaler(f ContextUnmarshalFunc) {
	contextCodecs.Lock()
	defer contextCodecs.Unlock()

	contextCodecs.unmarshalers = append(contextCodecs.unmarshalers, f)
}

// MarshalContext returns the values of all registered marshalers. When two
// marshalers use the same key the one registered first is kept.
func MarshalContext(ctx context.Context) map[string]interface{} {
	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	all := map[string]interface{}{}

	for _, f := range contextCodecs.marshalers {
		vals := map[string]interface{}{}
		f(ctx, vals)

		for k, v := range vals {
			if _, ok := all[k]; !ok {
				all[k] = v
			}
		}
	}

	return all
}

// UnmarshalContext returns ctx with the values of vals added by all registered
// unmarshalers.
func UnmarshalContext(ctx context.Context, vals map[string]interface{}) context.Context {
	if len(vals) == 0 {
		return ctx
	}

	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	for _, f := range contextCodecs.unmarshalers {
		ctx = f(ctx, vals)
	}

	return ctx
}
