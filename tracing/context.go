// Copyright (c) 2020 - The Event Horizon authors.
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

package tracing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/sirupsen/logrus"

	ed "github.com/looplab/eventdispatch"
)

const (
	tracingSpanKeyStr = "ed_tracing_span"
)

// RegisterContext registers the tracing span to be marshaled/unmarshaled on the
// context. This enables propagation of the tracing spans for backends that
// supports it (like Jaeger).
//
// For usage with Elastic APM which doesn't support submitting of child spans
// for the same parent span multiple times outside of a single transaction don't
// register the context.
func RegisterContext() {
	ed.RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if span := opentracing.SpanFromContext(ctx); span != nil {
			tracer := opentracing.GlobalTracer()

			carrier := opentracing.TextMapCarrier{}
			if err := tracer.Inject(span.Context(), opentracing.TextMap, &carrier); err != nil {
				logrus.WithError(err).Warn("eventdispatch: could not inject tracing span")

				return
			}

			js, err := json.Marshal(carrier)
			if err != nil {
				logrus.WithError(err).Warn("eventdispatch: could not marshal tracing span")

				return
			}

			vals[tracingSpanKeyStr] = string(js)
		}
	})
	ed.RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if js, ok := vals[tracingSpanKeyStr].(string); ok {
			tracer := opentracing.GlobalTracer()

			carrier := opentracing.TextMapCarrier{}
			if err := json.Unmarshal([]byte(js), &carrier); err != nil {
				logrus.WithError(err).Warn("eventdispatch: could not unmarshal tracing span")

				return ctx
			}

			parentSpanContext, err := tracer.Extract(opentracing.TextMap, carrier)
			if err != nil && !errors.Is(err, opentracing.ErrSpanContextNotFound) {
				logrus.WithError(err).Warn("eventdispatch: could not extract tracing span")

				return ctx
			}

			// Only the reference is carried, the span is finished right away
			// and serves as parent for the spans of the handlers.
			span := tracer.StartSpan("eventbus", ext.RPCServerOption(parentSpanContext))
			span.Finish()

			ctx = opentracing.ContextWithSpan(ctx, span)
		}

		return ctx
	})
}
