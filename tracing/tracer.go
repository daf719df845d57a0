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
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	"github.com/uber/jaeger-client-go/zipkin"
)

// NewTracer creates a Jaeger tracer reporting to the agent at agentAddr
// (host:port, UDP) and sets it as the global tracer. It should be closed
// using the returned io.Closer.
func NewTracer(serviceName, agentAddr string) (io.Closer, error) {
	transport, err := jaeger.NewUDPTransport(agentAddr, 0)
	if err != nil {
		return nil, fmt.Errorf("could not init Jaeger UDP transport: %w", err)
	}

	// B3 headers let the spans cross services that use Zipkin propagation.
	zipkinPropagator := zipkin.NewZipkinB3HTTPHeaderPropagator()

	tracer, closer := jaeger.NewTracer(
		serviceName,
		jaeger.NewConstSampler(true), // Trace everything for now.
		jaeger.NewRemoteReporter(transport),
		jaeger.TracerOptions.Injector(opentracing.HTTPHeaders, zipkinPropagator),
		jaeger.TracerOptions.Extractor(opentracing.HTTPHeaders, zipkinPropagator),
		jaeger.TracerOptions.ZipkinSharedRPCSpan(true),
		jaeger.TracerOptions.Gen128Bit(true),
	)
	opentracing.SetGlobalTracer(tracer)

	return closer, nil
}
