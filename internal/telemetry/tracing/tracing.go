package tracing

import (
	"fmt"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/honeycombio/honeycomb-opentelemetry-go"
	"github.com/honeycombio/otel-config-go/otelconfig"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var GlobalTracer = otel.Tracer("lxcgate")

// HoneycombSetup configures the OpenTelemetry SDK with the honeycomb distro when
// enabled, and instruments the redis client (if any). The returned func must be
// called on shutdown.
func HoneycombSetup(enabled bool, serviceName string, rdb *redis.Client) (func(), error) {
	if rdb != nil {
		rdb.AddHook(redisotel.NewTracingHook())
	}

	if !enabled {
		return func() {}, nil
	}

	bsp := honeycomb.NewBaggageSpanProcessor()
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(serviceName),
		otelconfig.WithSpanProcessor(bsp),
	)
	if err != nil {
		return nil, fmt.Errorf("configure open telemetry: %w", err)
	}

	// tracer must be re-acquired from the freshly configured provider
	GlobalTracer = otel.Tracer(serviceName)
	log.Debugf("honeycomb tracing set up for [%s]", serviceName)

	return otelShutdown, nil
}

// EndSpanWithErrCheck records err on the span (if set) and ends it.
func EndSpanWithErrCheck(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	span.End()
}
