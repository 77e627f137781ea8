// Package tracing 安装 OpenTelemetry tracer provider
package tracing

import (
	"context"
	"fmt"

	c "github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownCallback 刷出剩余 span，注册到 event.Cleaner
type ShutdownCallback struct {
	shutdown func(context.Context) error
}

func (sc *ShutdownCallback) Invoke(ctx context.Context) error {
	return sc.shutdown(ctx)
}

// Setup 未启用时返回空操作回调，不修改全局 provider
func Setup(ctx context.Context, config c.TracingConfig, serviceName string) (*ShutdownCallback, error) {
	noop := &ShutdownCallback{shutdown: func(context.Context) error { return nil }}
	if !config.Enabled || config.Endpoint == "" {
		logger.DebugF("Tracing disabled")
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(config.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.InfoF("Tracing enabled, exporting to %s", config.Endpoint)
	return &ShutdownCallback{shutdown: tp.Shutdown}, nil
}
