// Package dispatch 将发布的消息扇出到频道的所有订阅连接
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/life-stream-dev/life-stream-go-chat-gateway/internal/dispatch"

// ErrSlowConsumer 订阅者出站队列溢出且策略为 disconnect 时作为断开原因
var ErrSlowConsumer = errors.New("slow consumer: outbound queue overflow")

type Registry interface {
	Lookup(id ids.ConnectionID) (*connection.Connection, bool)
}

type SubscriberIndex interface {
	SubscribersOf(channel ids.ChannelID) []ids.ConnectionID
}

type Dispatcher struct {
	registry Registry
	index    SubscriberIndex
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewDispatcher(registry Registry, index SubscriberIndex, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		index:    index,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
	}
}

// Publish 对快照中的每个订阅者入队一帧 Dispatch，返回成功入队的数量
// 注册表中已不存在或队列已关闭的订阅者直接跳过，不视为错误
// 只有编码失败或 ctx 取消（block 策略下等待空位时）才返回错误
func (d *Dispatcher) Publish(ctx context.Context, event protocol.MessageCreateEvent) (int, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.publish",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("chat.channel_id", string(event.ChannelID)),
			attribute.String("chat.event_id", event.ID.String()),
		),
	)
	defer span.End()

	frame, err := event.DispatchFrame()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return 0, err
	}

	subscribers := d.index.SubscribersOf(event.ChannelID)
	delivered, misses := 0, 0
	defer func() {
		span.SetAttributes(
			attribute.Int("chat.subscribers", len(subscribers)),
			attribute.Int("chat.delivered", delivered),
		)
		d.metrics.Published(len(subscribers), delivered, misses)
	}()

	for _, id := range subscribers {
		conn, ok := d.registry.Lookup(id)
		if !ok {
			misses++
			continue
		}
		err := conn.Enqueue(ctx, frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, connection.ErrQueueClosed):
			misses++
		case errors.Is(err, connection.ErrQueueOverflow):
			logger.WarnF("[%s] Outbound queue overflow, disconnecting slow consumer", id)
			d.metrics.QueueOverflow(connection.OverflowDisconnect.String())
			conn.Kick(ErrSlowConsumer)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "enqueue")
			return delivered, fmt.Errorf("dispatch to %s: %w", id, err)
		}
	}

	logger.DebugF("Dispatched %s %s to %d/%d subscribers of %s",
		protocol.EventMessageCreate, event.ID, delivered, len(subscribers), event.ChannelID)
	return delivered, nil
}
