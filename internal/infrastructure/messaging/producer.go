package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kalligram-api/pkg/metrics"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	stream Stream
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, stream Stream, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 10000
	}
	if stream == "" {
		stream = StreamGenerationCompleted
	}
	return &Producer{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		metrics.RedisStreamPublished.WithLabelValues(string(stream), "error").Inc()
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.RedisStreamPublished.WithLabelValues(string(stream), "success").Inc()
	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishGenerationCompleted 发布生成完成事件
func (p *Producer) PublishGenerationCompleted(ctx context.Context, evt *GenerationCompletedMessage) (string, error) {
	msg, err := NewMessage(evt.RequestID, MessageTypeGenerationCompleted, evt.UserID, evt.ProjectID, evt)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("mode", evt.Mode)
	msg.SetMetadata("degraded", strconv.FormatBool(evt.Degraded))
	return p.Publish(ctx, p.stream, msg)
}
