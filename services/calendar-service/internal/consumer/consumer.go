// Package consumer applies interval change events published by peer instances to the local
// calendar cache.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/planner/libs/kafkax"
	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// Origin is this instance's id; its own events were applied when they were written.
	Origin string
}

type Consumer struct {
	reader MessageReader
	cache  calcache.Cache
	logger *slog.Logger
	origin string
}

func New(logger *slog.Logger, cache calcache.Cache, cfg Config) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = outbox.Topic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewWithReader(reader, cache, logger, cfg.Origin)
}

func NewWithReader(reader MessageReader, cache calcache.Cache, logger *slog.Logger, origin string) *Consumer {
	return &Consumer{reader: reader, cache: cache, logger: logger, origin: origin}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otelx.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	change, err := outbox.DecodeIntervalChange(msg.Value)
	if err != nil {
		c.logger.Warn("dropping malformed interval event", "event_id", meta.EventID, "err", err)
		span.RecordError(err)
		return
	}
	if c.origin != "" && change.Origin == c.origin {
		return
	}
	if err := c.cache.InvalidateOwner(ctxSpan, change.OwnerID); err != nil {
		c.logger.Warn("calendar cache invalidation failed", "event_id", meta.EventID, "owner_id", change.OwnerID, "err", err)
		span.RecordError(err)
		return
	}
	c.logger.Debug("calendar cache invalidated", "event_id", meta.EventID, "event_type", meta.EventType, "owner_id", change.OwnerID)
}
