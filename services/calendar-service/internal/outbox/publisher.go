package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/planner/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Source hands out unpublished records. send runs while the records are locked; they are
// marked published only when send returns nil.
type Source interface {
	PublishPending(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error)
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	src       Source
	logger    *slog.Logger
	brokers   []string
	topic     string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	Topic     string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(src Source, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Topic == "" {
		cfg.Topic = Topic
	}
	return &Publisher{
		src:       src,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		topic:     cfg.Topic,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  p.topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishOnce(ctx, writer)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

// PublishOnce moves at most one batch from the outbox to w.
func (p *Publisher) PublishOnce(ctx context.Context, w MessageWriter) (int, error) {
	return p.src.PublishPending(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, toMessage(ctx, r))
		}
		return w.WriteMessages(ctx, msgs...)
	})
}

func toMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := r.Trace.Restore(ctx)
	msg := kafka.Message{
		Key:   []byte(r.OwnerID),
		Value: r.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
			{Key: kafkax.HeaderOwnerID, Value: []byte(r.OwnerID)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
