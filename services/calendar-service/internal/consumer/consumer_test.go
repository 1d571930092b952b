package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
	closed bool
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func changeMessage(t *testing.T, owner, origin string) kafka.Message {
	t.Helper()
	start := time.Date(2023, 6, 15, 9, 0, 0, 0, time.UTC)
	evt, err := outbox.NewIntervalEvent(context.Background(), outbox.EventUpdated, origin, model.Interval{
		ID: "iv", Kind: model.KindTimeBlock, OwnerID: owner, StartTime: start, EndTime: start.Add(time.Hour),
	}, start)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return kafka.Message{Topic: outbox.Topic, Key: []byte(owner), Value: evt.Payload}
}

func TestConsumerInvalidatesPeerChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := calcache.NewMemory(time.Minute)
	keys := map[string]string{}
	for _, owner := range []string{"U", "V", "W"} {
		k, _ := cache.Key(ctx, []string{owner}, "q")
		_ = cache.Set(ctx, k, []byte(owner))
		keys[owner] = k
	}

	reader := &sliceReader{cancel: cancel, msgs: []kafka.Message{
		changeMessage(t, "U", "peer"),
		changeMessage(t, "V", "self"),
		{Topic: outbox.Topic, Value: []byte("not json")},
	}}
	c := NewWithReader(reader, cache, slog.New(slog.NewTextHandler(io.Discard, nil)), "self")
	c.Run(ctx)

	if _, ok, _ := cache.Get(ctx, keys["U"]); ok {
		t.Fatal("peer change must invalidate U")
	}
	if _, ok, _ := cache.Get(ctx, keys["V"]); !ok {
		t.Fatal("own change was already applied and must be skipped")
	}
	if _, ok, _ := cache.Get(ctx, keys["W"]); !ok {
		t.Fatal("W was never touched")
	}
	if !reader.closed {
		t.Fatal("reader must be closed when Run returns")
	}
}
