package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{
		Topic: "planner.interval.changed.v1",
		Key:   []byte("evt-1"),
		Headers: []kafka.Header{
			{Key: HeaderOwnerID, Value: []byte("user-1")},
		},
	}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "planner.interval.changed.v1" || meta.OwnerID != "user-1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestHeaderCarrierOverwrites(t *testing.T) {
	c := &headerCarrier{headers: []kafka.Header{{Key: "traceparent", Value: []byte("old")}}}
	c.Set("traceparent", "new")
	c.Set("tracestate", "x")
	if got := c.Get("traceparent"); got != "new" {
		t.Fatalf("expected overwrite, got %q", got)
	}
	if len(c.Keys()) != 2 {
		t.Fatalf("expected 2 keys, got %v", c.Keys())
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}
