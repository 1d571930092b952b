package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

// Topic carries every interval change. Messages are keyed by owner so one owner's changes stay
// ordered within a partition.
const Topic = "planner.interval.changed.v1"

const (
	EventCreated = "interval.created"
	EventUpdated = "interval.updated"
	EventDeleted = "interval.deleted"
)

// Event is the envelope written to the outbox table in the same transaction as the change.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	OwnerID       string
	EventType     string
	Payload       []byte
	Trace         otelx.TraceContext
}

// Record is an outbox row waiting to be published.
type Record struct {
	ID int64
	Event
	CreatedAt time.Time
}

// IntervalChange is the JSON payload of every event on Topic.
type IntervalChange struct {
	EventID    string             `json:"event_id"`
	Type       string             `json:"type"`
	Origin     string             `json:"origin,omitempty"`
	IntervalID string             `json:"interval_id"`
	Kind       model.IntervalKind `json:"kind"`
	OwnerID    string             `json:"owner_id"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Version    int64              `json:"version"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// NewIntervalEvent builds the outbox event for a committed change of iv. origin names the
// instance that made the change so it can skip its own events on the way back in.
func NewIntervalEvent(ctx context.Context, eventType, origin string, iv model.Interval, at time.Time) (Event, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(IntervalChange{
		EventID:    id,
		Type:       eventType,
		Origin:     origin,
		IntervalID: iv.ID,
		Kind:       iv.Kind,
		OwnerID:    iv.OwnerID,
		StartTime:  iv.StartTime.UTC(),
		EndTime:    iv.EndTime.UTC(),
		Version:    iv.Version,
		OccurredAt: at.UTC(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		EventID:       id,
		AggregateType: string(iv.Kind),
		AggregateID:   iv.ID,
		OwnerID:       iv.OwnerID,
		EventType:     eventType,
		Payload:       payload,
		Trace:         otelx.CaptureTraceContext(ctx),
	}, nil
}

func DecodeIntervalChange(raw []byte) (IntervalChange, error) {
	var c IntervalChange
	if err := json.Unmarshal(raw, &c); err != nil {
		return IntervalChange{}, fmt.Errorf("decode interval change: %w", err)
	}
	if c.OwnerID == "" {
		return IntervalChange{}, fmt.Errorf("decode interval change: owner_id missing")
	}
	return c, nil
}
