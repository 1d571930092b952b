// Package storage persists users, time blocks, availability windows and the outbox.
//
// Two backends implement Store: Postgres (pgx) for deployments and SQLite (modernc) for local
// runs and tests. Both translate driver failures into model error kinds at this boundary, so
// callers never see a driver error type.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
)

type Store interface {
	// WithinTx runs fn in a write transaction, committing when fn returns nil. Writers for the
	// same owner are serialized: SQLite takes the write lock up front, Postgres relies on row
	// locks plus the time_blocks exclusion constraint.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListIntervals returns intervals of kind owned by any of ownerIDs with
	// end_time >= start and start_time <= end. Nil bounds are open. Ordered by start, then id.
	ListIntervals(ctx context.Context, kind model.IntervalKind, ownerIDs []string, start, end *time.Time) ([]model.Interval, error)
	// FindOverlapping returns the owner's time blocks overlapping [start, end), skipping excludeID.
	FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error)
	GetInterval(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error)

	// MissingUsers returns the ids that have no user record, in input order.
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error

	outbox.Source

	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error)
	// GetForUpdate reads the row and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error)
	// Insert assigns ID (when empty) and Version 1.
	Insert(ctx context.Context, iv *model.Interval) error
	// Update writes iv when the stored version equals expectedVersion and bumps iv.Version.
	Update(ctx context.Context, iv *model.Interval, expectedVersion int64) error
	Delete(ctx context.Context, kind model.IntervalKind, id string, expectedVersion int64) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

func table(kind model.IntervalKind) (string, error) {
	switch kind {
	case model.KindTimeBlock:
		return "time_blocks", nil
	case model.KindAvailability:
		return "availability_windows", nil
	default:
		return "", model.InvalidRange("unknown interval kind %q", kind)
	}
}

func intervalNotFound(kind model.IntervalKind, id string) error {
	if kind == model.KindAvailability {
		return model.NotFound("availability window", id)
	}
	return model.NotFound("time block", id)
}

func missingFrom(ids []string, found map[string]bool) []string {
	var missing []string
	seen := map[string]bool{}
	for _, id := range ids {
		if found[id] || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	return missing
}

func withUserDefaults(u model.User) model.User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u
}

func stampCreated(iv *model.Interval) {
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	iv.CreatedAt = iv.CreatedAt.UTC()
	if iv.UpdatedAt.IsZero() {
		iv.UpdatedAt = iv.CreatedAt
	}
	iv.UpdatedAt = iv.UpdatedAt.UTC()
}
