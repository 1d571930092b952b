// Package scheduling creates, moves and deletes time blocks and availability windows.
//
// Every mutation runs its overlap check and its write in one store transaction, appends an
// outbox event in that transaction and, once committed, invalidates the owner's cached
// calendars before returning.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/clock"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/conflict"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otelx.Tracer("calendar-service/scheduling")

type Config struct {
	// Origin identifies this instance in published events.
	Origin string
	// Retry applies to reads outside of write transactions.
	Retry retry.Policy
	// MaxSeriesOccurrences caps recurring series creation.
	MaxSeriesOccurrences int
}

type Service struct {
	store  storage.Store
	cache  calcache.Cache
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
}

func NewService(store storage.Store, cache calcache.Cache, clk clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if cache == nil {
		cache = calcache.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.MaxSeriesOccurrences <= 0 {
		cfg.MaxSeriesOccurrences = DefaultMaxSeriesOccurrences
	}
	return &Service{store: store, cache: cache, clock: clk, logger: logger, cfg: cfg}
}

func (s *Service) CreateTimeBlock(ctx context.Context, ownerID string, start, end time.Time, meta model.Metadata) (model.Interval, error) {
	return s.create(ctx, model.KindTimeBlock, ownerID, start, end, meta)
}

func (s *Service) UpdateTimeBlock(ctx context.Context, id, ownerID string, patch model.Patch) (model.Interval, error) {
	return s.update(ctx, model.KindTimeBlock, id, ownerID, patch)
}

func (s *Service) DeleteTimeBlock(ctx context.Context, id, ownerID string, version int64) error {
	return s.delete(ctx, model.KindTimeBlock, id, ownerID, version)
}

// Availability windows follow the same flows without the overlap rule.
func (s *Service) CreateAvailability(ctx context.Context, ownerID string, start, end time.Time, meta model.Metadata) (model.Interval, error) {
	return s.create(ctx, model.KindAvailability, ownerID, start, end, meta)
}

func (s *Service) UpdateAvailability(ctx context.Context, id, ownerID string, patch model.Patch) (model.Interval, error) {
	return s.update(ctx, model.KindAvailability, id, ownerID, patch)
}

func (s *Service) DeleteAvailability(ctx context.Context, id, ownerID string, version int64) error {
	return s.delete(ctx, model.KindAvailability, id, ownerID, version)
}

func (s *Service) create(ctx context.Context, kind model.IntervalKind, ownerID string, start, end time.Time, meta model.Metadata) (iv model.Interval, err error) {
	ctx, span := s.startSpan(ctx, "create", kind, ownerID)
	defer func() { s.endSpan(span, err) }()

	if err := conflict.ValidateRange(start, end); err != nil {
		return model.Interval{}, err
	}
	if err := storage.CheckOwners(ctx, s.store, s.cfg.Retry, []string{ownerID}); err != nil {
		return model.Interval{}, err
	}

	now := s.clock.Now().UTC()
	iv = model.Interval{
		Kind:      kind,
		OwnerID:   ownerID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Title:     meta.Title,
		Status:    meta.Status,
		Note:      meta.Note,
		Color:     meta.Color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if kind == model.KindTimeBlock {
			if err := conflict.NewDetector(tx).Check(ctx, ownerID, iv.StartTime, iv.EndTime, ""); err != nil {
				return err
			}
		}
		if err := tx.Insert(ctx, &iv); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, outbox.EventCreated, iv)
	})
	if err != nil {
		return model.Interval{}, s.explainConflict(ctx, err, ownerID, iv.StartTime, iv.EndTime, "")
	}
	s.invalidate(ctx, ownerID)
	return iv, nil
}

func (s *Service) update(ctx context.Context, kind model.IntervalKind, id, ownerID string, patch model.Patch) (iv model.Interval, err error) {
	ctx, span := s.startSpan(ctx, "update", kind, ownerID)
	defer func() { s.endSpan(span, err) }()

	var next model.Interval
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := s.loadOwned(ctx, tx, kind, id, ownerID, patch.Version)
		if err != nil {
			return err
		}
		next = patch.Apply(cur)
		next.StartTime = next.StartTime.UTC()
		next.EndTime = next.EndTime.UTC()
		if err := conflict.ValidateRange(next.StartTime, next.EndTime); err != nil {
			return err
		}
		if kind == model.KindTimeBlock && patch.MovesInterval() {
			if err := conflict.NewDetector(tx).Check(ctx, ownerID, next.StartTime, next.EndTime, id); err != nil {
				return err
			}
		}
		next.UpdatedAt = s.clock.Now().UTC()
		if err := tx.Update(ctx, &next, cur.Version); err != nil {
			return err
		}
		iv = next
		return s.appendEvent(ctx, tx, outbox.EventUpdated, iv)
	})
	if err != nil {
		return model.Interval{}, s.explainConflict(ctx, err, ownerID, next.StartTime, next.EndTime, id)
	}
	s.invalidate(ctx, ownerID)
	return iv, nil
}

func (s *Service) delete(ctx context.Context, kind model.IntervalKind, id, ownerID string, version int64) (err error) {
	ctx, span := s.startSpan(ctx, "delete", kind, ownerID)
	defer func() { s.endSpan(span, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := s.loadOwned(ctx, tx, kind, id, ownerID, version)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, kind, id, cur.Version); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, outbox.EventDeleted, cur)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// loadOwned locks the row and checks ownership and, when expected is non-zero, the version.
// Rows of other owners are reported as missing.
func (s *Service) loadOwned(ctx context.Context, tx storage.Tx, kind model.IntervalKind, id, ownerID string, expected int64) (model.Interval, error) {
	cur, err := tx.GetForUpdate(ctx, kind, id)
	if err != nil {
		return model.Interval{}, err
	}
	if cur.OwnerID != ownerID {
		if kind == model.KindAvailability {
			return model.Interval{}, model.NotFound("availability window", id)
		}
		return model.Interval{}, model.NotFound("time block", id)
	}
	if expected != 0 && expected != cur.Version {
		return model.Interval{}, model.ConcurrencyConflict(id, expected, cur.Version)
	}
	return cur, nil
}

func (s *Service) appendEvent(ctx context.Context, tx storage.Tx, eventType string, iv model.Interval) error {
	evt, err := outbox.NewIntervalEvent(ctx, eventType, s.cfg.Origin, iv, s.clock.Now())
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, evt)
}

// explainConflict fills in the colliding blocks when the database constraint, not the
// in-transaction check, rejected the write. The blocks are read after the competing write
// committed, so they are the ones that won.
func (s *Service) explainConflict(ctx context.Context, err error, ownerID string, start, end time.Time, excludeID string) error {
	var e *model.Error
	if !errors.As(err, &e) || e.Kind != model.KindSchedulingConflict || len(e.Conflicts) > 0 {
		return err
	}
	if start.IsZero() || end.IsZero() {
		return err
	}
	conflicts, findErr := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) ([]model.Interval, error) {
		return conflict.NewDetector(s.store).FindConflicts(ctx, ownerID, start, end, excludeID)
	})
	if findErr != nil || len(conflicts) == 0 {
		return err
	}
	return model.SchedulingConflict(conflicts)
}

// invalidate runs after commit. A failure leaves entries to expire with their TTL.
func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if err := s.cache.InvalidateOwner(ctx, ownerID); err != nil {
		s.logger.Warn("calendar cache invalidation failed", "owner_id", ownerID, "err", err)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, kind model.IntervalKind, ownerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduling."+op,
		trace.WithAttributes(
			attribute.String("calendar.kind", string(kind)),
			attribute.String("calendar.owner_id", ownerID),
		),
	)
}

// endSpan records the outcome. Store failures are logged here; business errors are the
// caller's to report.
func (s *Service) endSpan(span trace.Span, err error) {
	if err != nil {
		kind := model.KindOf(err)
		span.SetAttributes(attribute.String("calendar.error_kind", kind.String()))
		if kind == model.KindTransientStore || kind == model.KindUnknown {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("calendar mutation failed", "kind", kind.String(), "err", err)
		}
	}
	span.End()
}
