// Package teamcal assembles the calendar of one user or a team: paged time blocks plus the
// availability windows of every member, served from the response cache when possible.
package teamcal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/paging"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otelx.Tracer("calendar-service/teamcal")

// Source is the read side of the store the aggregator needs.
type Source interface {
	storage.Directory
	ListIntervals(ctx context.Context, kind model.IntervalKind, ownerIDs []string, start, end *time.Time) ([]model.Interval, error)
}

type Query struct {
	OwnerIDs []string
	// Start and End filter with end_time >= Start and start_time <= End. Nil is unbounded.
	Start  *time.Time
	End    *time.Time
	Paging paging.Options
}

type Calendar struct {
	// User is set when the query names a single owner.
	User         *model.User                        `json:"user,omitempty"`
	TimeBlocks   paging.PageResult[model.Interval] `json:"time_blocks"`
	Availability []model.Interval                  `json:"availability"`
	Cached       bool                              `json:"cached"`
}

type Aggregator struct {
	src    Source
	cache  calcache.Cache
	retry  retry.Policy
	logger *slog.Logger
}

func NewAggregator(src Source, cache calcache.Cache, policy retry.Policy, logger *slog.Logger) *Aggregator {
	if cache == nil {
		cache = calcache.Noop{}
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("calendar read failed, retrying", "attempt", attempt, "delay", delay.String(), "err", err)
		}
	}
	return &Aggregator{src: src, cache: cache, retry: policy, logger: logger}
}

func (a *Aggregator) GetCalendar(ctx context.Context, q Query) (cal Calendar, err error) {
	owners := dedupe(q.OwnerIDs)
	ctx, span := tracer.Start(ctx, "teamcal.GetCalendar",
		trace.WithAttributes(attribute.Int("calendar.owner_count", len(owners))),
	)
	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("calendar.error_kind", model.KindOf(err).String()))
			if model.KindOf(err) == model.KindTransientStore {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				a.logger.Error("calendar aggregation failed", "owners", len(owners), "err", err)
			}
		}
		span.SetAttributes(attribute.Bool("calendar.cache_hit", cal.Cached))
		span.End()
	}()

	if err := a.validate(ctx, owners, q); err != nil {
		return Calendar{}, err
	}
	q.Paging = q.Paging.Normalize()

	// The key pins the owners' cache generations before anything is read.
	key := a.cacheKey(ctx, owners, q)
	if hit, ok := a.lookup(ctx, key); ok {
		return hit, nil
	}

	var blocks, avail []model.Interval
	var g errgroup.Group
	g.Go(func() error {
		var err error
		blocks, err = a.list(ctx, model.KindTimeBlock, owners, q.Start, q.End)
		return err
	})
	g.Go(func() error {
		var err error
		avail, err = a.list(ctx, model.KindAvailability, owners, q.Start, q.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return Calendar{}, err
	}

	slices.SortStableFunc(avail, func(x, y model.Interval) int { return x.StartTime.Compare(y.StartTime) })
	cal = Calendar{
		TimeBlocks:   paging.Intervals(blocks, q.Paging),
		Availability: avail,
	}
	if len(owners) == 1 {
		u, err := storage.LookupUser(ctx, a.src, a.retry, owners[0])
		if err != nil {
			return Calendar{}, err
		}
		cal.User = &u
	}

	a.save(ctx, key, cal)
	return cal, nil
}

// TimeBlocks returns every time block matching q, searched and sorted like GetCalendar but not
// split into pages and never cached. It feeds the viewport and streaming views.
func (a *Aggregator) TimeBlocks(ctx context.Context, q Query) (blocks []model.Interval, err error) {
	owners := dedupe(q.OwnerIDs)
	ctx, span := tracer.Start(ctx, "teamcal.TimeBlocks",
		trace.WithAttributes(attribute.Int("calendar.owner_count", len(owners))),
	)
	defer func() {
		if model.KindOf(err) == model.KindTransientStore {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.logger.Error("time block listing failed", "owners", len(owners), "err", err)
		}
		span.End()
	}()

	if err := a.validate(ctx, owners, q); err != nil {
		return nil, err
	}
	items, err := a.list(ctx, model.KindTimeBlock, owners, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	return paging.FilterIntervals(items, q.Paging), nil
}

func (a *Aggregator) validate(ctx context.Context, owners []string, q Query) error {
	if len(owners) == 0 {
		return model.InvalidRange("at least one user id is required")
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return model.InvalidRange("start %s is after end %s", q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	return storage.CheckOwners(ctx, a.src, a.retry, owners)
}

func (a *Aggregator) list(ctx context.Context, kind model.IntervalKind, owners []string, start, end *time.Time) ([]model.Interval, error) {
	ctx, span := tracer.Start(ctx, "teamcal.list", trace.WithAttributes(attribute.String("calendar.kind", string(kind))))
	defer span.End()
	items, err := retry.Do(ctx, a.retry, func(ctx context.Context) ([]model.Interval, error) {
		return a.src.ListIntervals(ctx, kind, owners, start, end)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	span.SetAttributes(attribute.Int("calendar.rows", len(items)))
	return items, nil
}

func (a *Aggregator) cacheKey(ctx context.Context, owners []string, q Query) string {
	key, err := a.cache.Key(ctx, owners, queryFingerprint(q))
	if err != nil {
		a.logger.Warn("calendar cache unavailable", "err", err)
		return ""
	}
	return key
}

func (a *Aggregator) lookup(ctx context.Context, key string) (Calendar, bool) {
	if key == "" {
		return Calendar{}, false
	}
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("calendar cache read failed", "err", err)
		return Calendar{}, false
	}
	if !ok {
		return Calendar{}, false
	}
	var cal Calendar
	if err := json.Unmarshal(raw, &cal); err != nil {
		a.logger.Warn("calendar cache entry unreadable", "err", err)
		return Calendar{}, false
	}
	cal.Cached = true
	return cal, true
}

func (a *Aggregator) save(ctx context.Context, key string, cal Calendar) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(cal)
	if err != nil {
		a.logger.Warn("calendar cache encode failed", "err", err)
		return
	}
	if err := a.cache.Set(ctx, key, raw); err != nil {
		a.logger.Warn("calendar cache write failed", "err", err)
	}
}

func queryFingerprint(q Query) string {
	v := url.Values{}
	if q.Start != nil {
		v.Set("start", q.Start.UTC().Format(time.RFC3339Nano))
	}
	if q.End != nil {
		v.Set("end", q.End.UTC().Format(time.RFC3339Nano))
	}
	v.Set("page", fmt.Sprint(q.Paging.Page))
	v.Set("limit", fmt.Sprint(q.Paging.Limit))
	v.Set("search", strings.ToLower(q.Paging.Search))
	v.Set("sort", q.Paging.SortBy+":"+string(q.Paging.SortOrder))
	return v.Encode()
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
