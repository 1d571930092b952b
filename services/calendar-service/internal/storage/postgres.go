package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/planner/libs/db"
	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
)

const intervalColumns = `id, owner_id, start_time, end_time, title, status, note, color, version, created_at, updated_at`

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, "postgres", func(ctx context.Context, sql string) error {
		_, err := s.pool.Exec(ctx, sql)
		return err
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return db.ReadyCheck(s.pool)(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgErr("commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) ListIntervals(ctx context.Context, kind model.IntervalKind, ownerIDs []string, start, end *time.Time) ([]model.Interval, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []model.Interval{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+intervalColumns+`
		FROM `+tbl+`
		WHERE owner_id = ANY($1)
			AND ($2::timestamptz IS NULL OR end_time >= $2)
			AND ($3::timestamptz IS NULL OR start_time <= $3)
		ORDER BY start_time ASC, id ASC
	`, ownerIDs, utcPtr(start), utcPtr(end))
	if err != nil {
		return nil, mapPgErr("list "+tbl, err)
	}
	return collectPgIntervals(rows, kind)
}

func (s *PostgresStore) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	return pgFindOverlapping(ctx, s.pool, ownerID, start, end, excludeID)
}

func (s *PostgresStore) GetInterval(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error) {
	return pgGetInterval(ctx, s.pool, kind, id, false)
}

func (s *PostgresStore) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapPgErr("lookup users", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapPgErr("scan user id", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr("lookup users", err)
	}
	return missingFrom(ids, found), nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, email, timezone, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Timezone, &u.CreatedAt)
	if db.IsNoRows(err) {
		return model.User{}, model.NotFound("user", id)
	}
	if err != nil {
		return model.User{}, mapPgErr("get user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// CreateUser inserts u, or replaces the profile fields of an existing user with the same id.
func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u = withUserDefaults(u)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, display_name, email, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			timezone = EXCLUDED.timezone
		RETURNING created_at
	`, u.ID, u.DisplayName, u.Email, u.Timezone, u.CreatedAt).Scan(&u.CreatedAt)
	if err != nil {
		return model.User{}, mapPgErr("create user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapPgErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("user", id)
	}
	return nil
}

// PublishPending locks up to limit unpublished rows (SKIP LOCKED, so several publishers can
// run), hands them to send and marks them published in the same transaction.
func (s *PostgresStore) PublishPending(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, mapPgErr("begin outbox transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, owner_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, mapPgErr("fetch outbox", err)
	}
	var records []outbox.Record
	for rows.Next() {
		var r outbox.Record
		if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.OwnerID, &r.EventType,
			&r.Payload, &r.Trace.Traceparent, &r.Trace.Tracestate, &r.CreatedAt); err != nil {
			rows.Close()
			return 0, mapPgErr("scan outbox", err)
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, mapPgErr("fetch outbox", err)
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	if err := send(ctx, records); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, mapPgErr("mark outbox published", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgErr("commit outbox", err)
	}
	return len(records), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	return pgFindOverlapping(ctx, t.tx, ownerID, start, end, excludeID)
}

func (t *pgTx) GetForUpdate(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error) {
	return pgGetInterval(ctx, t.tx, kind, id, true)
}

func (t *pgTx) Insert(ctx context.Context, iv *model.Interval) error {
	tbl, err := table(iv.Kind)
	if err != nil {
		return err
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	stampCreated(iv)
	_, err = t.tx.Exec(ctx, `
		INSERT INTO `+tbl+` (id, owner_id, start_time, end_time, title, status, note, color, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
	`, iv.ID, iv.OwnerID, iv.StartTime.UTC(), iv.EndTime.UTC(), iv.Title, iv.Status, iv.Note, iv.Color,
		iv.CreatedAt, iv.UpdatedAt)
	if err != nil {
		return mapPgErr("insert into "+tbl, err)
	}
	iv.Version = 1
	return nil
}

func (t *pgTx) Update(ctx context.Context, iv *model.Interval, expectedVersion int64) error {
	tbl, err := table(iv.Kind)
	if err != nil {
		return err
	}
	if iv.UpdatedAt.IsZero() {
		iv.UpdatedAt = time.Now().UTC()
	}
	var version int64
	err = t.tx.QueryRow(ctx, `
		UPDATE `+tbl+`
		SET start_time = $3,
			end_time = $4,
			title = $5,
			status = $6,
			note = $7,
			color = $8,
			version = version + 1,
			updated_at = $9
		WHERE id = $1 AND version = $2
		RETURNING version
	`, iv.ID, expectedVersion, iv.StartTime.UTC(), iv.EndTime.UTC(), iv.Title, iv.Status, iv.Note, iv.Color,
		iv.UpdatedAt.UTC()).Scan(&version)
	if db.IsNoRows(err) {
		return pgVersionMiss(ctx, t.tx, tbl, iv.Kind, iv.ID, expectedVersion)
	}
	if err != nil {
		return mapPgErr("update "+tbl, err)
	}
	iv.Version = version
	return nil
}

func (t *pgTx) Delete(ctx context.Context, kind model.IntervalKind, id string, expectedVersion int64) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+tbl+` WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return mapPgErr("delete from "+tbl, err)
	}
	if tag.RowsAffected() == 0 {
		return pgVersionMiss(ctx, t.tx, tbl, kind, id, expectedVersion)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if evt.Trace == (otelx.TraceContext{}) {
		evt.Trace = otelx.CaptureTraceContext(ctx)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, owner_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.OwnerID, evt.EventType, evt.Payload,
		evt.Trace.Traceparent, evt.Trace.Tracestate)
	if err != nil {
		return mapPgErr("append outbox event", err)
	}
	return nil
}

func pgFindOverlapping(ctx context.Context, q pgQuerier, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	rows, err := q.Query(ctx, `
		SELECT `+intervalColumns+`
		FROM time_blocks
		WHERE owner_id = $1
			AND start_time < $3
			AND end_time > $2
			AND id <> $4
		ORDER BY start_time ASC, id ASC
	`, ownerID, start.UTC(), end.UTC(), excludeID)
	if err != nil {
		return nil, mapPgErr("find overlapping time blocks", err)
	}
	return collectPgIntervals(rows, model.KindTimeBlock)
}

func pgGetInterval(ctx context.Context, q pgQuerier, kind model.IntervalKind, id string, lock bool) (model.Interval, error) {
	tbl, err := table(kind)
	if err != nil {
		return model.Interval{}, err
	}
	query := `SELECT ` + intervalColumns + ` FROM ` + tbl + ` WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	iv, err := scanPgInterval(q.QueryRow(ctx, query, id), kind)
	if db.IsNoRows(err) {
		return model.Interval{}, intervalNotFound(kind, id)
	}
	if err != nil {
		return model.Interval{}, mapPgErr("get "+tbl, err)
	}
	return iv, nil
}

// pgVersionMiss explains a zero-row write: the row is gone or its version moved on.
func pgVersionMiss(ctx context.Context, q pgQuerier, tbl string, kind model.IntervalKind, id string, expected int64) error {
	var actual int64
	err := q.QueryRow(ctx, `SELECT version FROM `+tbl+` WHERE id = $1`, id).Scan(&actual)
	if db.IsNoRows(err) {
		return intervalNotFound(kind, id)
	}
	if err != nil {
		return mapPgErr("read version", err)
	}
	return model.ConcurrencyConflict(id, expected, actual)
}

func scanPgInterval(row pgx.Row, kind model.IntervalKind) (model.Interval, error) {
	iv := model.Interval{Kind: kind}
	if err := row.Scan(&iv.ID, &iv.OwnerID, &iv.StartTime, &iv.EndTime, &iv.Title, &iv.Status, &iv.Note,
		&iv.Color, &iv.Version, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
		return model.Interval{}, err
	}
	iv.StartTime = iv.StartTime.UTC()
	iv.EndTime = iv.EndTime.UTC()
	iv.CreatedAt = iv.CreatedAt.UTC()
	iv.UpdatedAt = iv.UpdatedAt.UTC()
	return iv, nil
}

func collectPgIntervals(rows pgx.Rows, kind model.IntervalKind) ([]model.Interval, error) {
	defer rows.Close()
	out := []model.Interval{}
	for rows.Next() {
		iv, err := scanPgInterval(rows, kind)
		if err != nil {
			return nil, mapPgErr("scan interval", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr("read intervals", err)
	}
	return out, nil
}

// mapPgErr translates driver failures into model kinds. Anything unrecognised is transient.
func mapPgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.KindOf(err) != model.KindUnknown {
		return err
	}
	switch {
	case db.HasCode(err, db.CodeExclusionViolation):
		return &model.Error{Kind: model.KindSchedulingConflict, Message: "time block overlaps an existing block", Err: err}
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return &model.Error{Kind: model.KindNotFound, Message: "owner not found", Err: err}
	case db.HasCode(err, db.CodeCheckViolation):
		return &model.Error{Kind: model.KindInvalidRange, Message: "start must be before end", Err: err}
	default:
		return model.Transient(fmt.Sprintf("postgres: %s", op), err)
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
