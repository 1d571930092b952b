package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is fixed width so text comparison orders like time comparison.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema. Every
// transaction starts with BEGIN IMMEDIATE, so writers queue on the database lock and the
// overlap check and the write it guards cannot interleave with another writer.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: conn}
	if err := s.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, "sqlite", func(ctx context.Context, sql string) error {
		_, err := s.db.ExecContext(ctx, sql)
		return err
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteErr("commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) ListIntervals(ctx context.Context, kind model.IntervalKind, ownerIDs []string, start, end *time.Time) ([]model.Interval, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []model.Interval{}, nil
	}
	query := `SELECT ` + intervalColumns + ` FROM ` + tbl + ` WHERE owner_id IN (` + placeholders(len(ownerIDs)) + `)`
	args := make([]any, 0, len(ownerIDs)+2)
	for _, id := range ownerIDs {
		args = append(args, id)
	}
	if start != nil {
		query += ` AND end_time >= ?`
		args = append(args, formatSQLiteTime(*start))
	}
	if end != nil {
		query += ` AND start_time <= ?`
		args = append(args, formatSQLiteTime(*end))
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteErr("list "+tbl, err)
	}
	return collectSQLiteIntervals(rows, kind)
}

func (s *SQLiteStore) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	return sqliteFindOverlapping(ctx, s.db, ownerID, start, end, excludeID)
}

func (s *SQLiteStore) GetInterval(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error) {
	return sqliteGetInterval(ctx, s.db, kind, id)
}

func (s *SQLiteStore) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, mapSQLiteErr("lookup users", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLiteErr("scan user id", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr("lookup users", err)
	}
	return missingFrom(ids, found), nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (model.User, error) {
	var (
		u       model.User
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, timezone, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Timezone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.NotFound("user", id)
	}
	if err != nil {
		return model.User{}, mapSQLiteErr("get user", err)
	}
	if u.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return model.User{}, mapSQLiteErr("get user", err)
	}
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u = withUserDefaults(u)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, timezone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET display_name = excluded.display_name,
			email = excluded.email,
			timezone = excluded.timezone
	`, u.ID, u.DisplayName, u.Email, u.Timezone, formatSQLiteTime(u.CreatedAt))
	if err != nil {
		return model.User{}, mapSQLiteErr("create user", err)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapSQLiteErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFound("user", id)
	}
	return nil
}

func (s *SQLiteStore) PublishPending(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapSQLiteErr("begin outbox transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, owner_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return 0, mapSQLiteErr("fetch outbox", err)
	}
	var records []outbox.Record
	for rows.Next() {
		var (
			r       outbox.Record
			created string
		)
		if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.OwnerID, &r.EventType,
			&r.Payload, &r.Trace.Traceparent, &r.Trace.Tracestate, &created); err != nil {
			rows.Close()
			return 0, mapSQLiteErr("scan outbox", err)
		}
		r.CreatedAt, _ = parseSQLiteTime(created)
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, mapSQLiteErr("fetch outbox", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := send(ctx, records); err != nil {
		return 0, err
	}

	args := make([]any, 0, len(records)+1)
	args = append(args, formatSQLiteTime(time.Now()))
	for _, r := range records {
		args = append(args, r.ID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id IN (`+placeholders(len(records))+`)`, args...); err != nil {
		return 0, mapSQLiteErr("mark outbox published", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, mapSQLiteErr("commit outbox", err)
	}
	return len(records), nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	return sqliteFindOverlapping(ctx, t.tx, ownerID, start, end, excludeID)
}

// GetForUpdate needs no row lock: the transaction already holds the database write lock.
func (t *sqliteTx) GetForUpdate(ctx context.Context, kind model.IntervalKind, id string) (model.Interval, error) {
	return sqliteGetInterval(ctx, t.tx, kind, id)
}

func (t *sqliteTx) Insert(ctx context.Context, iv *model.Interval) error {
	tbl, err := table(iv.Kind)
	if err != nil {
		return err
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	stampCreated(iv)
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO `+tbl+` (id, owner_id, start_time, end_time, title, status, note, color, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, iv.ID, iv.OwnerID, formatSQLiteTime(iv.StartTime), formatSQLiteTime(iv.EndTime), iv.Title, iv.Status,
		iv.Note, iv.Color, formatSQLiteTime(iv.CreatedAt), formatSQLiteTime(iv.UpdatedAt))
	if err != nil {
		return mapSQLiteErr("insert into "+tbl, err)
	}
	iv.Version = 1
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, iv *model.Interval, expectedVersion int64) error {
	tbl, err := table(iv.Kind)
	if err != nil {
		return err
	}
	if iv.UpdatedAt.IsZero() {
		iv.UpdatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE `+tbl+`
		SET start_time = ?,
			end_time = ?,
			title = ?,
			status = ?,
			note = ?,
			color = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`, formatSQLiteTime(iv.StartTime), formatSQLiteTime(iv.EndTime), iv.Title, iv.Status, iv.Note, iv.Color,
		formatSQLiteTime(iv.UpdatedAt), iv.ID, expectedVersion)
	if err != nil {
		return mapSQLiteErr("update "+tbl, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sqliteVersionMiss(ctx, t.tx, tbl, iv.Kind, iv.ID, expectedVersion)
	}
	iv.Version = expectedVersion + 1
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, kind model.IntervalKind, id string, expectedVersion int64) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE id = ? AND version = ?`, id, expectedVersion)
	if err != nil {
		return mapSQLiteErr("delete from "+tbl, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sqliteVersionMiss(ctx, t.tx, tbl, kind, id, expectedVersion)
	}
	return nil
}

func (t *sqliteTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if evt.Trace == (otelx.TraceContext{}) {
		evt.Trace = otelx.CaptureTraceContext(ctx)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, owner_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.OwnerID, evt.EventType, evt.Payload,
		evt.Trace.Traceparent, evt.Trace.Tracestate, formatSQLiteTime(time.Now()))
	if err != nil {
		return mapSQLiteErr("append outbox event", err)
	}
	return nil
}

func sqliteFindOverlapping(ctx context.Context, q sqlQuerier, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+intervalColumns+`
		FROM time_blocks
		WHERE owner_id = ?
			AND start_time < ?
			AND end_time > ?
			AND id <> ?
		ORDER BY start_time ASC, id ASC
	`, ownerID, formatSQLiteTime(end), formatSQLiteTime(start), excludeID)
	if err != nil {
		return nil, mapSQLiteErr("find overlapping time blocks", err)
	}
	return collectSQLiteIntervals(rows, model.KindTimeBlock)
}

func sqliteGetInterval(ctx context.Context, q sqlQuerier, kind model.IntervalKind, id string) (model.Interval, error) {
	tbl, err := table(kind)
	if err != nil {
		return model.Interval{}, err
	}
	iv, err := scanSQLiteInterval(q.QueryRowContext(ctx, `SELECT `+intervalColumns+` FROM `+tbl+` WHERE id = ?`, id), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Interval{}, intervalNotFound(kind, id)
	}
	if err != nil {
		return model.Interval{}, mapSQLiteErr("get "+tbl, err)
	}
	return iv, nil
}

func sqliteVersionMiss(ctx context.Context, q sqlQuerier, tbl string, kind model.IntervalKind, id string, expected int64) error {
	var actual int64
	err := q.QueryRowContext(ctx, `SELECT version FROM `+tbl+` WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return intervalNotFound(kind, id)
	}
	if err != nil {
		return mapSQLiteErr("read version", err)
	}
	return model.ConcurrencyConflict(id, expected, actual)
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInterval(row sqlScanner, kind model.IntervalKind) (model.Interval, error) {
	iv := model.Interval{Kind: kind}
	var start, end, createdAt, updatedAt string
	if err := row.Scan(&iv.ID, &iv.OwnerID, &start, &end, &iv.Title, &iv.Status, &iv.Note, &iv.Color,
		&iv.Version, &createdAt, &updatedAt); err != nil {
		return model.Interval{}, err
	}
	var err error
	if iv.StartTime, err = parseSQLiteTime(start); err != nil {
		return model.Interval{}, err
	}
	if iv.EndTime, err = parseSQLiteTime(end); err != nil {
		return model.Interval{}, err
	}
	if iv.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return model.Interval{}, err
	}
	if iv.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return model.Interval{}, err
	}
	return iv, nil
}

func collectSQLiteIntervals(rows *sql.Rows, kind model.IntervalKind) ([]model.Interval, error) {
	defer rows.Close()
	out := []model.Interval{}
	for rows.Next() {
		iv, err := scanSQLiteInterval(rows, kind)
		if err != nil {
			return nil, mapSQLiteErr("scan interval", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr("read intervals", err)
	}
	return out, nil
}

func mapSQLiteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.KindOf(err) != model.KindUnknown {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		msg := se.Error()
		switch {
		case se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return &model.Error{Kind: model.KindNotFound, Message: "owner not found", Err: err}
		case se.Code() == sqlite3.SQLITE_CONSTRAINT_CHECK || strings.Contains(msg, "CHECK constraint failed"):
			return &model.Error{Kind: model.KindInvalidRange, Message: "start must be before end", Err: err}
		}
	}
	return model.Transient("sqlite: "+op, err)
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
