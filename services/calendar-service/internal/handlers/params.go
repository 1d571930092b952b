package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/planner/libs/httpx"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/paging"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/window"
)

const dateLayout = "2006-01-02"

// ownerIDs reads user_ids (comma separated, repeatable) and user_id, falling back to the caller.
func ownerIDs(r *http.Request) []string {
	q := r.URL.Query()
	var ids []string
	for _, raw := range append(q["user_ids"], q["user_id"]...) {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		if caller := httpx.CallerID(r); caller != "" {
			ids = []string{caller}
		}
	}
	return ids
}

// resolveOwner picks the owner of a write: the caller, or the body's owner_id when the request
// carries no caller. A body naming someone other than the caller is refused.
func resolveOwner(r *http.Request, bodyOwner string) (string, int, error) {
	caller := httpx.CallerID(r)
	bodyOwner = strings.TrimSpace(bodyOwner)
	switch {
	case caller == "" && bodyOwner == "":
		return "", http.StatusBadRequest, fmt.Errorf("owner_id or %s header required", httpx.UserIDHeader)
	case caller == "":
		return bodyOwner, 0, nil
	case bodyOwner != "" && bodyOwner != caller:
		return "", http.StatusForbidden, fmt.Errorf("cannot write intervals owned by another user")
	default:
		return caller, 0, nil
	}
}

func location(q url.Values) (*time.Location, error) {
	raw := strings.TrimSpace(q.Get("tz"))
	if raw == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tz %q", raw)
	}
	return loc, nil
}

// parseInstant accepts RFC 3339 or a bare date. A bare date is midnight in loc, or the last
// instant of that day when endOfDay is set.
func parseInstant(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}

func optionalInstant(q url.Values, key string, loc *time.Location, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := parseInstant(raw, loc, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &t, nil
}

// calendarWindow computes the view window for view and date, defaulting the date to now.
func calendarWindow(q url.Values, loc *time.Location, now time.Time) (window.CalendarWindow, error) {
	view, err := window.ParseView(q.Get("view"))
	if err != nil {
		return window.CalendarWindow{}, err
	}
	ref := now.In(loc)
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		ref, err = parseInstant(raw, loc, false)
		if err != nil {
			return window.CalendarWindow{}, fmt.Errorf("invalid date")
		}
		ref = ref.In(loc)
	}
	return window.For(view, ref), nil
}

// calendarRange resolves the [start, end] filter of a calendar read. Explicit start/end win;
// otherwise view or date select a window; with neither the range is unbounded.
func calendarRange(q url.Values, loc *time.Location, now time.Time) (start, end *time.Time, w *window.CalendarWindow, err error) {
	start, err = optionalInstant(q, "start", loc, false)
	if err != nil {
		return nil, nil, nil, err
	}
	end, err = optionalInstant(q, "end", loc, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if start != nil || end != nil {
		return start, end, nil, nil
	}
	if q.Get("view") == "" && q.Get("date") == "" {
		return nil, nil, nil, nil
	}
	cw, err := calendarWindow(q, loc, now)
	if err != nil {
		return nil, nil, nil, err
	}
	from, until := window.Bounds(cw)
	until = until.Add(-time.Nanosecond)
	return &from, &until, &cw, nil
}

func pagingOptions(q url.Values) (paging.Options, error) {
	opts := paging.Options{
		Search: q.Get("search"),
		SortBy: strings.TrimSpace(q.Get("sort_by")),
	}
	var err error
	if opts.Page, err = optionalInt(q, "page"); err != nil {
		return opts, err
	}
	if opts.Limit, err = optionalInt(q, "limit"); err != nil {
		return opts, err
	}
	if !paging.ValidSortKey(opts.SortBy) {
		return opts, fmt.Errorf("invalid sort_by %q", opts.SortBy)
	}
	switch order := paging.SortOrder(strings.ToLower(strings.TrimSpace(q.Get("sort_order")))); order {
	case "", paging.Asc, paging.Desc:
		opts.SortOrder = order
	default:
		return opts, fmt.Errorf("invalid sort_order %q", order)
	}
	return opts, nil
}

func optionalInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func minutes(q url.Values, key string, max int) (time.Duration, error) {
	n, err := optionalInt(q, key)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("%s must be between 1 and %d", key, max)
	}
	return time.Duration(n) * time.Minute, nil
}

// clockTime parses "15:04" into an offset from midnight. "24:00" is the end of the day.
func clockTime(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
