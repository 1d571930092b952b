package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/clock"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/lazyload"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/teamcal"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/window"
)

type CalendarHandler struct {
	agg    *teamcal.Aggregator
	clock  clock.Clock
	logger *slog.Logger
}

func NewCalendarHandler(agg *teamcal.Aggregator, clk clock.Clock, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{agg: agg, clock: clk, logger: logger}
}

type windowResponse struct {
	window.CalendarWindow
	Previous string `json:"previous"`
	Next     string `json:"next"`
	// Weeks is the month grid, set for month views only.
	Weeks [][]string `json:"weeks,omitempty"`
}

type calendarResponse struct {
	teamcal.Calendar
	Window *window.CalendarWindow `json:"window,omitempty"`
}

type viewportResponse struct {
	View      window.View      `json:"view"`
	Zoom      float64          `json:"zoom"`
	Primary   []model.Interval `json:"primary"`
	Secondary []model.Interval `json:"secondary"`
}

type streamBatch struct {
	Batch     int              `json:"batch"`
	Items     []model.Interval `json:"items"`
	Remaining int              `json:"remaining"`
}

// Window reports the date range a view displays around date.
func (h *CalendarHandler) Window(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	loc, err := location(q)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	cw, err := calendarWindow(q, loc, h.clock.Now())
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	resp := windowResponse{
		CalendarWindow: cw,
		Previous:       window.Shift(cw.View, cw.ReferenceDate, -1).Format(dateLayout),
		Next:           window.Shift(cw.View, cw.ReferenceDate, 1).Format(dateLayout),
	}
	if cw.View == window.Month {
		for _, week := range window.WeeksInMonth(cw.ReferenceDate.Year(), cw.ReferenceDate.Month(), loc) {
			row := make([]string, len(week))
			for i, d := range week {
				row[i] = d.Format(dateLayout)
			}
			resp.Weeks = append(resp.Weeks, row)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Calendar returns one page of time blocks and every availability window for the requested
// users.
func (h *CalendarHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query, cw, ok := h.query(w, r)
	if !ok {
		return
	}
	cal, err := h.agg.GetCalendar(r.Context(), query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{Calendar: cal, Window: cw})
}

// Viewport splits the matching time blocks into those visible in the viewport and the rest,
// collapsing zoomed-out month views into day summaries.
func (h *CalendarHandler) Viewport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query, cw, ok := h.query(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	loc, _ := location(q)
	vpStart, vpEnd, ok := viewport(w, q.Get("viewport_start"), q.Get("viewport_end"), loc)
	if !ok {
		return
	}
	zoom := 1.0
	if raw := strings.TrimSpace(q.Get("zoom")); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil || z < 0 {
			badRequest(w, "invalid zoom")
			return
		}
		zoom = z
	}
	view := window.Week
	if cw != nil {
		view = cw.View
	} else if raw := q.Get("view"); raw != "" {
		v, err := window.ParseView(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		view = v
	}

	blocks, err := h.agg.TimeBlocks(r.Context(), query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	primary, secondary := lazyload.SplitByViewport(inLocation(blocks, loc), vpStart, vpEnd)
	writeJSON(w, http.StatusOK, viewportResponse{
		View:      view,
		Zoom:      zoom,
		Primary:   lazyload.WithLevelOfDetail(primary, view, zoom),
		Secondary: lazyload.WithLevelOfDetail(secondary, view, zoom),
	})
}

// Stream writes the matching time blocks as newline-delimited JSON batches, viewport first,
// flushing after every batch.
func (h *CalendarHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query, _, ok := h.query(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	loc, _ := location(q)
	vpStart, vpEnd, ok := viewport(w, q.Get("viewport_start"), q.Get("viewport_end"), loc)
	if !ok {
		return
	}
	size, err := optionalInt(q, "batch_size")
	if err != nil || size < 0 {
		badRequest(w, "invalid batch_size")
		return
	}

	blocks, err := h.agg.TimeBlocks(r.Context(), query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	batches := lazyload.LoadIncrementally(blocks, vpStart, vpEnd, size)
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	n := 0
	for batch := range batches.All() {
		if r.Context().Err() != nil {
			return
		}
		n++
		if err := enc.Encode(streamBatch{Batch: n, Items: batch, Remaining: batches.Remaining()}); err != nil {
			h.logger.Warn("calendar stream aborted", "batch", n, "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// query parses the owner, range and paging parameters shared by the calendar reads. It writes
// the 400 itself and reports false when the request is malformed.
func (h *CalendarHandler) query(w http.ResponseWriter, r *http.Request) (teamcal.Query, *window.CalendarWindow, bool) {
	q := r.URL.Query()
	owners := ownerIDs(r)
	if len(owners) == 0 {
		badRequest(w, "user_ids required")
		return teamcal.Query{}, nil, false
	}
	loc, err := location(q)
	if err != nil {
		badRequest(w, err.Error())
		return teamcal.Query{}, nil, false
	}
	start, end, cw, err := calendarRange(q, loc, h.clock.Now())
	if err != nil {
		badRequest(w, err.Error())
		return teamcal.Query{}, nil, false
	}
	opts, err := pagingOptions(q)
	if err != nil {
		badRequest(w, err.Error())
		return teamcal.Query{}, nil, false
	}
	return teamcal.Query{OwnerIDs: owners, Start: start, End: end, Paging: opts}, cw, true
}

func viewport(w http.ResponseWriter, rawStart, rawEnd string, loc *time.Location) (time.Time, time.Time, bool) {
	if strings.TrimSpace(rawStart) == "" || strings.TrimSpace(rawEnd) == "" {
		badRequest(w, "viewport_start and viewport_end required")
		return time.Time{}, time.Time{}, false
	}
	start, err := parseInstant(rawStart, loc, false)
	if err != nil {
		badRequest(w, "invalid viewport_start")
		return time.Time{}, time.Time{}, false
	}
	end, err := parseInstant(rawEnd, loc, true)
	if err != nil {
		badRequest(w, "invalid viewport_end")
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		badRequest(w, "viewport_end must be after viewport_start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// inLocation renders stored UTC times in loc so day summaries follow the viewer's calendar.
func inLocation(items []model.Interval, loc *time.Location) []model.Interval {
	out := make([]model.Interval, len(items))
	for i, iv := range items {
		iv.StartTime = iv.StartTime.In(loc)
		iv.EndTime = iv.EndTime.In(loc)
		out[i] = iv
	}
	return out
}
