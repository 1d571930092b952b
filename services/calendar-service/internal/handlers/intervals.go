package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/scheduling"
)

// IntervalHandler serves writes for one interval kind. Time blocks are checked for conflicts;
// availability windows are not.
type IntervalHandler struct {
	svc    *scheduling.Service
	kind   model.IntervalKind
	logger *slog.Logger
}

func NewTimeBlockHandler(svc *scheduling.Service, logger *slog.Logger) *IntervalHandler {
	return &IntervalHandler{svc: svc, kind: model.KindTimeBlock, logger: logger}
}

func NewAvailabilityHandler(svc *scheduling.Service, logger *slog.Logger) *IntervalHandler {
	return &IntervalHandler{svc: svc, kind: model.KindAvailability, logger: logger}
}

type createIntervalRequest struct {
	OwnerID   string `json:"owner_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Note      string `json:"note"`
	Color     string `json:"color"`
}

type updateIntervalRequest struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Title     *string `json:"title"`
	Status    *string `json:"status"`
	Note      *string `json:"note"`
	Color     *string `json:"color"`
	Version   int64   `json:"version"`
}

type deleteIntervalRequest struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Version int64  `json:"version"`
}

type deleteIntervalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type createSeriesRequest struct {
	OwnerID         string   `json:"owner_id"`
	RRule           string   `json:"rrule"`
	StartTime       string   `json:"start_time"`
	DurationMinutes int      `json:"duration_minutes"`
	Until           string   `json:"until"`
	ExDates         []string `json:"exdates"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Note            string   `json:"note"`
	Color           string   `json:"color"`
}

type seriesResponse struct {
	TimeBlocks []model.Interval `json:"time_blocks"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *IntervalHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	owner, status, err := resolveOwner(r, req.OwnerID)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime))
	if err != nil {
		badRequest(w, "invalid end_time")
		return
	}
	meta := model.Metadata{
		Title:  strings.TrimSpace(req.Title),
		Status: strings.TrimSpace(req.Status),
		Note:   req.Note,
		Color:  strings.TrimSpace(req.Color),
	}

	create := h.svc.CreateTimeBlock
	if h.kind == model.KindAvailability {
		create = h.svc.CreateAvailability
	}
	iv, err := create(r.Context(), owner, start, end, meta)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, iv)
}

func (h *IntervalHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		badRequest(w, "id required")
		return
	}
	owner, status, err := resolveOwner(r, req.OwnerID)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	patch := model.Patch{Title: req.Title, Status: req.Status, Note: req.Note, Color: req.Color, Version: req.Version}
	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.StartTime))
		if err != nil {
			badRequest(w, "invalid start_time")
			return
		}
		patch.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.EndTime))
		if err != nil {
			badRequest(w, "invalid end_time")
			return
		}
		patch.EndTime = &t
	}

	update := h.svc.UpdateTimeBlock
	if h.kind == model.KindAvailability {
		update = h.svc.UpdateAvailability
	}
	iv, err := update(r.Context(), req.ID, owner, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (h *IntervalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deleteIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		badRequest(w, "id required")
		return
	}
	owner, status, err := resolveOwner(r, req.OwnerID)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	del := h.svc.DeleteTimeBlock
	if h.kind == model.KindAvailability {
		del = h.svc.DeleteAvailability
	}
	if err := del(r.Context(), req.ID, owner, req.Version); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteIntervalResponse{ID: req.ID, Status: "deleted"})
}

// Series creates every occurrence of a recurring time block, or none when any of them
// conflicts.
func (h *IntervalHandler) Series(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	owner, status, err := resolveOwner(r, req.OwnerID)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.RRule) == "" {
		badRequest(w, "rrule required")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > 24*60 {
		badRequest(w, "duration_minutes must be between 1 and 1440")
		return
	}
	series := scheduling.SeriesRequest{
		RRule:    req.RRule,
		Start:    start,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Meta: model.Metadata{
			Title:  strings.TrimSpace(req.Title),
			Status: strings.TrimSpace(req.Status),
			Note:   req.Note,
			Color:  strings.TrimSpace(req.Color),
		},
	}
	if strings.TrimSpace(req.Until) != "" {
		if series.Until, err = parseInstant(req.Until, start.Location(), true); err != nil {
			badRequest(w, "invalid until")
			return
		}
	}
	for _, raw := range req.ExDates {
		ex, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			badRequest(w, "invalid exdates entry "+raw)
			return
		}
		series.ExDates = append(series.ExDates, ex)
	}

	created, err := h.svc.CreateTimeBlockSeries(r.Context(), owner, series)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, seriesResponse{TimeBlocks: created})
}

// FreeSlots lists the open slots of one user's working day.
func (h *IntervalHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	owners := ownerIDs(r)
	if len(owners) != 1 {
		badRequest(w, "exactly one user_id required")
		return
	}
	day, err := time.Parse(dateLayout, strings.TrimSpace(q.Get("date")))
	if err != nil {
		badRequest(w, "date required as YYYY-MM-DD")
		return
	}

	req := scheduling.FreeSlotsRequest{Day: day, Duration: 30 * time.Minute}
	if d, err := minutes(q, "duration_minutes", 8*60); err != nil {
		badRequest(w, err.Error())
		return
	} else if d > 0 {
		req.Duration = d
	}
	if req.Step, err = minutes(q, "slot_step_minutes", 120); err != nil {
		badRequest(w, err.Error())
		return
	}
	workStart := strings.TrimSpace(q.Get("workday_start"))
	if workStart == "" {
		workStart = "09:00"
	}
	workEnd := strings.TrimSpace(q.Get("workday_end"))
	if workEnd == "" {
		workEnd = "17:00"
	}
	if req.WorkdayStart, err = clockTime(workStart); err != nil {
		badRequest(w, "invalid workday_start")
		return
	}
	if req.WorkdayEnd, err = clockTime(workEnd); err != nil {
		badRequest(w, "invalid workday_end")
		return
	}

	starts, err := h.svc.FreeSlots(r.Context(), owners[0], req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		resp = append(resp, slotItem{
			StartTime: s.Format(time.RFC3339),
			EndTime:   s.Add(req.Duration).Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
