package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

type errorResponse struct {
	Error      string           `json:"error"`
	Kind       string           `json:"kind,omitempty"`
	Conflicts  []model.Interval `json:"conflicts,omitempty"`
	MissingIDs []string         `json:"missing_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidRange:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindSchedulingConflict:
		return http.StatusConflict
	case model.KindConcurrencyConflict:
		return http.StatusPreconditionFailed
	case model.KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)

	var e *model.Error
	if !errors.As(err, &e) {
		logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	if kind != model.KindTransientStore {
		logger.Info("request rejected", "path", r.URL.Path, "kind", kind.String(), "err", err)
	}
	// The wrapped cause may carry driver text; only the message is shown to clients.
	msg := e.Message
	if msg == "" {
		msg = kind.String()
	}
	resp := errorResponse{Error: msg, Kind: kind.String(), Conflicts: e.Conflicts, MissingIDs: e.MissingIDs}
	if kind == model.KindTransientStore {
		resp.Error = "calendar store unavailable, try again"
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
