package handlers

import (
	"net/http"
	"time"

	"github.com/md-rashed-zaman/planner/libs/httpx"
)

type Routes struct {
	Calendar     *CalendarHandler
	TimeBlocks   *IntervalHandler
	Availability *IntervalHandler
	// Timeout bounds every route except the stream. Zero disables it.
	Timeout time.Duration
}

// Register mounts the calendar API on mux.
func Register(mux *http.ServeMux, rt Routes) {
	bounded := func(h http.HandlerFunc) http.Handler {
		if rt.Timeout <= 0 {
			return h
		}
		return httpx.Chain(h, httpx.WithTimeout(rt.Timeout))
	}

	mux.Handle("/api/v1/calendar", bounded(rt.Calendar.Calendar))
	mux.Handle("/api/v1/calendar/window", bounded(rt.Calendar.Window))
	mux.Handle("/api/v1/calendar/viewport", bounded(rt.Calendar.Viewport))
	mux.HandleFunc("/api/v1/calendar/stream", rt.Calendar.Stream)

	mux.Handle("/api/v1/time-blocks", bounded(rt.TimeBlocks.Create))
	mux.Handle("/api/v1/time-blocks/update", bounded(rt.TimeBlocks.Update))
	mux.Handle("/api/v1/time-blocks/delete", bounded(rt.TimeBlocks.Delete))
	mux.Handle("/api/v1/time-blocks/series", bounded(rt.TimeBlocks.Series))
	mux.Handle("/api/v1/free-slots", bounded(rt.TimeBlocks.FreeSlots))

	mux.Handle("/api/v1/availability", bounded(rt.Availability.Create))
	mux.Handle("/api/v1/availability/update", bounded(rt.Availability.Update))
	mux.Handle("/api/v1/availability/delete", bounded(rt.Availability.Delete))
}
