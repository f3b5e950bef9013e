package handlers

import (
	"context"
	"net/http"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/intake"
)

// Ops serves the worker's operational endpoints.
type Ops struct {
	Stats func() intake.Stats
	// Depth reports backlog counters of the queue backend, when it has any.
	Depth func(ctx context.Context) (map[string]int64, error)
	// Recent returns the latest published events, oldest first.
	Recent  func() []domain.Event
	Backend string
	Started time.Time
}

func (o *Ops) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o *Ops) WorkerStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"queue_backend": o.Backend,
	}
	if !o.Started.IsZero() {
		out["uptime_seconds"] = int64(time.Since(o.Started).Seconds())
	}
	if o.Stats != nil {
		out["intake"] = o.Stats()
	}
	if o.Depth != nil {
		depth, err := o.Depth(r.Context())
		if err != nil {
			out["queue_error"] = err.Error()
		} else {
			out["queue"] = depth
		}
	}
	if o.Recent != nil {
		recent := o.Recent()
		if recent == nil {
			recent = []domain.Event{}
		}
		out["recent_events"] = recent
	}
	writeJSON(w, http.StatusOK, out)
}
