package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgen/internal/infra"
	"vidgen/internal/middleware"
	"vidgen/internal/queue"
)

// App carries the dependencies of the submission API handlers.
type App struct {
	SQL    infra.SQLExecutor
	Jobs   queue.Sink
	Logger zerolog.Logger

	// TokenCostPerSecond prices a STANDARD second; tiers scale it.
	TokenCostPerSecond int

	Now   func() time.Time
	NewID func() string
}

func NewApp(sql infra.SQLExecutor, jobs queue.Sink, logger zerolog.Logger) *App {
	return &App{
		SQL:                sql,
		Jobs:               jobs,
		Logger:             logger,
		TokenCostPerSecond: 1,
		Now:                time.Now,
		NewID:              uuid.NewString,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	writeJSON(w, code, v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorResponse{Error: kind, Message: msg})
}

// currentUserID is the authenticated requester, empty when the API runs
// without token verification.
func (a *App) currentUserID(r *http.Request) string {
	return strings.TrimSpace(middleware.UserIDFromContext(r.Context()))
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
