package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/engine"
	"github.com/itskum47/waitroom/queue_service/middleware"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
	"github.com/itskum47/waitroom/queue_service/token"
)

// API is the HTTP surface: the public queue endpoints and the keyed admin
// surface. It validates and shapes; all queue semantics live in the
// engine.
type API struct {
	engine *engine.Engine
	meta   store.MetaStore
	tokens *token.Registry
	health *resilience.Health
	hub    *StatsHub
	log    zerolog.Logger
}

func NewAPI(eng *engine.Engine, meta store.MetaStore, tokens *token.Registry, health *resilience.Health, hub *StatsHub, log zerolog.Logger) *API {
	return &API{
		engine: eng,
		meta:   meta,
		tokens: tokens,
		health: health,
		hub:    hub,
		log:    log,
	}
}

// Routes assembles the router: public queue endpoints under per-IP join
// and status budgets, the admin surface behind the API key with its own
// read/write budgets, and a loose global cap over everything.
func (a *API) Routes(adminKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS)
	r.Use(middleware.RateLimit("global", middleware.NewPerKeyLimiter(middleware.PerWindow(600, 15*time.Minute), 100)))

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	joinLimiter := middleware.NewPerKeyLimiter(middleware.PerMinute(20), 20)
	statusLimiter := middleware.NewPerKeyLimiter(middleware.PerMinute(180), 60)
	r.Route("/queue", func(r chi.Router) {
		r.With(middleware.RateLimit("join", joinLimiter)).Post("/join", a.handleJoin)
		r.With(middleware.RateLimit("status", statusLimiter)).Get("/status", a.handleStatus)
	})

	adminRead := middleware.RateLimit("admin_read", middleware.NewPerKeyLimiter(middleware.PerMinute(240), 60))
	adminWrite := middleware.RateLimit("admin_write", middleware.NewPerKeyLimiter(middleware.PerWindow(50, 15*time.Minute), 10))
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(adminKey))

		r.Route("/event", func(r chi.Router) {
			r.With(adminRead).Get("/users", a.handleEventUsers)
			r.With(adminRead).Get("/entries", a.handleEventEntries)
			r.With(adminWrite).Post("/start", a.handleEventStart)
			r.With(adminWrite).Post("/stop", a.handleEventStop)
			r.With(adminWrite).Post("/enqueue", a.handleEnqueue)
			r.With(adminWrite).Post("/enqueue-batch", a.handleEnqueueBatch)
			r.With(adminWrite).Post("/{id}/advance", a.handleAdvanceNow)
		})

		r.Route("/domains", func(r chi.Router) {
			r.With(adminRead).Get("/", a.handleListDomains)
			r.With(adminWrite).Post("/", a.handleCreateDomain)
			r.With(adminWrite).Delete("/{id}", a.handleDeleteDomain)
		})

		r.Route("/events", func(r chi.Router) {
			r.With(adminRead).Get("/", a.handleListEvents)
			r.With(adminWrite).Post("/", a.handleCreateEvent)
			r.With(adminRead).Get("/{id}", a.handleGetEvent)
			r.With(adminWrite).Put("/{id}", a.handleUpdateEvent)
			r.With(adminWrite).Delete("/{id}", a.handleDeleteEvent)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.With(adminRead).Get("/", a.handleListTokens)
			r.With(adminWrite).Post("/", a.handleCreateToken)
			r.With(adminWrite).Post("/{id}/revoke", a.handleRevokeToken)
			r.With(adminWrite).Delete("/{id}", a.handleDeleteToken)
		})

		r.Get("/stream", a.handleStream)
	})

	return r
}

// --- Public Queue Endpoints ---

type joinRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
	Domain  string `json:"domain,omitempty"`
	Token   string `json:"token"`
}

// joinResponse is the stable wire shape for every admission outcome; all
// fields are always present.
type joinResponse struct {
	Success              bool   `json:"success"`
	State                string `json:"state"`
	Position             int64  `json:"position"`
	Total                int64  `json:"total"`
	TimeRemaining        int64  `json:"timeRemaining"`
	ActiveUsers          int64  `json:"activeUsers"`
	WaitingUsers         int64  `json:"waitingUsers"`
	ShowWaitingTimer     bool   `json:"showWaitingTimer"`
	WaitingTimerDuration int64  `json:"waitingTimerDuration"`
}

type statusResponse struct {
	State                string `json:"state"`
	Position             int64  `json:"position"`
	Total                int64  `json:"total"`
	TimeRemaining        int64  `json:"timeRemaining"`
	ActiveUsers          int64  `json:"activeUsers"`
	WaitingUsers         int64  `json:"waitingUsers"`
	ShowWaitingTimer     bool   `json:"showWaitingTimer"`
	WaitingTimerDuration int64  `json:"waitingTimerDuration"`
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.EventID == "" || req.UserID == "" {
		a.writeError(w, fmt.Errorf("eventId and userId are required: %w", resilience.ErrValidation))
		return
	}

	if _, err := a.tokens.Validate(r.Context(), req.Token); err != nil {
		a.writeError(w, err)
		return
	}

	ev, err := a.meta.GetEvent(r.Context(), req.EventID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if req.Domain != "" {
		if _, err := a.meta.GetDomainByName(r.Context(), req.Domain); err != nil {
			if errors.Is(err, resilience.ErrNotFound) {
				a.writeError(w, fmt.Errorf("unknown domain %q: %w", req.Domain, resilience.ErrValidation))
				return
			}
			a.writeError(w, err)
			return
		}
		if ev.Domain != req.Domain {
			a.writeError(w, fmt.Errorf("domain %q does not match event: %w", req.Domain, resilience.ErrValidation))
			return
		}
	}

	res, err := a.engine.Join(r.Context(), ev, req.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, joinResponse{
		Success:              true,
		State:                string(res.State),
		Position:             res.Position,
		Total:                res.Total,
		TimeRemaining:        res.TimeRemaining,
		ActiveUsers:          res.ActiveUsers,
		WaitingUsers:         res.WaitingUsers,
		ShowWaitingTimer:     res.ShowWaitingTimer,
		WaitingTimerDuration: res.WaitingTimerDuration,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	userID := r.URL.Query().Get("userId")
	if eventID == "" || userID == "" {
		a.writeError(w, fmt.Errorf("eventId and userId are required: %w", resilience.ErrValidation))
		return
	}

	ev, err := a.meta.GetEvent(r.Context(), eventID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.engine.Probe(r.Context(), ev, userID)
	if err != nil {
		if errors.Is(err, resilience.ErrQueueStoreUnavailable) {
			// Degraded read: answer with a zeroed status rather than turn
			// a probe into an outage.
			a.log.Warn().Err(err).Str("event_id", eventID).Msg("status degraded, queue store unreachable")
			a.writeJSON(w, http.StatusOK, statusResponse{State: string(engine.StateWaiting)})
			return
		}
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, statusResponse{
		State:                string(res.State),
		Position:             res.Position,
		Total:                res.Total,
		TimeRemaining:        res.TimeRemaining,
		ActiveUsers:          res.ActiveUsers,
		WaitingUsers:         res.WaitingUsers,
		ShowWaitingTimer:     res.ShowWaitingTimer,
		WaitingTimerDuration: res.WaitingTimerDuration,
	})
}

// --- Health ---

type healthResponse struct {
	Status        string `json:"status"`
	QueueStore    bool   `json:"queueStore"`
	MetadataStore bool   `json:"metadataStore"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	res := healthResponse{
		Status:        "ok",
		QueueStore:    a.health.QueueStoreUp(),
		MetadataStore: a.health.MetaStoreUp(),
	}
	if a.health.Degraded() {
		res.Status = "degraded"
	}
	a.writeJSON(w, http.StatusOK, res)
}

// --- Response Helpers ---

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps an error to its status code. Client errors keep their
// message; infrastructure detail stays in the logs.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := resilience.HTTPStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		a.log.Error().Err(err).Msg("internal error")
		msg = "internal server error"
	case http.StatusServiceUnavailable:
		a.log.Warn().Err(err).Msg("dependency unavailable")
		msg = "service temporarily unavailable"
	}
	a.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
