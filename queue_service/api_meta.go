package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

// Metadata CRUD: domains, events and tokens. Queue state is untouched
// here except for the purge on event deletion.

// --- Domains ---

type createDomainRequest struct {
	Name string `json:"name"`
}

func (a *API) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.Name == "" {
		a.writeError(w, fmt.Errorf("name is required: %w", resilience.ErrValidation))
		return
	}

	d := &store.Domain{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.meta.CreateDomain(r.Context(), d); err != nil {
		a.writeError(w, err)
		return
	}
	a.log.Info().Str("domain", d.Name).Str("id", d.ID).Msg("domain created")
	a.writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := a.meta.ListDomains(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if domains == nil {
		domains = []*store.Domain{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

func (a *API) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	domains, err := a.meta.ListDomains(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	var name string
	for _, d := range domains {
		if d.ID == id {
			name = d.Name
			break
		}
	}
	if name == "" {
		a.writeError(w, fmt.Errorf("domain %s: %w", id, resilience.ErrNotFound))
		return
	}

	// Refuse to orphan events still pointing at this domain.
	events, err := a.meta.ListEvents(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	for _, ev := range events {
		if ev.Domain == name {
			a.writeError(w, fmt.Errorf("domain still has events: %w", resilience.ErrConflict))
			return
		}
	}

	if err := a.meta.DeleteDomain(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// --- Events ---

type createEventRequest struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	QueueLimit  int    `json:"queueLimit"`
	IntervalSec int    `json:"intervalSec"`
}

type updateEventRequest struct {
	Name        *string `json:"name,omitempty"`
	QueueLimit  *int    `json:"queueLimit,omitempty"`
	IntervalSec *int    `json:"intervalSec,omitempty"`
}

func validQueueLimit(n int) bool {
	return n >= 1 && n <= 1000
}

func validIntervalSec(n int) bool {
	return n >= 1 && n <= 3600
}

func (a *API) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.Name == "" || req.Domain == "" {
		a.writeError(w, fmt.Errorf("name and domain are required: %w", resilience.ErrValidation))
		return
	}
	if !validQueueLimit(req.QueueLimit) {
		a.writeError(w, fmt.Errorf("queueLimit must be 1..1000: %w", resilience.ErrValidation))
		return
	}
	if !validIntervalSec(req.IntervalSec) {
		a.writeError(w, fmt.Errorf("intervalSec must be 1..3600: %w", resilience.ErrValidation))
		return
	}
	if _, err := a.meta.GetDomainByName(r.Context(), req.Domain); err != nil {
		if errors.Is(err, resilience.ErrNotFound) {
			a.writeError(w, fmt.Errorf("unknown domain %q: %w", req.Domain, resilience.ErrValidation))
			return
		}
		a.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	ev := &store.Event{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Domain:      req.Domain,
		QueueLimit:  req.QueueLimit,
		IntervalSec: req.IntervalSec,
		IsActive:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.meta.CreateEvent(r.Context(), ev); err != nil {
		a.writeError(w, err)
		return
	}
	a.log.Info().Str("event_id", ev.ID).Str("name", ev.Name).Str("domain", ev.Domain).
		Int("queue_limit", ev.QueueLimit).Int("interval_sec", ev.IntervalSec).Msg("event created")
	a.writeJSON(w, http.StatusCreated, ev)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.meta.ListEvents(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := a.meta.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ev)
}

// handleUpdateEvent rewrites the mutable event fields. The active flag is
// deliberately not among them; start/stop own it.
func (a *API) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := a.meta.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			a.writeError(w, fmt.Errorf("name must not be empty: %w", resilience.ErrValidation))
			return
		}
		ev.Name = *req.Name
	}
	if req.QueueLimit != nil {
		if !validQueueLimit(*req.QueueLimit) {
			a.writeError(w, fmt.Errorf("queueLimit must be 1..1000: %w", resilience.ErrValidation))
			return
		}
		ev.QueueLimit = *req.QueueLimit
	}
	if req.IntervalSec != nil {
		if !validIntervalSec(*req.IntervalSec) {
			a.writeError(w, fmt.Errorf("intervalSec must be 1..3600: %w", resilience.ErrValidation))
			return
		}
		ev.IntervalSec = *req.IntervalSec
	}

	if err := a.meta.UpdateEvent(r.Context(), ev); err != nil {
		a.writeError(w, err)
		return
	}
	ev, err = a.meta.GetEvent(r.Context(), ev.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.meta.DeleteEvent(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	// Drop the ephemeral queue state too; a dangling queue for a deleted
	// event is just confusing. Best-effort: the keys also die on EQS wipe.
	if err := a.engine.Purge(r.Context(), id); err != nil {
		a.log.Warn().Err(err).Str("event_id", id).Msg("failed to purge queue state for deleted event")
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// --- Tokens ---

type createTokenRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expiresInDays,omitempty"`
	NeverExpires  bool   `json:"neverExpires,omitempty"`
}

// createTokenResponse is the only place a token secret ever appears.
type createTokenResponse struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}

	t, err := a.tokens.Generate(r.Context(), req.Name, req.ExpiresInDays, req.NeverExpires)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, createTokenResponse{
		ID:        t.ID,
		Token:     t.Secret,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	})
}

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	views, err := a.tokens.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": views})
}

func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := a.tokens.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (a *API) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := a.tokens.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
