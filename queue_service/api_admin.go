package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/waitroom/queue_service/engine"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

// Admin queue operations: the engine surface an operator drives during an
// event. All of these sit behind AdminAuth.

const (
	maxEntryLimit   = 200
	maxBatchEnqueue = 1000
)

type eventRequest struct {
	EventID string `json:"eventId"`
}

type enqueueRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
}

type enqueueBatchRequest struct {
	EventID string `json:"eventId"`
	Count   int    `json:"count"`
}

func (a *API) handleEventUsers(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" {
		a.writeError(w, fmt.Errorf("eventId is required: %w", resilience.ErrValidation))
		return
	}
	if _, err := a.meta.GetEvent(r.Context(), eventID); err != nil {
		a.writeError(w, err)
		return
	}

	roster, err := a.engine.Roster(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, resilience.ErrQueueStoreUnavailable) {
			a.log.Warn().Err(err).Str("event_id", eventID).Msg("roster degraded, queue store unreachable")
			a.writeJSON(w, http.StatusOK, &engine.Roster{Active: []string{}, Waiting: []string{}})
			return
		}
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, roster)
}

func (a *API) handleEventEntries(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" {
		a.writeError(w, fmt.Errorf("eventId is required: %w", resilience.ErrValidation))
		return
	}
	limit := maxEntryLimit
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		fmt.Sscanf(limStr, "%d", &limit)
	}
	if limit <= 0 || limit > maxEntryLimit {
		limit = maxEntryLimit
	}

	entries, err := a.meta.ListEntries(r.Context(), eventID, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (a *API) handleEventStart(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decodeEventRef(w, r)
	if !ok {
		return
	}
	if err := a.engine.Start(r.Context(), ev); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "event": ev})
}

func (a *API) handleEventStop(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decodeEventRef(w, r)
	if !ok {
		return
	}
	if err := a.engine.Stop(r.Context(), ev); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "event": ev})
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.EventID == "" || req.UserID == "" {
		a.writeError(w, fmt.Errorf("eventId and userId are required: %w", resilience.ErrValidation))
		return
	}
	if _, err := a.meta.GetEvent(r.Context(), req.EventID); err != nil {
		a.writeError(w, err)
		return
	}

	st, err := a.engine.Enqueue(r.Context(), req.EventID, req.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"state":    st.State,
		"position": st.Position,
		"total":    st.Total,
	})
}

func (a *API) handleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req enqueueBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return
	}
	if req.EventID == "" {
		a.writeError(w, fmt.Errorf("eventId is required: %w", resilience.ErrValidation))
		return
	}
	if req.Count < 1 || req.Count > maxBatchEnqueue {
		a.writeError(w, fmt.Errorf("count must be 1..%d: %w", maxBatchEnqueue, resilience.ErrValidation))
		return
	}
	ev, err := a.meta.GetEvent(r.Context(), req.EventID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	users, err := a.engine.EnqueueBatch(r.Context(), ev, req.Count)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"enqueued": len(users),
		"users":    users,
	})
}

func (a *API) handleAdvanceNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := a.meta.GetEvent(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}

	moved, roster, err := a.engine.AdvanceNow(r.Context(), ev)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if moved == nil {
		moved = []string{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"moved":   moved,
		"active":  roster.Active,
		"waiting": roster.Waiting,
	})
}

// decodeEventRef reads {eventId} from the body and resolves the event,
// writing the error response itself when either step fails.
func (a *API) decodeEventRef(w http.ResponseWriter, r *http.Request) (*store.Event, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("invalid request body: %w", resilience.ErrValidation))
		return nil, false
	}
	if req.EventID == "" {
		a.writeError(w, fmt.Errorf("eventId is required: %w", resilience.ErrValidation))
		return nil, false
	}
	ev, err := a.meta.GetEvent(r.Context(), req.EventID)
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	return ev, true
}
