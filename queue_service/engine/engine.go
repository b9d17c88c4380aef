package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/observability"
	"github.com/itskum47/waitroom/queue_service/store"
)

// timerValue is the payload of the window marker key. Only its presence
// and TTL carry meaning.
const timerValue = "1"

// Engine runs the admission protocol: direct entry, idempotent enqueue,
// batch rotation and the status views. All queue state lives in the
// ephemeral store; the metadata store only receives the best-effort entry
// journal. The engine takes no per-event lock: every sub-operation is a
// single atomic store primitive and racing callers (user requests versus
// the scheduler) serialize on those.
type Engine struct {
	queue store.QueueStore
	meta  store.MetaStore
	log   zerolog.Logger
}

func New(queue store.QueueStore, meta store.MetaStore, log zerolog.Logger) *Engine {
	return &Engine{queue: queue, meta: meta, log: log}
}

// Join classifies one user against one event and applies the matching
// admission action: report already-active users as they are, admit new
// users directly when a slot or an idle queue allows it, enqueue everyone
// else. Waiting users get an opportunistic rotation so a promotion shows
// up on the same request that revealed it.
func (e *Engine) Join(ctx context.Context, ev *store.Event, userID string) (*JoinResult, error) {
	cfg := ConfigFor(ev)

	ttl, err := e.queue.TTL(ctx, store.TimerKey(ev.ID))
	if err != nil {
		return nil, err
	}
	activeList, err := e.queue.Range(ctx, store.ActiveKey(ev.ID), 0, -1)
	if err != nil {
		return nil, err
	}
	waitingList, err := e.queue.Range(ctx, store.WaitingKey(ev.ID), 0, -1)
	if err != nil {
		return nil, err
	}

	inActive := contains(activeList, userID)
	inWaiting := contains(waitingList, userID)

	switch {
	case inActive:
		observability.JoinsTotal.WithLabelValues("already_active").Inc()
		st, err := e.Status(ctx, ev.ID, userID)
		if err != nil {
			return nil, err
		}
		return &JoinResult{Status: *st}, nil

	case inWaiting:
		observability.JoinsTotal.WithLabelValues("already_waiting").Inc()
		if _, err := e.Advance(ctx, ev.ID, cfg); err != nil {
			return nil, err
		}
		return e.timedResult(ctx, ev.ID, userID, cfg)

	default:
		windowActive := ttl > 0
		hasSlot := int64(len(activeList)) < cfg.Limit
		canEnterDirectly := (!windowActive && len(waitingList) == 0) || hasSlot
		if canEnterDirectly {
			observability.JoinsTotal.WithLabelValues("direct").Inc()
			if err := e.Admit(ctx, ev, userID); err != nil {
				return nil, err
			}
			st, err := e.Status(ctx, ev.ID, userID)
			if err != nil {
				return nil, err
			}
			res := &JoinResult{Status: *st}
			if st.State == StateActive && hasSlot {
				// An open slot means "no wait, proceed now", even though a
				// window may have just opened for those behind. Idle-queue
				// entry over a stale batch reports the fresh window instead.
				res.TimeRemaining = 0
			}
			return res, nil
		}

		observability.JoinsTotal.WithLabelValues("enqueued").Inc()
		st, err := e.Enqueue(ctx, ev.ID, userID)
		if err != nil {
			return nil, err
		}
		return &JoinResult{
			Status:               *st,
			ShowWaitingTimer:     true,
			WaitingTimerDuration: int64(cfg.Interval / time.Second),
		}, nil
	}
}

// Probe is the status endpoint's view: one opportunistic rotation, then
// the user's standing with the waiting-timer hint.
func (e *Engine) Probe(ctx context.Context, ev *store.Event, userID string) (*JoinResult, error) {
	cfg := ConfigFor(ev)
	if _, err := e.Advance(ctx, ev.ID, cfg); err != nil {
		return nil, err
	}
	return e.timedResult(ctx, ev.ID, userID, cfg)
}

// timedResult reads the user's standing and attaches the waiting-timer
// hint shown to queued users while a full batch's window runs down.
func (e *Engine) timedResult(ctx context.Context, eventID, userID string, cfg Config) (*JoinResult, error) {
	st, err := e.Status(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	res := &JoinResult{Status: *st}
	if st.State == StateWaiting && st.TimeRemaining > 0 && st.ActiveUsers >= cfg.Limit {
		res.ShowWaitingTimer = true
		res.WaitingTimerDuration = int64(cfg.Interval / time.Second)
	}
	return res, nil
}

// Status reports one user's standing without mutating anything. An absent
// user is reported as waiting at position len(waiting)+1, the position a
// join right now would land on.
func (e *Engine) Status(ctx context.Context, eventID, userID string) (*Status, error) {
	activeList, err := e.queue.Range(ctx, store.ActiveKey(eventID), 0, -1)
	if err != nil {
		return nil, err
	}
	waitingList, err := e.queue.Range(ctx, store.WaitingKey(eventID), 0, -1)
	if err != nil {
		return nil, err
	}
	ttl, err := e.queue.TTL(ctx, store.TimerKey(eventID))
	if err != nil {
		return nil, err
	}

	st := &Status{
		ActiveUsers:   int64(len(activeList)),
		WaitingUsers:  int64(len(waitingList)),
		TimeRemaining: secondsLeft(ttl),
	}
	st.Total = st.ActiveUsers + st.WaitingUsers

	if contains(activeList, userID) {
		st.State = StateActive
		st.Position = 0
		return st, nil
	}

	st.State = StateWaiting
	st.Position = int64(len(waitingList)) + 1
	for i, u := range waitingList {
		if u == userID {
			st.Position = int64(i) + 1
			break
		}
	}
	return st, nil
}

// Enqueue appends the user to the waiting line unless already a member of
// either line. Idempotent: a repeat call leaves state untouched and
// reports the current standing.
func (e *Engine) Enqueue(ctx context.Context, eventID, userID string) (*Status, error) {
	added, err := e.queue.AddMember(ctx, store.UsersKey(eventID), userID)
	if err != nil {
		return nil, err
	}
	if added {
		if _, err := e.queue.PushBack(ctx, store.WaitingKey(eventID), userID); err != nil {
			return nil, err
		}
	}
	return e.Status(ctx, eventID, userID)
}

// Admit places the user straight into the active batch. Callers must have
// checked the entry-window policy first; the membership set still gates
// against a lost race with a concurrent join, in which case Admit leaves
// the other caller's outcome in place.
func (e *Engine) Admit(ctx context.Context, ev *store.Event, userID string) error {
	cfg := ConfigFor(ev)

	ttl, err := e.queue.TTL(ctx, store.TimerKey(ev.ID))
	if err != nil {
		return err
	}
	added, err := e.queue.AddMember(ctx, store.UsersKey(ev.ID), userID)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	if _, err := e.queue.PushBack(ctx, store.ActiveKey(ev.ID), userID); err != nil {
		return err
	}
	e.journal(ctx, ev.ID, userID)
	observability.AdmissionsTotal.WithLabelValues("direct").Inc()

	a, err := e.queue.Len(ctx, store.ActiveKey(ev.ID))
	if err != nil {
		return err
	}
	// Open a window when this admission filled the batch or none was
	// running.
	if a >= cfg.Limit || ttl <= 0 {
		if err := e.queue.SetWithTTL(ctx, store.TimerKey(ev.ID), timerValue, cfg.Interval); err != nil {
			return err
		}
	}
	return nil
}

// Advance performs one rotation step: turn over an expired full batch,
// then drain waiting users into whatever slots are free. Safe under
// concurrent callers; a redundant call mutates nothing, including the
// timer.
func (e *Engine) Advance(ctx context.Context, eventID string, cfg Config) ([]string, error) {
	activeKey := store.ActiveKey(eventID)
	waitingKey := store.WaitingKey(eventID)
	timerKey := store.TimerKey(eventID)

	ttl, err := e.queue.TTL(ctx, timerKey)
	if err != nil {
		return nil, err
	}
	a, err := e.queue.Len(ctx, activeKey)
	if err != nil {
		return nil, err
	}
	w, err := e.queue.Len(ctx, waitingKey)
	if err != nil {
		return nil, err
	}

	fresh := false
	if ttl <= 0 && a >= cfg.Limit {
		// Window expired on a full batch: evict it. Evicted users leave
		// the membership set so a later join starts them over.
		evicted, err := e.queue.Range(ctx, activeKey, 0, -1)
		if err != nil {
			return nil, err
		}
		if err := e.queue.Delete(ctx, activeKey); err != nil {
			return nil, err
		}
		if len(evicted) > 0 {
			if err := e.queue.RemoveMembers(ctx, store.UsersKey(eventID), evicted...); err != nil {
				return nil, err
			}
		}
		observability.RotationsTotal.Inc()
		e.log.Info().Str("event_id", eventID).Int("evicted", len(evicted)).Msg("batch turned over")
		a = 0
		fresh = true
	}

	slots := cfg.Limit - a
	if slots < 0 {
		slots = 0
	}

	var promoted []string
	if slots > 0 && w > 0 {
		promoted, err = e.queue.PopFront(ctx, waitingKey, slots)
		if err != nil {
			return nil, err
		}
		if len(promoted) > 0 {
			if _, err := e.queue.PushBack(ctx, activeKey, promoted...); err != nil {
				return promoted, err
			}
			for _, u := range promoted {
				e.journal(ctx, eventID, u)
			}
			observability.AdmissionsTotal.WithLabelValues("rotation").Add(float64(len(promoted)))
		}
	}

	if len(promoted) == 0 && !fresh {
		// Redundant advance: leave the timer alone.
		return nil, nil
	}

	final := a + int64(len(promoted))
	if final > 0 {
		// A fresh batch, an absorb after expiry, and a top-up that reached
		// capacity all (re)open the window; a partial top-up inside an
		// open window leaves it running.
		if fresh || ttl <= 0 || final >= cfg.Limit {
			if err := e.queue.SetWithTTL(ctx, timerKey, timerValue, cfg.Interval); err != nil {
				return promoted, err
			}
		}
	} else {
		// Turned the batch over with nobody waiting: the window closes.
		if err := e.queue.Delete(ctx, timerKey); err != nil {
			return promoted, err
		}
	}
	return promoted, nil
}

// AdvanceEvent is Advance with the config taken from the event record.
// The scheduler drives rotation through this.
func (e *Engine) AdvanceEvent(ctx context.Context, ev *store.Event) ([]string, error) {
	return e.Advance(ctx, ev.ID, ConfigFor(ev))
}

// Start marks the event active and backfills: an empty batch takes one
// user from the waiting line, and any non-empty batch gets a running
// window.
func (e *Engine) Start(ctx context.Context, ev *store.Event) error {
	cfg := ConfigFor(ev)

	a, err := e.queue.Len(ctx, store.ActiveKey(ev.ID))
	if err != nil {
		return err
	}
	if a == 0 {
		promoted, err := e.queue.PopFront(ctx, store.WaitingKey(ev.ID), 1)
		if err != nil {
			return err
		}
		if len(promoted) > 0 {
			if _, err := e.queue.PushBack(ctx, store.ActiveKey(ev.ID), promoted...); err != nil {
				return err
			}
			for _, u := range promoted {
				e.journal(ctx, ev.ID, u)
			}
			observability.AdmissionsTotal.WithLabelValues("backfill").Add(float64(len(promoted)))
			a = int64(len(promoted))
		}
	}
	if a > 0 {
		if err := e.queue.SetWithTTL(ctx, store.TimerKey(ev.ID), timerValue, cfg.Interval); err != nil {
			return err
		}
	}

	if err := e.meta.SetEventActive(ctx, ev.ID, true); err != nil {
		return err
	}
	ev.IsActive = true
	e.log.Info().Str("event_id", ev.ID).Int64("active", a).Msg("event started")
	return nil
}

// Stop discharges the active batch and closes the window. Waiting users
// keep their places for the next start.
func (e *Engine) Stop(ctx context.Context, ev *store.Event) error {
	evicted, err := e.queue.Range(ctx, store.ActiveKey(ev.ID), 0, -1)
	if err != nil {
		return err
	}
	if err := e.queue.Delete(ctx, store.ActiveKey(ev.ID), store.TimerKey(ev.ID)); err != nil {
		return err
	}
	if len(evicted) > 0 {
		if err := e.queue.RemoveMembers(ctx, store.UsersKey(ev.ID), evicted...); err != nil {
			return err
		}
	}

	if err := e.meta.SetEventActive(ctx, ev.ID, false); err != nil {
		return err
	}
	ev.IsActive = false
	e.log.Info().Str("event_id", ev.ID).Int("evicted", len(evicted)).Msg("event stopped")
	return nil
}

// AdvanceNow is the privileged manual rotation: discharge the current
// batch unconditionally and promote the next one, window and all.
func (e *Engine) AdvanceNow(ctx context.Context, ev *store.Event) ([]string, *Roster, error) {
	cfg := ConfigFor(ev)

	evicted, err := e.queue.Range(ctx, store.ActiveKey(ev.ID), 0, -1)
	if err != nil {
		return nil, nil, err
	}
	if err := e.queue.Delete(ctx, store.ActiveKey(ev.ID)); err != nil {
		return nil, nil, err
	}
	if len(evicted) > 0 {
		if err := e.queue.RemoveMembers(ctx, store.UsersKey(ev.ID), evicted...); err != nil {
			return nil, nil, err
		}
	}

	moved, err := e.queue.PopFront(ctx, store.WaitingKey(ev.ID), cfg.Limit)
	if err != nil {
		return nil, nil, err
	}
	if len(moved) > 0 {
		if _, err := e.queue.PushBack(ctx, store.ActiveKey(ev.ID), moved...); err != nil {
			return moved, nil, err
		}
		for _, u := range moved {
			e.journal(ctx, ev.ID, u)
		}
		if err := e.queue.SetWithTTL(ctx, store.TimerKey(ev.ID), timerValue, cfg.Interval); err != nil {
			return moved, nil, err
		}
	} else {
		if err := e.queue.Delete(ctx, store.TimerKey(ev.ID)); err != nil {
			return moved, nil, err
		}
	}
	observability.RotationsTotal.Inc()
	e.log.Info().Str("event_id", ev.ID).Int("evicted", len(evicted)).Int("promoted", len(moved)).Msg("manual rotation")

	roster, err := e.Roster(ctx, ev.ID)
	if err != nil {
		return moved, nil, err
	}
	return moved, roster, nil
}

// EnqueueBatch adds n synthetic users and advances once. Load and smoke
// testing through the admin surface.
func (e *Engine) EnqueueBatch(ctx context.Context, ev *store.Event, n int) ([]string, error) {
	suffix := uuid.NewString()[:8]
	users := make([]string, 0, n)
	for i := 0; i < n; i++ {
		u := fmt.Sprintf("load-%s-%d", suffix, i)
		if _, err := e.Enqueue(ctx, ev.ID, u); err != nil {
			return users, err
		}
		users = append(users, u)
	}
	if _, err := e.Advance(ctx, ev.ID, ConfigFor(ev)); err != nil {
		return users, err
	}
	return users, nil
}

// Roster returns the full occupancy of an event's queue.
func (e *Engine) Roster(ctx context.Context, eventID string) (*Roster, error) {
	active, err := e.queue.Range(ctx, store.ActiveKey(eventID), 0, -1)
	if err != nil {
		return nil, err
	}
	waiting, err := e.queue.Range(ctx, store.WaitingKey(eventID), 0, -1)
	if err != nil {
		return nil, err
	}
	ttl, err := e.queue.TTL(ctx, store.TimerKey(eventID))
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = []string{}
	}
	if waiting == nil {
		waiting = []string{}
	}
	return &Roster{Active: active, Waiting: waiting, TimeRemaining: secondsLeft(ttl)}, nil
}

// Purge drops all ephemeral state for an event. Used when the event record
// is deleted.
func (e *Engine) Purge(ctx context.Context, eventID string) error {
	return e.queue.Delete(ctx,
		store.ActiveKey(eventID),
		store.WaitingKey(eventID),
		store.UsersKey(eventID),
		store.TimerKey(eventID),
	)
}

// journal records an admission in the durable entry log. Failures are
// swallowed: the journal is history, not part of the admission protocol.
func (e *Engine) journal(ctx context.Context, eventID, userID string) {
	entry := &store.Entry{EventID: eventID, UserID: userID, EnteredAt: time.Now().UTC()}
	if err := e.meta.InsertEntry(ctx, entry); err != nil {
		observability.EntryJournalFailures.Inc()
		e.log.Warn().Err(err).Str("event_id", eventID).Str("user_id", userID).Msg("entry journal insert failed")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// secondsLeft converts a store TTL to whole seconds, rounding up so a
// window in its last fraction of a second still reads as open.
func secondsLeft(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Second - 1) / time.Second)
}
