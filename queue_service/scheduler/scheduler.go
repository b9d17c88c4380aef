package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/observability"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

const (
	// tickInterval is the rotation cadence. One second keeps promotions
	// within a second of timer expiry without request-path help.
	tickInterval = time.Second

	// storeBackoff is how long rotation stays suspended after a store
	// probe fails.
	storeBackoff = 30 * time.Second

	// tickTimeout bounds one full rotation pass, store probes included.
	tickTimeout = 10 * time.Second
)

// Advancer is the engine-side contract the scheduler drives.
type Advancer interface {
	AdvanceEvent(ctx context.Context, ev *store.Event) ([]string, error)
}

// Scheduler is the authoritative driver of batch rotation. Every second it
// enumerates active events and advances each one; request-path advances
// only shortcut what the next tick would do anyway.
type Scheduler struct {
	meta     store.MetaStore
	queue    store.QueueStore
	advancer Advancer
	health   *resilience.Health
	log      zerolog.Logger

	metaRetryAt  time.Time
	queueRetryAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(meta store.MetaStore, queue store.QueueStore, advancer Advancer, health *resilience.Health, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		meta:     meta,
		queue:    queue,
		advancer: advancer,
		health:   health,
		log:      log,
	}
}

// Start launches the rotation loop until the context ends or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.log.Info().Dur("tick", tickInterval).Msg("rotation scheduler started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info().Msg("rotation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			s.tick(ctx)
			observability.SchedulerTickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick runs one rotation pass. A failed store probe suspends rotation for
// storeBackoff; a failure on one event never blocks the rest.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	if now.Before(s.metaRetryAt) {
		observability.SchedulerSkips.WithLabelValues("meta_backoff").Inc()
		return
	}
	if now.Before(s.queueRetryAt) {
		observability.SchedulerSkips.WithLabelValues("queue_backoff").Inc()
		return
	}

	tctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	events, err := s.meta.ListActiveEvents(tctx)
	if err != nil {
		s.metaRetryAt = now.Add(storeBackoff)
		if s.health.SetMetaStore(false) {
			s.log.Error().Err(err).Dur("backoff", storeBackoff).Msg("metadata store unreachable, rotation suspended")
		}
		return
	}
	if s.health.SetMetaStore(true) {
		s.log.Info().Msg("metadata store reachable again")
	}

	if err := s.queue.Ping(tctx); err != nil {
		s.queueRetryAt = now.Add(storeBackoff)
		if s.health.SetQueueStore(false) {
			s.log.Error().Err(err).Dur("backoff", storeBackoff).Msg("queue store unreachable, rotation suspended")
		}
		return
	}
	if s.health.SetQueueStore(true) {
		s.log.Info().Msg("queue store reachable again")
	}

	for _, ev := range events {
		promoted, err := s.advancer.AdvanceEvent(tctx, ev)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", ev.ID).Msg("advance failed")
			continue
		}
		if len(promoted) > 0 {
			s.log.Debug().Str("event_id", ev.ID).Int("promoted", len(promoted)).Msg("advanced event")
		}
	}
}
