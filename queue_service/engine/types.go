package engine

import (
	"time"

	"github.com/itskum47/waitroom/queue_service/store"
)

// Config is the per-event queue shape the engine operates under.
type Config struct {
	Limit    int64         // active batch capacity
	Interval time.Duration // batch window length
}

// ConfigFor extracts the queue shape from an event record.
func ConfigFor(ev *store.Event) Config {
	return Config{
		Limit:    int64(ev.QueueLimit),
		Interval: time.Duration(ev.IntervalSec) * time.Second,
	}
}

// UserState is where a user currently stands in an event.
type UserState string

const (
	StateActive  UserState = "active"
	StateWaiting UserState = "waiting"
)

// Status is a point-in-time view of one user's standing in an event.
type Status struct {
	State         UserState
	Position      int64 // 0 when active, 1-based waiting position otherwise
	Total         int64 // active + waiting
	TimeRemaining int64 // seconds left in the open batch window, 0 when closed
	ActiveUsers   int64
	WaitingUsers  int64
}

// JoinResult is a Status plus the waiting-timer hints the join and status
// endpoints present to queued users.
type JoinResult struct {
	Status
	ShowWaitingTimer     bool
	WaitingTimerDuration int64 // seconds, the window length when shown
}

// Roster is the full occupancy of an event's queue.
type Roster struct {
	Active        []string `json:"active"`
	Waiting       []string `json:"waiting"`
	TimeRemaining int64    `json:"remaining"`
}
