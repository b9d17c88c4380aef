package store

import (
	"time"
)

// Domain represents a customer site that events are scoped under.
type Domain struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Event represents one admission-controlled event and its queue
// configuration. IsActive flips only through the start/stop operations,
// never through the generic update.
type Event struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Domain      string    `json:"domain" db:"domain"`
	QueueLimit  int       `json:"queueLimit" db:"queue_limit"`   // active batch capacity, 1..1000
	IntervalSec int       `json:"intervalSec" db:"interval_sec"` // batch window length in seconds, 1..3600
	IsActive    bool      `json:"isActive" db:"is_active"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Entry is one line of the append-only admission journal: which user
// entered which event, and when.
type Entry struct {
	EventID   string    `json:"eventId" db:"event_id"`
	UserID    string    `json:"userId" db:"user_id"`
	EnteredAt time.Time `json:"enteredAt" db:"entered_at"`
}

// Token is an opaque bearer credential for the public queue endpoints.
// The secret is never serialized; the create handler returns it exactly
// once.
type Token struct {
	ID         string     `json:"id" db:"id"`
	Secret     string     `json:"-" db:"secret"`
	Name       string     `json:"name" db:"name"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" db:"expires_at"` // nil = never expires
	IsActive   bool       `json:"isActive" db:"is_active"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`
}
