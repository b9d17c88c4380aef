package store

import (
	"fmt"
)

// Per-event queue state lives under four keys in the ephemeral store:
// two lists, a membership set and a TTL'd window marker.

// ActiveKey is the list holding the current active batch in admission order.
// Format: q:{eventID}:active
func ActiveKey(eventID string) string {
	return fmt.Sprintf("q:%s:active", eventID)
}

// WaitingKey is the FIFO list of users waiting behind the active batch.
// Format: q:{eventID}:waiting
func WaitingKey(eventID string) string {
	return fmt.Sprintf("q:%s:waiting", eventID)
}

// UsersKey is the membership set covering both lines; it is what makes
// enqueue idempotent. Format: q:{eventID}:users
func UsersKey(eventID string) string {
	return fmt.Sprintf("q:%s:users", eventID)
}

// TimerKey is the batch window marker. Its presence means the window is
// open; its TTL is the time remaining. Format: q:{eventID}:timer
func TimerKey(eventID string) string {
	return fmt.Sprintf("q:%s:timer", eventID)
}
