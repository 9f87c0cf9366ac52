package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain caps stored records per store; 0 means DefaultRetain.
	Retain int
}

const DefaultRetain = 10000

// Run statuses.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusDropped  = "dropped"
)

// RunRecord is one persisted invocation outcome.
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time     `json:"at"`
	ID         string        `json:"id"`
	Function   string        `json:"function"`
	Status     string        `json:"status"`
	Scheduled  time.Time     `json:"scheduled,omitzero"`
	Started    time.Time     `json:"started,omitzero"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}
