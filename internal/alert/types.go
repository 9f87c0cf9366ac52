package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled  = errors.New("alerts disabled")
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alerts stopped")
)

// Outcomes that can alert.
const (
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
	OutcomeSkipped = "skipped"
)

// Config controls the pipeline.
type Config struct {
	Enabled bool
	// On lists outcomes that alert. Empty means failed and dropped.
	On []string

	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Sender delivers one rendered alert.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Alert is one invocation outcome worth telling an operator about.
type Alert struct {
	Function  string
	Outcome   string
	ID        string
	Scheduled time.Time
	Attempts  int
	Error     string
	At        time.Time
}

// Text renders the alert as a plain message.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", icon(a.Outcome), a.Function, a.Outcome)
	if a.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", a.Attempts)
	}
	if !a.Scheduled.IsZero() {
		fmt.Fprintf(&b, "\ntrigger: %s", a.Scheduled.Format(time.RFC3339))
	}
	if a.ID != "" {
		fmt.Fprintf(&b, "\nid: %s", a.ID)
	}
	if a.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", a.Error)
	}
	return b.String()
}

func icon(outcome string) string {
	switch outcome {
	case OutcomeFailed:
		return "🚨"
	case OutcomeDropped:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// dedupKey ignores ID and times so repeats of one failure collapse.
func (a Alert) dedupKey() string {
	return a.Function + "|" + a.Outcome + "|" + a.Error
}

type HistoryItem struct {
	At   time.Time
	Text string
}
