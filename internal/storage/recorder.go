package storage

import (
	"context"
	"time"

	"cronfunc/internal/eventbus"
	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

// Recorder appends engine outcome events to a Store.
type Recorder struct {
	store Store
	log   logx.Logger
	// Timeout bounds one append; defaults to 2s.
	Timeout time.Duration
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log.With(logx.String("comp", "recorder")), Timeout: 2 * time.Second}
}

var statusByEvent = map[string]string{
	eventbus.TaskFinished: StatusFinished,
	eventbus.TaskFailed:   StatusFailed,
	eventbus.TaskSkipped:  StatusSkipped,
	eventbus.TaskDropped:  StatusDropped,
}

// RecordedEvents are the bus event types a Recorder persists.
var RecordedEvents = []string{eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskSkipped, eventbus.TaskDropped}

// Run subscribes to bus and records events until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, RecordedEvents...)
	defer unsub()
	return r.Consume(ctx, ch)
}

// Consume records events from ch until ctx is done or ch is closed. Events
// already buffered when ctx is done are still written.
func (r *Recorder) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return nil
					}
					r.Record(ctx, e)
				default:
					return nil
				}
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(ctx, e)
		}
	}
}

// Record persists one event. Events that carry no engine.TaskEvent are ignored.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	status, ok := statusByEvent[e.Type]
	if !ok {
		return
	}
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	rec := RunRecord{
		At:         e.Time,
		ID:         ev.ID,
		Function:   ev.Name,
		Status:     status,
		Scheduled:  ev.Scheduled,
		Started:    ev.Started,
		QueueDelay: ev.QueueDelay,
		Duration:   ev.Duration,
		Attempts:   ev.Attempts,
		Error:      ev.Error,
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.Timeout)
	defer cancel()
	if err := r.store.AppendRun(actx, rec); err != nil {
		r.log.Warn("append run failed", logx.String("function", ev.Name), logx.String("id", ev.ID), logx.Err(err))
	}
}
