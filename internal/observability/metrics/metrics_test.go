package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"cronfunc/internal/eventbus"
	"cronfunc/internal/task/engine"
)

type fakeEngine struct{ snap engine.Snapshot }

func (f fakeEngine) Snapshot() engine.Snapshot { return f.snap }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	assert.NoError(t, err)
	return string(body)
}

func TestObserveCountsOutcomes(t *testing.T) {
	m := New(nil, nil)
	started := time.Date(2026, 1, 2, 3, 4, 25, 0, time.UTC)
	tests := []struct {
		typ string
		ev  engine.TaskEvent
	}{
		{eventbus.TaskFinished, engine.TaskEvent{Name: "heartbeat", Started: started, Duration: 3 * time.Millisecond, Attempts: 1}},
		{eventbus.TaskFinished, engine.TaskEvent{Name: "heartbeat", Started: started, Duration: 2 * time.Millisecond, Attempts: 1}},
		{eventbus.TaskFailed, engine.TaskEvent{Name: "config-echo", Started: started, Attempts: 3, Error: "boom"}},
		{eventbus.TaskSkipped, engine.TaskEvent{Name: "heartbeat", Error: "overlap"}},
		{eventbus.TaskStarted, engine.TaskEvent{Name: "heartbeat"}},
	}
	for _, tt := range tests {
		m.Observe(eventbus.Event{Type: tt.typ, Data: tt.ev})
	}
	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: "not an event"})

	out := scrape(t, m)
	assert.Contains(t, out, `cronfunc_invocations_total{function="heartbeat",status="finished"} 2`)
	assert.Contains(t, out, `cronfunc_invocations_total{function="config-echo",status="failed"} 1`)
	assert.Contains(t, out, `cronfunc_invocations_total{function="heartbeat",status="skipped"} 1`)
	assert.Contains(t, out, `cronfunc_attempts_total{function="config-echo"} 3`)
	assert.Contains(t, out, `cronfunc_invocation_duration_seconds_count{function="heartbeat"} 2`)
	assert.NotContains(t, out, `status="started"`)
}

func TestEngineAndBusGauges(t *testing.T) {
	bus := eventbus.New()
	m := New(fakeEngine{engine.Snapshot{Workers: 4, QueueLen: 1, QueueCap: 64, InFlight: 2}}, bus)
	out := scrape(t, m)
	assert.Contains(t, out, "cronfunc_engine_workers 4")
	assert.Contains(t, out, "cronfunc_engine_queue_capacity 64")
	assert.Contains(t, out, "cronfunc_engine_in_flight 2")
	assert.Contains(t, out, "cronfunc_eventbus_dropped_total 0")
	assert.Contains(t, out, "go_goroutines")
}

func TestConsumeStopsOnClose(t *testing.T) {
	bus := eventbus.New()
	m := New(nil, bus)
	ch, unsub := bus.Subscribe(4, ObservedEvents...)
	done := make(chan error, 1)
	go func() { done <- m.Consume(context.Background(), ch) }()

	bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Data: engine.TaskEvent{Name: "heartbeat", Error: "queue_full"}})
	const want = `cronfunc_invocations_total{function="heartbeat",status="dropped"} 1`
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(scrape(t, m), want) {
		if time.Now().After(deadline) {
			t.Fatal("dropped event not counted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	unsub()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return")
	}
}
