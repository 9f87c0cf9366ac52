package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"cronfunc/internal/eventbus"
	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

func openStores(t *testing.T, retain int) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "cronfunc.db"), Retain: retain}, logx.Nop())
		assert.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		assert.NoError(t, err)
		assert.Zero(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for driver, st := range openStores(t, 0) {
		t.Run(driver, func(t *testing.T) {
			for i := range 5 {
				fn := "heartbeat"
				if i%2 == 1 {
					fn = "config-echo"
				}
				assert.NoError(t, st.AppendRun(ctx, RunRecord{
					At:        base.Add(time.Duration(i) * time.Second),
					ID:        fmt.Sprintf("inv-%d", i),
					Function:  fn,
					Status:    StatusFinished,
					Scheduled: base.Add(time.Duration(i) * time.Second),
					Started:   base.Add(time.Duration(i) * time.Second),
					Duration:  15 * time.Millisecond,
					Attempts:  1,
				}))
			}
			assert.NoError(t, st.AppendRun(ctx, RunRecord{At: base.Add(time.Minute), ID: "inv-5", Function: "config-echo", Status: StatusFailed, Attempts: 1, Error: "app configuration unavailable"}))

			all, err := st.RecentRuns(ctx, "", 10)
			assert.NoError(t, err)
			assert.Equal(t, 6, len(all))
			assert.Equal(t, "inv-5", all[0].ID)
			assert.Equal(t, "app configuration unavailable", all[0].Error)
			assert.True(t, all[0].Scheduled.IsZero())

			hb, err := st.RecentRuns(ctx, "heartbeat", 2)
			assert.NoError(t, err)
			assert.Equal(t, []string{"inv-4", "inv-2"}, []string{hb[0].ID, hb[1].ID})
			assert.Equal(t, 15*time.Millisecond, hb[0].Duration)
			assert.True(t, hb[0].Scheduled.Equal(base.Add(4*time.Second)))
		})
	}
}

func TestSQLitePrunesToRetain(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db"), Retain: 10}, logx.Nop())
	assert.NoError(t, err)
	defer st.Close()
	ss := st.(*sqliteStore)
	ss.pruneEvery = 5

	for i := range 25 {
		assert.NoError(t, st.AppendRun(ctx, RunRecord{ID: fmt.Sprintf("inv-%d", i), Function: "fn", Status: StatusFinished}))
	}
	all, err := st.RecentRuns(ctx, "", 100)
	assert.NoError(t, err)
	assert.Equal(t, 10, len(all))
	assert.Equal(t, "inv-24", all[0].ID)
}

func TestFileCompactsToRetain(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.db"), Retain: 10}, logx.Nop())
	assert.NoError(t, err)
	defer st.Close()

	for i := range compactEvery {
		assert.NoError(t, st.AppendRun(ctx, RunRecord{ID: fmt.Sprintf("inv-%d", i), Function: "fn", Status: StatusFinished}))
	}
	all, err := st.RecentRuns(ctx, "", 100)
	assert.NoError(t, err)
	assert.Equal(t, 10, len(all))
	assert.Equal(t, fmt.Sprintf("inv-%d", compactEvery-1), all[0].ID)

	// appends keep working on the rewritten file
	assert.NoError(t, st.AppendRun(ctx, RunRecord{ID: "after", Function: "fn", Status: StatusFinished}))
	all, err = st.RecentRuns(ctx, "", 1)
	assert.NoError(t, err)
	assert.Equal(t, "after", all[0].ID)
}

func TestFileReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	assert.NoError(t, err)
	assert.NoError(t, st.AppendRun(ctx, RunRecord{ID: "a", Function: "fn", Status: StatusSkipped}))
	assert.NoError(t, st.Close())
	assert.Error(t, st.AppendRun(ctx, RunRecord{ID: "b"}))

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	assert.NoError(t, err)
	defer st.Close()
	all, err := st.RecentRuns(ctx, "fn", 5)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(all))
	assert.Equal(t, StatusSkipped, all[0].Status)
}

func TestRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := openStores(t, 0)["sqlite"]
	bus := eventbus.New()
	rec := NewRecorder(st, logx.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx, bus)
	}()

	// wait for the subscription before publishing
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: time.Now(), Data: engine.TaskEvent{ID: "probe"}})
		bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Time: time.Now(), Data: engine.TaskEvent{ID: "probe", Name: "probe", Error: "overlap_skip"}})
		runs, err := st.RecentRuns(ctx, "probe", 1)
		assert.NoError(t, err)
		if len(runs) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder did not subscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: time.Now(), Data: engine.TaskEvent{ID: "inv-1", Name: "config-echo", Attempts: 1, Error: "boom"}})
	bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: "not a task event"})

	deadline = time.Now().Add(2 * time.Second)
	for {
		runs, err := st.RecentRuns(ctx, "config-echo", 5)
		assert.NoError(t, err)
		if len(runs) == 1 {
			assert.Equal(t, StatusFailed, runs[0].Status)
			assert.Equal(t, "boom", runs[0].Error)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failed run not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
	runs, err := st.RecentRuns(context.Background(), "probe", 100)
	assert.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, StatusSkipped, r.Status)
	}
}
