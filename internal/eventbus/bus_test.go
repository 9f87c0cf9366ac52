package eventbus

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, TaskFailed)
	defer unsubFailed()

	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskFailed, Data: "x"})

	assert.Equal(t, 2, len(all))
	assert.Equal(t, 1, len(failed))
	e := <-failed
	assert.Equal(t, TaskFailed, e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskStarted})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: TaskFinished})
}
