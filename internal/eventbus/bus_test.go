package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOutByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	bc, unsubBC := b.Subscribe(4, "broadcast.")
	defer unsubBC()

	b.Publish(Event{Type: "job.created"})
	b.Publish(Event{Type: "broadcast.posted", Data: "J1"})

	require.Len(t, all, 2)
	require.Len(t, bc, 1)
	e := <-bc
	assert.Equal(t, "broadcast.posted", e.Type)
	assert.Equal(t, "J1", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.EqualValues(t, 1, b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
