package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterDeliversByType(t *testing.T) {
	e := NewEmitter(nil)
	var got []string
	e.Subscribe(EventMarkerPlaced, func(ev Event) { got = append(got, ev.TxID) })

	e.Emit(Event{Type: EventMarkerPlaced, TxID: "a"})
	e.Emit(Event{Type: EventStaked, TxID: "b"})
	assert.Equal(t, []string{"a"}, got)
}

func TestEmitterRecoversPanics(t *testing.T) {
	e := NewEmitter(nil)
	called := false
	e.Subscribe(EventStaked, func(Event) { panic("boom") })
	e.Subscribe(EventStaked, func(Event) { called = true })

	assert.NotPanics(t, func() { e.Emit(Event{Type: EventStaked}) })
	assert.True(t, called, "later handlers still run")
}

func TestBufferFlush(t *testing.T) {
	e := NewEmitter(nil)
	var seen []Event
	e.Subscribe(EventStaked, func(ev Event) { seen = append(seen, ev) })

	b := NewBuffer("tx1", 42)
	b.Emit(Event{Type: EventStaked})
	b.Emit(Event{Type: EventStaked, TxID: "other", Timestamp: 7})
	assert.Empty(t, seen, "nothing delivered before flush")

	b.Flush(e)
	assert.Equal(t, []Event{
		{Type: EventStaked, TxID: "tx1", Timestamp: 42},
		{Type: EventStaked, TxID: "other", Timestamp: 7},
	}, seen)
	assert.Empty(t, b.Events())
}

func TestBufferDiscard(t *testing.T) {
	b := NewBuffer("tx1", 1)
	b.Emit(Event{Type: EventUnstaked})
	b.Discard()
	assert.Empty(t, b.Events())
}
