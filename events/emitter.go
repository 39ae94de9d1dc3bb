package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventTxExecuted        EventType = "tx_executed"
	EventTokenTransfer     EventType = "token_transfer"
	EventRewardsFunded     EventType = "rewards_funded"
	EventPlayerRegistered  EventType = "player_registered"
	EventMarkerPlaced      EventType = "marker_placed"
	EventPlayerJoinedCity  EventType = "player_joined_city"
	EventMarkerVerified    EventType = "marker_verified"
	EventStaked            EventType = "staked"
	EventUnstakeRequested  EventType = "unstake_requested"
	EventUnstaked          EventType = "unstaked"
	EventRewardsClaimed    EventType = "rewards_claimed"
	EventMultiplierUpdated EventType = "multiplier_updated"
	EventPoolConfigured    EventType = "pool_configured"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type      EventType      `json:"type"`
	TxID      string         `json:"tx_id"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Sink accepts events produced by ledger operations.
type Sink interface {
	Emit(Event)
}

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	log      *zap.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers. log may be nil.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{log: log, handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("event handler panicked",
						zap.String("type", string(ev.Type)),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

// Buffer collects events until Flush. The executor hands one to each call
// so subscribers only ever see events of committed calls.
type Buffer struct {
	txID   string
	now    int64
	events []Event
}

// NewBuffer returns an empty Buffer that stamps events with txID and now.
func NewBuffer(txID string, now int64) *Buffer {
	return &Buffer{txID: txID, now: now}
}

// Emit appends ev, filling in TxID and Timestamp when unset.
func (b *Buffer) Emit(ev Event) {
	if ev.TxID == "" {
		ev.TxID = b.txID
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = b.now
	}
	b.events = append(b.events, ev)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	return b.events
}

// Flush forwards every buffered event to sink and empties the buffer.
func (b *Buffer) Flush(sink Sink) {
	for _, ev := range b.events {
		sink.Emit(ev)
	}
	b.events = nil
}

// Discard drops buffered events.
func (b *Buffer) Discard() {
	b.events = nil
}
