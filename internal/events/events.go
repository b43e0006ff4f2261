// Package events fans engine events out to sinks: the WebSocket hub, MQTT,
// InfluxDB and the log. Publishing never blocks the engine; when the queue is
// full events are dropped and counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event. Sinks use it as topic suffix or measurement tag.
type Type string

const (
	RecordingStarted     Type = "recording.started"
	RecordingStopped     Type = "recording.stopped"
	ActionRecorded       Type = "action.recorded"
	PlaybackState        Type = "playback.state"
	PlaybackAction       Type = "playback.action"
	PlaybackActionFailed Type = "playback.action_failed"
	DecisionTransition   Type = "decision.transition"
	DecisionAction       Type = "decision.action"
	HALState             Type = "hal.state"
	HALHealth            Type = "hal.health"
	HotkeyTriggered      Type = "hotkey.triggered"
)

type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Sink receives events on the bus goroutine. Handle must not block for long.
type Sink interface {
	Handle(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Handle(ev Event) { f(ev) }

type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

const DefaultQueueSize = 256

// Bus delivers events to sinks in publish order.
type Bus struct {
	logger Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	sinks  map[int]Sink
	nextID int

	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Uint64
}

func NewBus(queueSize int, logger Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	b := &Bus{
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		sinks:  make(map[int]Sink),
	}
	go b.run()
	return b
}

// Subscribe adds a sink and returns a function that removes it.
func (b *Bus) Subscribe(s Sink) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = s
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}

// Publish queues an event. It reports false if the event was dropped.
func (b *Bus) Publish(t Type, payload any) bool {
	return b.PublishEvent(Event{Type: t, Time: time.Now().UTC(), Payload: payload})
}

func (b *Bus) PublishEvent(ev Event) (ok bool) {
	if b.closed.Load() {
		return false
	}
	// Close may race with a send.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case b.queue <- ev:
		return true
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("event queue full, dropping", "type", string(ev.Type), "dropped", n)
		}
		return false
	}
}

// Dropped is the number of events lost to a full queue.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting events, delivers what is queued and returns.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.queue)
	})
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.queue {
		b.deliver(ev)
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()
	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("event sink panicked", "type", string(ev.Type), "panic", r)
				}
			}()
			s.Handle(ev)
		}()
	}
}
