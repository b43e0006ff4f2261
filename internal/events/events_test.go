package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/hal"
	"automacro/internal/script"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16, nil)
	c := &collector{}
	bus.Subscribe(c)

	for i := range 5 {
		require.True(t, bus.Publish(PlaybackAction, ActionPayload{Index: i}))
	}
	bus.Close()

	require.Equal(t, 5, c.len())
	for i, ev := range c.events {
		assert.Equal(t, i, ev.Payload.(ActionPayload).Index)
	}
	assert.False(t, bus.Publish(PlaybackAction, nil), "closed bus drops")
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	block := make(chan struct{})
	bus.Subscribe(SinkFunc(func(Event) { <-block }))

	accepted := 0
	for range 20 {
		if bus.Publish(HALState, nil) {
			accepted++
		}
	}
	assert.Less(t, accepted, 20)
	assert.Equal(t, uint64(20-accepted), bus.Dropped())
	close(block)
	bus.Close()
}

func TestBusUnsubscribeAndPanics(t *testing.T) {
	bus := NewBus(8, nil)
	c := &collector{}
	unsub := bus.Subscribe(c)
	bus.Subscribe(SinkFunc(func(Event) { panic("bad sink") }))

	bus.Publish(HALState, nil)
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	unsub()
	bus.Publish(HALState, nil)
	bus.Close()
	assert.Equal(t, 1, c.len())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "automacro/events/playback/state", EventTopic("automacro", PlaybackState))
	assert.Equal(t, "events/hal/health", EventTopic("", HALHealth))
	assert.Equal(t, "a/b/command", CommandTopic("/a/b/"))
	assert.Equal(t, "x/status", StatusTopic("x"))
}

func TestPoints(t *testing.T) {
	now := time.Now()
	pts := Points(Event{Type: PlaybackState, Time: now, Payload: PlaybackPayload{ScriptID: "s", To: "completed", Executed: 3}})
	require.Len(t, pts, 1)
	assert.Equal(t, "playback", pts[0].Name())

	pts = Points(Event{Type: ActionRecorded, Time: now, Payload: ActionPayload{SessionID: "r", Action: script.KeyDown(script.VKA)}})
	require.Len(t, pts, 1)
	assert.Equal(t, "actions", pts[0].Name())

	health := HealthFrom(hal.HealthCheckResult{
		Status:   hal.Healthy,
		Platform: "virtual",
		Services: []hal.ServiceHealth{
			{Name: "keyboard", Status: hal.Healthy, Latency: 2 * time.Millisecond},
			{Name: "screen", Status: hal.Degraded, Latency: time.Second},
		},
	})
	assert.Equal(t, "degraded", health.Services["screen"])
	assert.Equal(t, 2.0, health.LatencyMS["keyboard"])
	assert.Len(t, Points(Event{Type: HALHealth, Time: now, Payload: health}), 2)

	assert.Empty(t, Points(Event{Type: RecordingStarted, Payload: RecordingPayload{}}))
	assert.Empty(t, Points(Event{Type: HotkeyTriggered, Payload: HotkeyPayload{}}))
}
