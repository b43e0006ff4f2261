package events

import (
	"time"

	"automacro/internal/hal"
	"automacro/internal/script"
)

type RecordingPayload struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	ScriptID  string `json:"script_id,omitempty"`
	Actions   int    `json:"actions"`
	Dropped   uint64 `json:"dropped"`
}

type ActionPayload struct {
	SessionID  string        `json:"session_id,omitempty"`
	PlaybackID string        `json:"playback_id,omitempty"`
	ScriptID   string        `json:"script_id,omitempty"`
	Iteration  int           `json:"iteration"`
	Index      int           `json:"index"`
	Advised    bool          `json:"advised,omitempty"`
	Action     script.Action `json:"action"`
	Error      string        `json:"error,omitempty"`
}

type PlaybackPayload struct {
	PlaybackID string `json:"playback_id"`
	ScriptID   string `json:"script_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Executed   int    `json:"executed"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

type DecisionPayload struct {
	Graph  string `json:"graph"`
	Tick   int    `json:"tick"`
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Rule   string `json:"rule,omitempty"`
	Action string `json:"action,omitempty"`
}

type StatePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

type HealthPayload struct {
	Status   string            `json:"status"`
	State    string            `json:"state"`
	Platform string            `json:"platform"`
	Services map[string]string `json:"services"`
	// LatencyMS is per service, in milliseconds.
	LatencyMS map[string]float64 `json:"latency_ms"`
}

type HotkeyPayload struct {
	Name  string `json:"name"`
	Combo string `json:"combo"`
}

// HealthFrom flattens a HAL health report.
func HealthFrom(r hal.HealthCheckResult) HealthPayload {
	p := HealthPayload{
		Status:    r.Status.String(),
		State:     r.State,
		Platform:  r.Platform,
		Services:  make(map[string]string, len(r.Services)),
		LatencyMS: make(map[string]float64, len(r.Services)),
	}
	for _, s := range r.Services {
		p.Services[s.Name] = s.Status.String()
		p.LatencyMS[s.Name] = float64(s.Latency) / float64(time.Millisecond)
	}
	return p
}
