package hal

import (
	"strings"
	"time"
)

const (
	DefaultDelay              = 500 * time.Millisecond
	DefaultMonitoringInterval = 30 * time.Second
)

// Options is the configuration the engine accepts at Initialize.
type Options struct {
	DefaultDelay       time.Duration
	MonitoringInterval time.Duration
	LogLevel           string
}

func DefaultOptions() Options {
	return Options{DefaultDelay: DefaultDelay, MonitoringInterval: DefaultMonitoringInterval, LogLevel: "info"}
}

// ParseOptions reads the recognized keys from a loosely typed map, e.g. one
// decoded from a host application's settings. Unknown keys are ignored.
func ParseOptions(m map[string]any) Options {
	o := DefaultOptions()
	for k, v := range m {
		switch strings.ToLower(strings.ReplaceAll(k, "-", "_")) {
		case "default_delay_ms":
			if ms, ok := toMillis(v); ok {
				o.DefaultDelay = ms
			}
		case "monitoring_interval_ms":
			if ms, ok := toMillis(v); ok {
				o.MonitoringInterval = ms
			}
		case "log_level":
			if s, ok := v.(string); ok && s != "" {
				o.LogLevel = s
			}
		}
	}
	return o
}

func toMillis(v any) (time.Duration, bool) {
	var n float64
	switch t := v.(type) {
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case float64:
		n = t
	default:
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	return time.Duration(n * float64(time.Millisecond)), true
}
