package events

import "log/slog"

// LogSink writes every event at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Handle(ev Event) {
	s.Logger.Debug("event", "type", string(ev.Type), "payload", ev.Payload)
}
