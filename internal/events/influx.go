package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"automacro/internal/config"
)

const (
	influxConnectTimeout = 10 * time.Second
	influxBatchSize      = 100
)

var ErrInfluxConnect = errors.New("influxdb connection failed")

// Influx turns events into points: playback runs and action counts,
// decision transitions and HAL health latencies.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func ConnectInflux(cfg config.InfluxDBConfig, logger Logger) (*Influx, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 10
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(influxBatchSize).
			SetFlushInterval(uint(flush)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), influxConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrInfluxConnect, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxConnect)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()
	return &Influx{client: client, writeAPI: writeAPI}, nil
}

func (i *Influx) Handle(ev Event) {
	for _, p := range Points(ev) {
		i.writeAPI.WritePoint(p)
	}
}

func (i *Influx) Close() {
	i.writeAPI.Flush()
	i.client.Close()
}

// Points maps an event to zero or more points.
func Points(ev Event) []*write.Point {
	switch p := ev.Payload.(type) {
	case PlaybackPayload:
		return []*write.Point{write.NewPoint("playback",
			map[string]string{"script_id": p.ScriptID, "state": p.To},
			map[string]any{"executed": p.Executed, "failed": p.Failed, "playback_id": p.PlaybackID},
			ev.Time)}
	case ActionPayload:
		ok := ev.Type != PlaybackActionFailed
		source := "playback"
		if ev.Type == ActionRecorded {
			source = "recording"
		}
		return []*write.Point{write.NewPoint("actions",
			map[string]string{"kind": string(p.Action.Kind), "source": source},
			map[string]any{"count": 1, "ok": ok},
			ev.Time)}
	case DecisionPayload:
		return []*write.Point{write.NewPoint("decision",
			map[string]string{"graph": p.Graph, "from": p.From, "to": p.To},
			map[string]any{"tick": p.Tick, "rule": p.Rule, "action": p.Action},
			ev.Time)}
	case HealthPayload:
		points := make([]*write.Point, 0, len(p.Services))
		for name, status := range p.Services {
			points = append(points, write.NewPoint("hal_health",
				map[string]string{"service": name, "platform": p.Platform},
				map[string]any{"status": status, "latency_ms": p.LatencyMS[name]},
				ev.Time))
		}
		return points
	case RecordingPayload:
		if ev.Type != RecordingStopped {
			return nil
		}
		return []*write.Point{write.NewPoint("recording",
			map[string]string{"name": p.Name},
			map[string]any{"actions": p.Actions, "dropped": p.Dropped},
			ev.Time)}
	}
	return nil
}
