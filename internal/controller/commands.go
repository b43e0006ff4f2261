package controller

import (
	"context"
	"fmt"

	"automacro/internal/errs"
	"automacro/internal/protocol"
)

// PlayResult is returned for a play command.
type PlayResult struct {
	PlaybackID string `json:"playback_id"`
	ScriptID   string `json:"script_id"`
}

type RecordResult struct {
	SessionID string `json:"session_id,omitempty"`
	ScriptID  string `json:"script_id,omitempty"`
	Actions   int    `json:"actions,omitempty"`
}

type HotkeysResult struct {
	Suspended bool `json:"hotkeys_paused"`
}

// Execute runs a remote command from the WebSocket endpoint or MQTT.
func (c *Controller) Execute(ctx context.Context, cmd protocol.CommandPayload) (any, error) {
	switch cmd.Action {
	case protocol.CmdStatus:
		return c.Status(), nil
	case protocol.CmdHealth:
		return c.Health(ctx, 0), nil
	case protocol.CmdPlay:
		if cmd.ScriptID == "" {
			return nil, errs.Invalid("play needs a script_id")
		}
		h, err := c.Play(ctx, cmd.ScriptID, PlayRequest{Speed: cmd.Speed, Repeat: cmd.Repeat})
		if err != nil {
			return nil, err
		}
		return PlayResult{PlaybackID: h.ID, ScriptID: h.Script.ID}, nil
	case protocol.CmdPause:
		return nil, c.Pause()
	case protocol.CmdResume:
		return nil, c.Resume()
	case protocol.CmdStop:
		return nil, c.Stop()
	case protocol.CmdRecordStart:
		s, err := c.StartRecording(cmd.Name)
		if err != nil {
			return nil, err
		}
		return RecordResult{SessionID: s.ID()}, nil
	case protocol.CmdRecordStop:
		sc, err := c.StopRecording(ctx)
		if err != nil {
			return nil, err
		}
		return RecordResult{ScriptID: sc.ID, Actions: len(sc.Actions)}, nil
	case protocol.CmdHotkeysSuspend:
		c.SuspendHotkeys()
		return HotkeysResult{Suspended: true}, nil
	case protocol.CmdHotkeysResume:
		c.ResumeHotkeys()
		return HotkeysResult{Suspended: false}, nil
	default:
		return nil, errs.Invalid("unknown command %q", cmd.Action)
	}
}

// Handle answers a decoded protocol message; it is the MQTT command handler.
func (c *Controller) Handle(env protocol.Envelope) protocol.Message {
	cmd, err := env.Command()
	if err != nil {
		return protocol.NewResult(env.ID, nil, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err))
	}
	data, err := c.Execute(c.ctx, cmd)
	return protocol.NewResult(env.ID, data, err)
}
