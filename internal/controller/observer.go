package controller

import (
	"automacro/internal/events"
	"automacro/internal/playback"
)

// playbackObserver forwards playback progress to the event bus.
type playbackObserver struct {
	c *Controller
}

func (o playbackObserver) OnState(id string, from, to playback.State) {
	p := events.PlaybackPayload{PlaybackID: id, From: from.String(), To: to.String()}
	if h := o.c.scheduler.Current(); h != nil && h.ID == id {
		p.ScriptID = h.Script.ID
		if to.Terminal() {
			res := h.Result()
			p.Executed, p.Failed = res.Executed, res.Failed
			if res.Err != nil {
				p.Error = res.Err.Error()
			}
		}
	}
	o.c.publish(events.PlaybackState, p)
	go o.c.changed()
}

func (o playbackObserver) OnAction(p playback.Progress) {
	o.c.publish(events.PlaybackAction, actionPayload(p, nil))
}

func (o playbackObserver) OnActionFailed(p playback.Progress, err error) {
	o.c.publish(events.PlaybackActionFailed, actionPayload(p, err))
}

func actionPayload(p playback.Progress, err error) events.ActionPayload {
	ap := events.ActionPayload{
		PlaybackID: p.PlaybackID,
		ScriptID:   p.ScriptID,
		Iteration:  p.Iteration,
		Index:      p.Index,
		Advised:    p.Advised,
		Action:     p.Action,
	}
	if err != nil {
		ap.Error = err.Error()
	}
	return ap
}
