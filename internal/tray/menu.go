package tray

import (
	"fmt"

	"automacro/internal/controller"
)

// Controls is what the menu drives. *controller.Controller implements it.
type Controls interface {
	Status() controller.Status
	ToggleRecording()
	PlayLast()
	TogglePause()
	StopAll()
	ToggleHotkeys()
}

// Labels is the menu text for one engine status.
type Labels struct {
	Record   string
	Pause    string
	Hotkeys  string
	Tooltip  string
	CanPlay  bool
	CanPause bool
	CanStop  bool
}

func LabelsFor(st controller.Status) Labels {
	l := Labels{Record: "Start recording", Pause: "Pause", Hotkeys: "Pause hotkeys", CanPlay: !st.Recording}
	if st.HotkeysPaused {
		l.Hotkeys = "Resume hotkeys"
	}
	if st.Recording {
		l.Record = "Stop recording"
	}
	switch st.Playback {
	case "playing":
		l.CanPause, l.CanPlay = true, false
	case "paused":
		l.Pause, l.CanPause, l.CanPlay = "Resume", true, false
	}
	l.CanStop = st.Recording || l.CanPause

	switch {
	case st.Recording:
		l.Tooltip = fmt.Sprintf("automacro: recording (%d actions)", st.RecordedSoFar)
	case l.CanPause:
		l.Tooltip = fmt.Sprintf("automacro: %s %s", st.Playback, st.ScriptID)
	default:
		l.Tooltip = "automacro: " + st.HAL
	}
	return l
}

// Menu binds the tray items to the engine.
type Menu struct {
	tray                          *Tray
	ctl                           Controls
	record, play, pause, stp, hot int
}

// Bind adds the standard menu to t. Call Refresh whenever the engine status
// changes.
func Bind(t *Tray, ctl Controls, quit func()) *Menu {
	m := &Menu{tray: t, ctl: ctl}
	m.record = t.AddMenuItem("Start recording", m.after(ctl.ToggleRecording))
	m.play = t.AddMenuItem("Play last", m.after(ctl.PlayLast))
	m.pause = t.AddMenuItem("Pause", m.after(ctl.TogglePause))
	m.stp = t.AddMenuItem("Stop", m.after(ctl.StopAll))
	t.AddSeparator()
	m.hot = t.AddMenuItem("Pause hotkeys", m.after(ctl.ToggleHotkeys))
	t.AddMenuItem("Quit", quit)
	m.Refresh()
	return m
}

func (m *Menu) after(fn func()) func() {
	return func() {
		fn()
		m.Refresh()
	}
}

func (m *Menu) Refresh() {
	l := LabelsFor(m.ctl.Status())
	m.tray.SetItemTitle(m.record, l.Record)
	m.tray.SetItemTitle(m.pause, l.Pause)
	m.tray.SetItemTitle(m.hot, l.Hotkeys)
	m.tray.SetItemEnabled(m.play, l.CanPlay)
	m.tray.SetItemEnabled(m.pause, l.CanPause)
	m.tray.SetItemEnabled(m.stp, l.CanStop)
	m.tray.SetTooltip(l.Tooltip)
}
