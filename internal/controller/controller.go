// Package controller wires the engine together: the HAL, recording, playback,
// decision graphs, hotkeys, storage and the event bus. The CLI, the API and the
// tray all drive the engine through it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"automacro/internal/capture"
	"automacro/internal/config"
	"automacro/internal/decision"
	"automacro/internal/errs"
	"automacro/internal/events"
	"automacro/internal/hal"
	"automacro/internal/hotkey"
	"automacro/internal/logging"
	"automacro/internal/playback"
	"automacro/internal/script"
	"automacro/internal/store"
	"automacro/internal/vision"
)

// Deps are the collaborators a Controller needs. Templates and Bus are optional.
type Deps struct {
	Config    *config.Manager
	HAL       *hal.HAL
	Scripts   store.Repository
	Templates *store.Templates
	Bus       *events.Bus
	Logger    *logging.Logger
}

// Controller coordinates recording, playback and hotkeys
type Controller struct {
	cfg       *config.Manager
	hal       *hal.HAL
	scripts   store.Repository
	templates *store.Templates
	bus       *events.Bus
	logger    *logging.Logger

	recorder  *capture.Recorder
	scheduler *playback.Scheduler
	hotkeys   *hotkey.Manager

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	session   *capture.Session
	last      string
	unsaved   *script.Script // recording whose Save failed
	hotkeyIDs []hotkey.ID
	// playback keeps only these hotkeys live
	playbackKeys []hotkey.ID

	// Callbacks for UI notifications
	onChange func()
	onError  func(error)
}

// New creates a Controller. Nothing touches the platform until Start.
func New(d Deps) (*Controller, error) {
	if d.Config == nil || d.HAL == nil || d.Scripts == nil {
		return nil, errs.Invalid("controller needs config, hal and scripts")
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	cfg := d.Config.Get()
	c := &Controller{
		cfg:       d.Config,
		hal:       d.HAL,
		scripts:   d.Scripts,
		templates: d.Templates,
		bus:       d.Bus,
		logger:    d.Logger.Component("controller"),
		recorder:  capture.NewRecorder(d.HAL, d.Logger.Component("capture")),
		hotkeys:   hotkey.NewManager(d.Logger.Component("hotkey")),
	}
	c.scheduler = playback.NewScheduler(d.HAL,
		playback.WithLogger(d.Logger.Component("playback")),
		playback.WithLoopDelay(time.Duration(cfg.Engine.DefaultDelayMS)*time.Millisecond),
		playback.WithObserver(playbackObserver{c}),
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// SetOnChange sets a callback for any state change worth redrawing a UI for
func (c *Controller) SetOnChange(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = callback
}

// SetOnError sets the callback for errors raised outside a caller's request
func (c *Controller) SetOnError(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

func (c *Controller) changed() {
	c.mu.Lock()
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Controller) fail(err error) {
	c.logger.Error("background operation failed", "error", err)
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Controller) publish(t events.Type, payload any) {
	if c.bus != nil {
		c.bus.Publish(t, payload)
	}
}

// Start initializes the HAL and, unless withHotkeys is false, attaches the
// configured global hotkeys.
func (c *Controller) Start(ctx context.Context, withHotkeys bool) error {
	c.hal.Subscribe(hal.SubscriberFunc(func(from, to hal.State, err error) {
		p := events.StatePayload{From: from.String(), To: to.String()}
		if err != nil {
			p.Error = err.Error()
		}
		c.publish(events.HALState, p)
		go c.changed()
	}))

	cfg := c.cfg.Get()
	if err := c.hal.Initialize(ctx, cfg.HALOptions()); err != nil {
		return fmt.Errorf("initializing hal: %w", err)
	}
	c.logger.Info("engine started", "platform", c.hal.Platform())
	if !withHotkeys {
		return nil
	}
	return c.bindHotkeys(cfg.Hotkeys)
}

func (c *Controller) bindHotkeys(hk config.HotkeyConfig) error {
	bindings := []struct {
		name, combo string
		fn          func()
	}{
		{"record", hk.Record, c.ToggleRecording},
		{"play", hk.Play, c.PlayLast},
		{"pause", hk.Pause, c.TogglePause},
		{"stop", hk.Stop, c.StopAll},
	}
	for _, b := range bindings {
		if b.combo == "" {
			continue
		}
		name, combo, fn := b.name, b.combo, b.fn
		id, err := c.hotkeys.RegisterCombo(combo, func() {
			c.publish(events.HotkeyTriggered, events.HotkeyPayload{Name: name, Combo: combo})
			fn()
		})
		if err != nil {
			return fmt.Errorf("hotkey %s %q: %w", name, combo, err)
		}
		c.mu.Lock()
		c.hotkeyIDs = append(c.hotkeyIDs, id)
		if name == "stop" || name == "pause" {
			c.playbackKeys = append(c.playbackKeys, id)
		}
		c.mu.Unlock()
	}
	if err := c.hotkeys.Attach(c.hal.GlobalHotkeys()); err != nil {
		return fmt.Errorf("attaching hotkeys: %w", err)
	}
	return nil
}

// Close stops whatever is running and releases the platform.
func (c *Controller) Close() error {
	c.cancel()
	if h := c.scheduler.Current(); h != nil && h.State().Active() {
		h.Stop()
		<-h.Done()
	}
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		if _, err := c.recorder.StopRecording(s); err != nil {
			c.logger.Warn("discarding recording on shutdown", "error", err)
		}
	}
	c.recorder.StopAll()
	if err := c.hotkeys.Detach(); err != nil {
		c.logger.Warn("detaching hotkeys", "error", err)
	}
	return c.hal.Shutdown()
}

func (c *Controller) HAL() *hal.HAL                  { return c.hal }
func (c *Controller) Scripts() store.Repository      { return c.scripts }
func (c *Controller) Templates() *store.Templates    { return c.templates }
func (c *Controller) Hotkeys() *hotkey.Manager       { return c.hotkeys }
func (c *Controller) Scheduler() *playback.Scheduler { return c.scheduler }

// Status is a snapshot for the API, tray and CLI. HotkeysGuarded is set while a
// playback limits hotkeys to stop and pause.
type Status struct {
	HAL            string        `json:"hal"`
	Platform       string        `json:"platform"`
	Recording      bool          `json:"recording"`
	RecordingID    string        `json:"recording_id,omitempty"`
	RecordedSoFar  int           `json:"recorded_so_far,omitempty"`
	Playback       string        `json:"playback"`
	PlaybackID     string        `json:"playback_id,omitempty"`
	ScriptID       string        `json:"script_id,omitempty"`
	LastScriptID   string        `json:"last_script_id,omitempty"`
	Hotkeys        []hotkey.Info `json:"hotkeys"`
	HotkeysPaused  bool          `json:"hotkeys_paused"`
	HotkeysGuarded bool          `json:"hotkeys_guarded"`
	UnsavedScript  string        `json:"unsaved_script,omitempty"`
	DroppedEvents  uint64        `json:"dropped_events"`
}

func (c *Controller) Status() Status {
	st := Status{
		HAL:            c.hal.State().String(),
		Platform:       c.hal.Platform(),
		Playback:       c.scheduler.State().String(),
		Hotkeys:        c.hotkeys.Bindings(),
		HotkeysPaused:  c.hotkeys.Suspended(),
		HotkeysGuarded: c.hotkeys.Guarded(),
	}
	if h := c.scheduler.Current(); h != nil {
		st.PlaybackID, st.ScriptID = h.ID, h.Script.ID
	}
	c.mu.Lock()
	if c.session != nil {
		st.Recording = true
		st.RecordingID = c.session.ID()
		st.RecordedSoFar = c.session.Len()
	}
	st.LastScriptID = c.last
	if c.unsaved != nil {
		st.UnsavedScript = c.unsaved.ID
	}
	c.mu.Unlock()
	if c.bus != nil {
		st.DroppedEvents = c.bus.Dropped()
	}
	return st
}

// Health runs the HAL health check and publishes the report.
func (c *Controller) Health(ctx context.Context, timeout time.Duration) hal.HealthCheckResult {
	res := c.hal.HealthCheck(ctx, hal.HealthOptions{Timeout: timeout})
	c.publish(events.HALHealth, events.HealthFrom(res))
	return res
}

// StartRecording begins capturing keyboard and mouse input per the capture
// section. Only one recording runs at a time.
func (c *Controller) StartRecording(name string) (*capture.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, errs.Conflict("recording %s already running", c.session.ID())
	}
	if name == "" {
		name = "recording " + time.Now().Format("2006-01-02 15:04:05")
	}
	cfg := c.cfg.Get().Capture
	opts := capture.Options{
		Name:                 name,
		Keyboard:             cfg.Keyboard,
		Mouse:                cfg.Mouse,
		QueueSize:            cfg.QueueSize,
		MouseMoveMinInterval: time.Duration(cfg.MouseMoveMinIntervalMS) * time.Millisecond,
	}
	if cfg.IgnoreHotkeys {
		opts.IgnoreKey = c.hotkeys.IsTrigger
	}
	var sessionID atomic.Pointer[string]
	opts.OnAction = func(a script.Action) {
		p := events.ActionPayload{Action: a}
		if id := sessionID.Load(); id != nil {
			p.SessionID = *id
		}
		c.publish(events.ActionRecorded, p)
	}
	s, err := c.recorder.StartRecording(opts)
	if err != nil {
		return nil, err
	}
	id := s.ID()
	sessionID.Store(&id)
	c.session = s
	c.logger.Info("recording started", "session", s.ID(), "name", name, "devices", s.Devices().String())
	c.publish(events.RecordingStarted, events.RecordingPayload{SessionID: s.ID(), Name: name})
	go c.changed()
	return s, nil
}

// StopRecording ends the current recording and saves it.
func (c *Controller) StopRecording(ctx context.Context) (*script.Script, error) {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: no recording in progress", errs.ErrNotFound)
	}
	sc, err := c.recorder.StopRecording(s)
	if err != nil {
		return nil, err
	}
	if err := c.scripts.Save(ctx, sc); err != nil {
		c.mu.Lock()
		c.unsaved = sc
		c.mu.Unlock()
		c.logger.Warn("recording kept in memory", "script", sc.ID, "actions", len(sc.Actions), "error", err)
		go c.changed()
		return sc, fmt.Errorf("saving recording %s: %w", sc.ID, err)
	}
	c.mu.Lock()
	c.last = sc.ID
	c.mu.Unlock()
	c.logger.Info("recording saved", "script", sc.ID, "actions", len(sc.Actions), "dropped", s.Dropped())
	c.publish(events.RecordingStopped, events.RecordingPayload{
		SessionID: s.ID(), Name: sc.Name, ScriptID: sc.ID, Actions: len(sc.Actions), Dropped: uint64(s.Dropped()),
	})
	go c.changed()
	return sc, nil
}

// SaveUnsaved retries the Save of a recording that StopRecording could not
// persist.
func (c *Controller) SaveUnsaved(ctx context.Context) (*script.Script, error) {
	c.mu.Lock()
	sc := c.unsaved
	c.mu.Unlock()
	if sc == nil {
		return nil, fmt.Errorf("%w: no unsaved recording", errs.ErrNotFound)
	}
	if err := c.scripts.Save(ctx, sc); err != nil {
		return sc, fmt.Errorf("saving recording %s: %w", sc.ID, err)
	}
	c.mu.Lock()
	if c.unsaved == sc {
		c.unsaved = nil
	}
	c.last = sc.ID
	c.mu.Unlock()
	c.logger.Info("recording saved", "script", sc.ID, "actions", len(sc.Actions))
	go c.changed()
	return sc, nil
}

// PlayRequest tunes one playback. Zero values fall back to the script and the
// playback section.
type PlayRequest struct {
	Speed  float64
	Repeat int
	Loop   *bool
	// Graph is a decision graph file consulted after every action.
	Graph string
}

// Play loads a stored script and starts replaying it. The playback outlives
// ctx; it ends on completion, Stop, or Close.
func (c *Controller) Play(ctx context.Context, id string, req PlayRequest) (*playback.Handle, error) {
	sc, err := c.scripts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg := c.cfg.Get().Playback
	opts := playback.PlayOptions{
		Speed:        req.Speed,
		Repeat:       req.Repeat,
		Loop:         req.Loop,
		AbortOnError: cfg.AbortOnError,
		WakeDisplay:  cfg.WakeDisplay,
	}
	if opts.Speed == 0 {
		opts.Speed = cfg.DefaultSpeed
	}
	if req.Graph != "" {
		engine, err := c.decisionEngine(ctx, req.Graph)
		if err != nil {
			return nil, err
		}
		opts.Advisor = engine
	}
	// Injected keys reach the global listener too; only stop and pause may
	// fire until the playback ends.
	c.mu.Lock()
	keep := slices.Clone(c.playbackKeys)
	c.mu.Unlock()
	release := c.hotkeys.Guard(keep...)
	h, err := c.scheduler.Play(c.ctx, sc, opts)
	if err != nil {
		release()
		return nil, err
	}
	c.mu.Lock()
	c.last = sc.ID
	c.mu.Unlock()
	go func() {
		<-h.Done()
		release()
		c.changed()
		c.recordRun(h)
	}()
	return h, nil
}

// SuspendHotkeys turns every global hotkey off until ResumeHotkeys.
func (c *Controller) SuspendHotkeys() {
	c.hotkeys.SuspendAll()
	c.logger.Info("hotkeys suspended")
	go c.changed()
}

func (c *Controller) ResumeHotkeys() {
	c.hotkeys.ResumeAll()
	c.logger.Info("hotkeys resumed")
	go c.changed()
}

// ToggleHotkeys flips between SuspendHotkeys and ResumeHotkeys.
func (c *Controller) ToggleHotkeys() {
	if c.hotkeys.Suspended() {
		c.ResumeHotkeys()
	} else {
		c.SuspendHotkeys()
	}
}

func (c *Controller) recordRun(h *playback.Handle) {
	rec, ok := c.scripts.(store.RunRecorder)
	if !ok {
		return
	}
	res := h.Result()
	run := store.Run{
		ID:         h.ID,
		ScriptID:   h.Script.ID,
		State:      res.State.String(),
		Executed:   res.Executed,
		Failed:     res.Failed,
		Iterations: res.Iterations,
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.RecordRun(ctx, run); err != nil && !errors.Is(err, errs.ErrNotFound) {
		c.logger.Warn("recording playback history failed", "playback", h.ID, "error", err)
	}
}

func (c *Controller) Pause() error  { return c.scheduler.Pause() }
func (c *Controller) Resume() error { return c.scheduler.Resume() }
func (c *Controller) Stop() error   { return c.scheduler.Stop() }

// FindImage looks for a stored template once.
func (c *Controller) FindImage(ctx context.Context, templateID string, threshold float64) (vision.MatchResult, error) {
	if c.templates == nil {
		return vision.MatchResult{}, fmt.Errorf("%w: no template store", errs.ErrNotFound)
	}
	tpl, err := c.templates.Load(ctx, templateID)
	if err != nil {
		return vision.MatchResult{}, err
	}
	if threshold <= 0 {
		threshold = tpl.Threshold
	}
	if threshold <= 0 {
		threshold = c.cfg.Get().Recognition.DefaultThreshold
	}
	return c.hal.ImageRecognition().FindImage(ctx, tpl, threshold, nil)
}

// WaitForImage polls for a stored template using the recognition section's
// poll interval.
func (c *Controller) WaitForImage(ctx context.Context, templateID string, timeout time.Duration) (*vision.MatchResult, error) {
	if c.templates == nil {
		return nil, fmt.Errorf("%w: no template store", errs.ErrNotFound)
	}
	tpl, err := c.templates.Load(ctx, templateID)
	if err != nil {
		return nil, err
	}
	cfg := c.cfg.Get()
	if timeout <= 0 {
		timeout = cfg.RecognitionTimeout()
	}
	threshold := tpl.Threshold
	if threshold <= 0 {
		threshold = cfg.Recognition.DefaultThreshold
	}
	return c.hal.ImageRecognition().WaitForImage(ctx, tpl, timeout, threshold, cfg.PollInterval(), nil)
}

func (c *Controller) decisionEngine(ctx context.Context, path string) (*decision.Engine, error) {
	prog, err := decision.LoadGraph(path)
	if err != nil {
		return nil, err
	}
	refs := prog.Templates()
	templates := map[string]*vision.Template{}
	if len(refs) > 0 {
		if c.templates == nil {
			return nil, fmt.Errorf("%w: graph %q needs templates but no template store is configured", errs.ErrNotFound, prog.Name())
		}
		ids := make([]string, len(refs))
		for i, r := range refs {
			ids[i] = r.ID
		}
		if templates, err = c.templates.LoadAll(ctx, ids); err != nil {
			return nil, err
		}
	}
	cfg := c.cfg.Get()
	engine, err := decision.NewEngine(prog, c.hal.ImageRecognition(), templates,
		decision.WithLogger(c.logger.Component("decision")),
		decision.WithPerceptionTimeout(cfg.RecognitionTimeout()),
		decision.WithExecutor(playback.Executor{Device: c.hal, Speed: 1}),
	)
	if err != nil {
		return nil, err
	}
	engine.Subscribe(func(ev decision.Event) {
		p := events.DecisionPayload{Graph: prog.Name(), Tick: ev.Tick, From: ev.From, To: ev.To, Rule: ev.Rule, Action: ev.Action}
		if ev.Transitioned() {
			c.publish(events.DecisionTransition, p)
		}
		if ev.Action != "" {
			c.publish(events.DecisionAction, p)
		}
	})
	return engine, nil
}

// Watch runs a decision graph on its own until a final state or ctx ends.
func (c *Controller) Watch(ctx context.Context, path string, interval time.Duration) error {
	engine, err := c.decisionEngine(ctx, path)
	if err != nil {
		return err
	}
	release, err := c.hal.Acquire("decision")
	if err != nil {
		return err
	}
	defer release()
	if interval <= 0 {
		interval = time.Duration(c.cfg.Get().Engine.DefaultDelayMS) * time.Millisecond
	}
	c.logger.Info("watching", "graph", engine.Program().Name(), "interval", interval)
	err = engine.Run(ctx, interval)
	c.logger.Info("watch ended", "graph", engine.Program().Name(), "state", engine.Current().ID, "error", err)
	return err
}

// ToggleRecording starts a recording, or stops and saves the current one.
func (c *Controller) ToggleRecording() {
	c.mu.Lock()
	recording := c.session != nil
	c.mu.Unlock()
	if recording {
		if _, err := c.StopRecording(c.ctx); err != nil {
			c.fail(err)
		}
		return
	}
	if _, err := c.StartRecording(""); err != nil {
		c.fail(err)
	}
}

// PlayLast replays the last recorded or played script, falling back to the
// most recently updated one.
func (c *Controller) PlayLast() {
	c.mu.Lock()
	id := c.last
	c.mu.Unlock()
	if id == "" {
		list, err := c.scripts.List(c.ctx)
		if err != nil {
			c.fail(err)
			return
		}
		if len(list) == 0 {
			c.fail(fmt.Errorf("%w: no scripts to play", errs.ErrNotFound))
			return
		}
		id = list[0].ID
	}
	if _, err := c.Play(c.ctx, id, PlayRequest{}); err != nil {
		c.fail(err)
	}
}

func (c *Controller) TogglePause() {
	var err error
	switch c.scheduler.State() {
	case playback.Playing:
		err = c.Pause()
	case playback.Paused:
		err = c.Resume()
	default:
		return
	}
	if err != nil {
		c.fail(err)
	}
}

// StopAll stops playback and any recording.
func (c *Controller) StopAll() {
	if c.scheduler.State().Active() {
		if err := c.Stop(); err != nil {
			c.fail(err)
		}
	}
	c.mu.Lock()
	recording := c.session != nil
	c.mu.Unlock()
	if recording {
		if _, err := c.StopRecording(c.ctx); err != nil {
			c.fail(err)
		}
	}
}
