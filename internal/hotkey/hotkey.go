// Package hotkey matches global key combinations against registered bindings.
//
// Key transitions come from the HAL's GlobalHotkeys service through Attach (or
// from UpdateState directly). A binding fires when its trigger key goes down
// while exactly its modifiers are held; callbacks run on their own goroutine.
package hotkey

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/script"
)

// ID identifies a registration. IDs are never reused.
type ID uint64

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type combo struct {
	mods script.Mod
	key  uint16
}

func (c combo) String() string {
	if c.mods == 0 {
		return script.KeyName(c.key)
	}
	return c.mods.String() + "+" + script.KeyName(c.key)
}

type binding struct {
	id       ID
	combo    combo
	callback func()
	active   bool
}

// Info describes a registration.
type Info struct {
	ID     ID     `json:"id"`
	Combo  string `json:"combo"`
	Active bool   `json:"active"`
}

type Manager struct {
	mu        sync.RWMutex
	next      ID
	bindings  map[ID]*binding
	byCombo   map[combo]ID
	suspended bool
	snapshot  map[ID]struct{}
	guard     map[ID]struct{}
	guardGen  int
	pressed   map[uint16]bool
	hook      hal.Hook
	logger    Logger
}

func NewManager(logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		bindings: make(map[ID]*binding),
		byCombo:  make(map[combo]ID),
		pressed:  make(map[uint16]bool),
		logger:   logger,
	}
}

// Register binds callback to key pressed with exactly mods held. Registering a
// combination that is already registered fails with ErrConflict.
func (m *Manager) Register(mods script.Mod, key uint16, callback func()) (ID, error) {
	if key == 0 {
		return 0, errs.Invalid("hotkey without trigger key")
	}
	if script.ModOf(key) != 0 {
		return 0, errs.Invalid("modifier %s cannot be a trigger key", script.KeyName(key))
	}
	if callback == nil {
		return 0, errs.Invalid("hotkey %s without callback", combo{mods, key})
	}
	c := combo{mods: mods, key: key}

	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, taken := m.byCombo[c]; taken {
		return 0, errs.Conflict("hotkey %s already registered as %d", c, owner)
	}
	m.next++
	b := &binding{id: m.next, combo: c, callback: callback, active: !m.suspended}
	m.bindings[b.id] = b
	m.byCombo[c] = b.id
	if m.suspended {
		m.snapshot[b.id] = struct{}{}
	}
	m.logger.Info("hotkey registered", "id", b.id, "combo", c.String())
	return b.id, nil
}

// RegisterCombo parses a combination like "Ctrl+Alt+F9" and registers it.
func (m *Manager) RegisterCombo(s string, callback func()) (ID, error) {
	mods, key, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return m.Register(mods, key, callback)
}

// Unregister removes a binding; its combination becomes free again.
func (m *Manager) Unregister(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return fmt.Errorf("%w: hotkey %d", errs.ErrNotFound, id)
	}
	delete(m.bindings, id)
	delete(m.byCombo, b.combo)
	delete(m.snapshot, id)
	m.logger.Info("hotkey unregistered", "id", id, "combo", b.combo.String())
	return nil
}

func (m *Manager) IsRegistered(id ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bindings[id]
	return ok
}

// SuspendAll deactivates every binding and remembers which were active.
// Suspending again while suspended is a no-op.
func (m *Manager) SuspendAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended {
		return
	}
	m.suspended = true
	m.snapshot = make(map[ID]struct{}, len(m.bindings))
	for id, b := range m.bindings {
		if b.active {
			m.snapshot[id] = struct{}{}
			b.active = false
		}
	}
}

// ResumeAll reactivates the bindings that were active at the last SuspendAll.
// Bindings registered while suspended join that set, so they come up with the
// rest. It is a no-op when not suspended.
func (m *Manager) ResumeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.suspended {
		return
	}
	for id := range m.snapshot {
		if b, ok := m.bindings[id]; ok {
			b.active = true
		}
	}
	m.suspended = false
	m.snapshot = nil
}

// Guard lets only the keep bindings fire until release is called. It is
// independent of SuspendAll: a guard neither resumes nor suspends anything. A
// newer guard replaces an older one, and releasing a replaced guard is a no-op.
func (m *Manager) Guard(keep ...ID) (release func()) {
	m.mu.Lock()
	m.guardGen++
	gen := m.guardGen
	m.guard = make(map[ID]struct{}, len(keep))
	for _, id := range keep {
		m.guard[id] = struct{}{}
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.guardGen == gen {
				m.guard = nil
			}
			m.mu.Unlock()
		})
	}
}

// Guarded reports whether a Guard is in force.
func (m *Manager) Guarded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guard != nil
}

func (m *Manager) Suspended() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspended
}

// Bindings lists registrations in ID order.
func (m *Manager) Bindings() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, Info{ID: b.id, Combo: b.combo.String(), Active: b.active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsTrigger reports whether code is the trigger key of any binding. Recorders
// use it to keep control hotkeys out of scripts.
func (m *Manager) IsTrigger(code uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.byCombo {
		if c.key == code {
			return true
		}
	}
	return false
}

// UpdateState feeds one key transition. Auto-repeat downs do not re-fire.
func (m *Manager) UpdateState(code uint16, down bool) {
	m.mu.Lock()
	if !down {
		delete(m.pressed, code)
		m.mu.Unlock()
		return
	}
	repeat := m.pressed[code]
	m.pressed[code] = true
	if repeat || script.ModOf(code) != 0 {
		m.mu.Unlock()
		return
	}
	var held script.Mod
	for k := range m.pressed {
		held |= script.ModOf(k)
	}
	var fire []*binding
	if id, ok := m.byCombo[combo{mods: held, key: code}]; ok {
		b := m.bindings[id]
		_, kept := m.guard[id]
		if b.active && (m.guard == nil || kept) {
			fire = append(fire, b)
		}
	}
	m.mu.Unlock()

	for _, b := range fire {
		m.logger.Info("hotkey triggered", "id", b.id, "combo", b.combo.String())
		go m.invoke(b)
	}
}

func (m *Manager) invoke(b *binding) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("hotkey callback panicked", "id", b.id, "combo", b.combo.String(), "panic", p)
		}
	}()
	b.callback()
}

// Attach starts receiving key transitions from src. A manager attaches to one
// source at a time.
func (m *Manager) Attach(src hal.GlobalHotkeys) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hook != nil {
		return errs.Conflict("hotkey manager already attached")
	}
	h, err := src.Watch(m.UpdateState)
	if err != nil {
		return fmt.Errorf("watching global hotkeys: %w", err)
	}
	m.hook = h
	return nil
}

func (m *Manager) Detach() error {
	m.mu.Lock()
	h := m.hook
	m.hook = nil
	clear(m.pressed)
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// Parse reads "Ctrl+Shift+A" style combinations. Exactly one non-modifier key is required.
func Parse(s string) (script.Mod, uint16, error) {
	var mods script.Mod
	var key uint16
	for _, part := range strings.Split(s, "+") {
		name := strings.TrimSpace(part)
		code, ok := script.KeyCode(name)
		if !ok {
			return 0, 0, errs.Invalid("hotkey %q: unknown key %q", s, name)
		}
		if mod := script.ModOf(code); mod != 0 {
			mods |= mod
			continue
		}
		if key != 0 {
			return 0, 0, errs.Invalid("hotkey %q: more than one trigger key", s)
		}
		key = code
	}
	if key == 0 {
		return 0, 0, errs.Invalid("hotkey %q: no trigger key", s)
	}
	return mods, key, nil
}
