// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Callback func()
	item     *systray.MenuItem
}

// Tray manages the system tray icon and menu
type Tray struct {
	mu      sync.Mutex
	title   string
	tooltip string
	items   []*MenuItem
	ready   bool
	quitCh  chan struct{}
	onExit  func()
}

// New creates a new system tray. onExit runs after the tray loop ends.
func New(title, tooltip string, onExit func()) *Tray {
	return &Tray{
		title:   title,
		tooltip: tooltip,
		quitCh:  make(chan struct{}),
		onExit:  onExit,
	}
}

// AddMenuItem adds a menu item to the tray. Items must be added before Run.
func (t *Tray) AddMenuItem(title string, callback func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := len(t.items)
	t.items = append(t.items, &MenuItem{ID: id, Title: title, Callback: callback})
	return id
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	t.items = append(t.items, nil)
	t.mu.Unlock()
}

// SetItemTitle renames an item. Before Run it only changes the initial title.
func (t *Tray) SetItemTitle(id int, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		mi.Title = title
		if mi.item != nil {
			mi.item.SetTitle(title)
		}
	}
}

// SetItemEnabled greys an item out or back in.
func (t *Tray) SetItemEnabled(id int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil && mi.item != nil {
		if enabled {
			mi.item.Enable()
		} else {
			mi.item.Disable()
		}
	}
}

// SetTooltip updates the hover text.
func (t *Tray) SetTooltip(tooltip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tooltip = tooltip
	if t.ready {
		systray.SetTooltip(tooltip)
	}
}

func (t *Tray) lookup(id int) *MenuItem {
	if id < 0 || id >= len(t.items) {
		return nil
	}
	return t.items[id]
}

// Run starts the tray event loop. It blocks and must run on the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.setupMenu, t.exit)
}

func (t *Tray) setupMenu() {
	t.mu.Lock()
	defer t.mu.Unlock()

	systray.SetTitle(t.title)
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(icon())

	for _, mi := range t.items {
		if mi == nil {
			systray.AddSeparator()
			continue
		}
		mi.item = systray.AddMenuItem(mi.Title, "")
		if mi.Callback != nil {
			go t.clicks(mi)
		}
	}
	t.ready = true
}

func (t *Tray) clicks(mi *MenuItem) {
	for {
		select {
		case <-mi.item.ClickedCh:
			mi.Callback()
		case <-t.quitCh:
			return
		}
	}
}

func (t *Tray) exit() {
	close(t.quitCh)
	if t.onExit != nil {
		t.onExit()
	}
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}
