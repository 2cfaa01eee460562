// Package tray shows the duocam session state and alerts in the system tray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/duocam/internal/session"
)

// Tray is the system tray presentation of one session. It implements
// session.Alerter and can be subscribed as a session.Observer.
type Tray struct {
	onRestart func()
	onPreview func()
	onQuit    func()

	mu        sync.RWMutex
	state     session.State
	lastAlert *session.Alert

	// Menu items stored for later updates
	menuState   *systray.MenuItem
	menuAlert   *systray.MenuItem
	menuRestart *systray.MenuItem
}

// New creates a tray showing an uninitialized session.
func New() *Tray {
	return &Tray{state: session.Uninitialized}
}

// OnRestart sets the callback for the "Restart session" item.
func (t *Tray) OnRestart(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestart = fn
}

// OnPreview sets the callback for the "Open preview" item.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback for the "Quit" item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray. It blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("duocam")
	systray.SetTooltip("duocam dual camera overlay")

	t.mu.Lock()
	t.menuState = systray.AddMenuItem(stateTitle(t.state), "Session state")
	t.menuState.Disable()
	t.menuAlert = systray.AddMenuItem(alertTitle(t.lastAlert), "Last alert")
	t.menuAlert.Disable()
	systray.AddSeparator()
	t.menuRestart = systray.AddMenuItem("Restart session", "Tear down and configure both cameras again")
	t.mu.Unlock()

	menuPreview := systray.AddMenuItem("Open preview...", "Open the preview in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit duocam")

	go func() {
		for {
			select {
			case <-t.menuRestart.ClickedCh:
				t.call(func() func() { return t.onRestart })
			case <-menuPreview.ClickedCh:
				t.call(func() func() { return t.onPreview })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// call runs the callback chosen by get outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	fn := get()
	t.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

// Observe updates the state item. It satisfies session.Observer.
func (t *Tray) Observe(tr session.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = tr.To
	if t.menuState != nil {
		t.menuState.SetTitle(stateTitle(tr.To))
	}
}

// Alert shows a in the last-alert item. It satisfies session.Alerter.
func (t *Tray) Alert(a session.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastAlert = &a
	if t.menuAlert != nil {
		t.menuAlert.SetTitle(alertTitle(&a))
		t.menuAlert.SetTooltip(a.Message)
	}
}

// State returns the last observed session state.
func (t *Tray) State() session.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// LastAlert returns the most recent alert, if any.
func (t *Tray) LastAlert() (session.Alert, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastAlert == nil {
		return session.Alert{}, false
	}
	return *t.lastAlert, true
}

func stateTitle(s session.State) string {
	switch s {
	case session.Running:
		return "● Running"
	case session.Interrupted:
		return "◐ Interrupted"
	case session.Failed:
		return "✕ Failed"
	default:
		return "○ " + s.String()
	}
}

func alertTitle(a *session.Alert) string {
	if a == nil {
		return "Last alert: none"
	}
	title := "Last alert: " + a.Title
	if a.OpenSettings {
		title += " (check camera privacy settings)"
	}
	return title
}
