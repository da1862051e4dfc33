package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pscheid92/tabconsole/internal/credential"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/observable"
	"github.com/pscheid92/tabconsole/internal/overlay"
	"github.com/pscheid92/tabconsole/internal/querycache"
	"github.com/pscheid92/tabconsole/internal/session"
	"github.com/pscheid92/tabconsole/internal/toaster"
)

type EventType string

const (
	EventRedirect EventType = "redirect"
	EventReload   EventType = "reload"
	EventModal    EventType = "modal"
	EventToasts   EventType = "toasts"
)

// Event is pushed to the browser tab over its event stream.
type Event struct {
	Type   EventType                     `json:"type"`
	Route  string                        `json:"route,omitempty"`
	Modal  *overlay.Slot[overlay.Dialog] `json:"modal,omitempty"`
	Toasts []domain.Notification         `json:"toasts,omitempty"`
}

// Navigation is the last navigation the session layer asked for. Hard means a full reload.
type Navigation struct {
	Route string `json:"route"`
	Hard  bool   `json:"hard"`
}

// Tab is the context of one browser tab. Nothing in it is shared with another tab.
type Tab struct {
	ID      string
	Store   *credential.Store
	Session *session.Coordinator
	Modal   *overlay.Bus[overlay.Dialog]
	Toasts  *toaster.Channel
	Cache   *querycache.Cache

	events   *observable.Subject[Event]
	lastSeen atomic.Int64
	leases   int // guarded by Registry.mu

	navMu      sync.Mutex
	navigation *Navigation

	unsubscribe []func()
}

var _ domain.Navigator = (*Tab)(nil)

// Redirect records a soft navigation and pushes it to the tab.
func (t *Tab) Redirect(_ context.Context, route string) {
	t.navigate(Navigation{Route: route})
	t.events.Publish(Event{Type: EventRedirect, Route: route})
}

// HardNavigate records a full reload and pushes it to the tab.
func (t *Tab) HardNavigate(_ context.Context, route string) {
	t.navigate(Navigation{Route: route, Hard: true})
	t.events.Publish(Event{Type: EventReload, Route: route})
}

func (t *Tab) navigate(n Navigation) {
	t.navMu.Lock()
	t.navigation = &n
	t.navMu.Unlock()
}

// TakeNavigation returns and clears the pending navigation, so an HTTP response can carry it.
func (t *Tab) TakeNavigation() (Navigation, bool) {
	t.navMu.Lock()
	defer t.navMu.Unlock()

	if t.navigation == nil {
		return Navigation{}, false
	}
	n := *t.navigation
	t.navigation = nil
	return n, true
}

// Subscribe streams tab events. Modal and toast changes are forwarded as they happen.
func (t *Tab) Subscribe(fn func(Event)) (unsubscribe func()) {
	return t.events.Subscribe(fn)
}

// Snapshot returns the current modal and toast state, for a freshly connected stream.
func (t *Tab) Snapshot() []Event {
	slot := t.Modal.Current()
	return []Event{
		{Type: EventModal, Modal: &slot},
		{Type: EventToasts, Toasts: t.Toasts.Entries()},
	}
}

func (t *Tab) touch(now time.Time) {
	t.lastSeen.Store(now.UnixNano())
}

func (t *Tab) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, t.lastSeen.Load()))
}

func (t *Tab) forward() {
	t.unsubscribe = append(t.unsubscribe,
		t.Modal.Subscribe(func(slot overlay.Slot[overlay.Dialog]) {
			t.events.Publish(Event{Type: EventModal, Modal: &slot})
		}),
		t.Toasts.Subscribe(func(entries []domain.Notification) {
			t.events.Publish(Event{Type: EventToasts, Toasts: entries})
		}),
	)
}

func (t *Tab) close() {
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}
	t.Session.Close()
	t.Toasts.Stop()
}
