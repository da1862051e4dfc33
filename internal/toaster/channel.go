// Package toaster implements the notification queue: newest first, every entry expiring on its own timer.
package toaster

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/observable"
)

const DefaultLifetime = 3000 * time.Millisecond

var (
	ErrInvalidKind = errors.New("invalid notification kind")
	ErrStopped     = errors.New("notification channel stopped")
)

type Channel struct {
	clock    clockwork.Clock
	lifetime time.Duration
	subject  *observable.Subject[[]domain.Notification]

	// publishMu is held from a queue change until its snapshot is delivered,
	// so subscribers never see an older queue after a newer one.
	publishMu sync.Mutex

	mu      sync.Mutex
	entries []domain.Notification
	timers  map[string]clockwork.Timer
	stopped bool
}

func NewChannel(clock clockwork.Clock) *Channel {
	return NewChannelWithLifetime(clock, DefaultLifetime)
}

func NewChannelWithLifetime(clock clockwork.Clock, lifetime time.Duration) *Channel {
	return &Channel{
		clock:    clock,
		lifetime: lifetime,
		subject:  observable.NewSubject[[]domain.Notification](),
		timers:   make(map[string]clockwork.Timer),
	}
}

// Publish puts n at the head of the queue under a fresh key and returns the key.
// ID and CreatedAt of n are overwritten.
func (c *Channel) Publish(n domain.Notification) (string, error) {
	if !n.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, n.Kind)
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return "", ErrStopped
	}

	n.ID = uuid.NewString()
	n.CreatedAt = c.clock.Now()
	c.entries = slices.Insert(c.entries, 0, n)

	id := n.ID
	c.timers[id] = c.clock.AfterFunc(c.lifetime, func() { c.expire(id) })
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.subject.Publish(snapshot)
	return id, nil
}

func (c *Channel) Success(title, message string) (string, error) {
	return c.Publish(domain.Notification{Title: title, Message: message, Kind: domain.NotificationSuccess})
}

func (c *Channel) Error(title, message string) (string, error) {
	return c.Publish(domain.Notification{Title: title, Message: message, Kind: domain.NotificationError})
}

// Dismiss removes one entry before its timer fires. Other entries keep their timers and positions.
func (c *Channel) Dismiss(id string) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	timer, ok := c.timers[id]
	if ok {
		timer.Stop()
	}
	removed := c.removeLocked(id)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if removed {
		c.subject.Publish(snapshot)
	}
	return removed
}

func (c *Channel) expire(id string) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	removed := c.removeLocked(id)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if removed {
		c.subject.Publish(snapshot)
	}
}

func (c *Channel) removeLocked(id string) bool {
	delete(c.timers, id)
	i := slices.IndexFunc(c.entries, func(n domain.Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	return true
}

func (c *Channel) snapshotLocked() []domain.Notification {
	return slices.Clone(c.entries)
}

// Entries returns the queue, newest first.
func (c *Channel) Entries() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe receives the full queue after every change, in the order the changes happened.
// fn must not publish or dismiss on the same channel.
func (c *Channel) Subscribe(fn func([]domain.Notification)) (unsubscribe func()) {
	return c.subject.Subscribe(fn)
}

// Stop cancels every pending timer. Entries stay where they are and Publish fails from now on.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
}
