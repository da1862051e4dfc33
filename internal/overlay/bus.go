// Package overlay implements the single-slot modal broadcast: at most one dialog is visible per tab.
package overlay

import (
	"sync"

	"github.com/pscheid92/tabconsole/internal/observable"
)

// Slot is the published overlay state. A hidden slot carries the zero Content.
type Slot[T any] struct {
	Content T    `json:"content"`
	Visible bool `json:"visible"`
}

// Bus owns one slot. Show replaces, it never queues or stacks.
type Bus[T any] struct {
	// publishMu spans a slot change and its delivery, so the last slot a subscriber sees is the current one.
	publishMu sync.Mutex

	mu      sync.Mutex
	slot    Slot[T]
	subject *observable.Subject[Slot[T]]
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subject: observable.NewSubject[Slot[T]]()}
}

func (b *Bus[T]) Show(content T) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	b.slot = Slot[T]{Content: content, Visible: true}
	slot := b.slot
	b.mu.Unlock()

	b.subject.Publish(slot)
}

// Hide clears the slot. Safe on an empty slot.
func (b *Bus[T]) Hide() {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	b.slot = Slot[T]{}
	b.mu.Unlock()

	b.subject.Publish(Slot[T]{})
}

// Take hides the slot and returns its content, but only if a visible content satisfies match.
func (b *Bus[T]) Take(match func(T) bool) (T, bool) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	if !b.slot.Visible || !match(b.slot.Content) {
		b.mu.Unlock()
		var zero T
		return zero, false
	}
	content := b.slot.Content
	b.slot = Slot[T]{}
	b.mu.Unlock()

	b.subject.Publish(Slot[T]{})
	return content, true
}

func (b *Bus[T]) Current() Slot[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// Subscribe receives every publish from now on, in order. The current slot is not replayed.
// fn may read Current but must not change the slot.
func (b *Bus[T]) Subscribe(fn func(Slot[T])) (unsubscribe func()) {
	return b.subject.Subscribe(fn)
}
