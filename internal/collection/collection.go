// Package collection holds an ordered list of generated items together with
// the items the user rejected. It is the shared state behind every board
// (concepts, artifacts, parameters, designs, mockups, canvas images).
package collection

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("item not found")

// Entry is one item on a board.
type Entry[T any] struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
	Value  T      `json:"value"`
}

// Snapshot is a point-in-time copy of a collection.
type Snapshot[T any] struct {
	Items    []Entry[T] `json:"items"`
	Rejected []Entry[T] `json:"rejected"`
}

// Collection is an append-ordered, mutex-guarded list of entries plus the
// rejected list. Rejected entries keep the full value and their id, so a
// rejection can be dropped (Revert) or undone (Restore) without loss.
type Collection[T any] struct {
	mu       sync.Mutex
	name     func(T) string
	items    []Entry[T]
	rejected []Entry[T]

	subMu   sync.Mutex
	subs    map[int]chan Snapshot[T]
	nextSub int
	hooks   []func()
}

// New returns an empty collection. name extracts the display name used in
// prompts ("existing" and "rejected" lists).
func New[T any](name func(T) string) *Collection[T] {
	return &Collection[T]{
		name: name,
		subs: make(map[int]chan Snapshot[T]),
	}
}

// Append adds v to the end of the collection with a fresh id.
func (c *Collection[T]) Append(v T) Entry[T] {
	e := Entry[T]{ID: uuid.NewString(), Value: v}
	c.mutate(func() error {
		c.items = append(c.items, e)
		return nil
	})
	return e
}

// AppendPinned adds a user-authored v that generate-more sweeps must keep.
func (c *Collection[T]) AppendPinned(v T) Entry[T] {
	e := Entry[T]{ID: uuid.NewString(), Pinned: true, Value: v}
	c.mutate(func() error {
		c.items = append(c.items, e)
		return nil
	})
	return e
}

// Edit applies fn to the value of entry id.
func (c *Collection[T]) Edit(id string, fn func(*T)) (Entry[T], error) {
	var out Entry[T]
	err := c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		fn(&c.items[i].Value)
		out = c.items[i]
		return nil
	})
	return out, err
}

// Pin sets the pinned flag of entry id.
func (c *Collection[T]) Pin(id string, pinned bool) error {
	return c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		c.items[i].Pinned = pinned
		return nil
	})
}

// TogglePin flips the pinned flag of entry id and returns the new state.
func (c *Collection[T]) TogglePin(id string) (bool, error) {
	var pinned bool
	err := c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		c.items[i].Pinned = !c.items[i].Pinned
		pinned = c.items[i].Pinned
		return nil
	})
	return pinned, err
}

// Reject moves entry id from the items to the rejected list.
func (c *Collection[T]) Reject(id string) error {
	return c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		e := c.items[i]
		c.items = slices.Delete(c.items, i, i+1)
		c.rejected = append(c.rejected, e)
		return nil
	})
}

// RejectUnpinned moves every unpinned entry to the rejected list, keeping
// the relative order of both lists. It returns the number of entries moved;
// a second call in a row moves none.
func (c *Collection[T]) RejectUnpinned() int {
	var moved int
	c.mutate(func() error {
		kept := c.items[:0:0]
		for _, e := range c.items {
			if e.Pinned {
				kept = append(kept, e)
				continue
			}
			c.rejected = append(c.rejected, e)
			moved++
		}
		c.items = kept
		return nil
	})
	return moved
}

// Revert forgets the rejection of entry id without bringing it back. The
// name stops being excluded from future generations.
func (c *Collection[T]) Revert(id string) error {
	return c.mutate(func() error {
		i := indexOf(c.rejected, id)
		if i < 0 {
			return ErrNotFound
		}
		c.rejected = slices.Delete(c.rejected, i, i+1)
		return nil
	})
}

// Restore removes entry id from the rejected list and appends the exact
// same entry back to the items.
func (c *Collection[T]) Restore(id string) (Entry[T], error) {
	var out Entry[T]
	err := c.mutate(func() error {
		i := indexOf(c.rejected, id)
		if i < 0 {
			return ErrNotFound
		}
		out = c.rejected[i]
		c.rejected = slices.Delete(c.rejected, i, i+1)
		c.items = append(c.items, out)
		return nil
	})
	return out, err
}

// ClearRejected forgets every rejection and returns how many were dropped.
func (c *Collection[T]) ClearRejected() int {
	var n int
	c.mutate(func() error {
		n = len(c.rejected)
		c.rejected = nil
		return nil
	})
	return n
}

// Remove deletes entry id without recording a rejection.
func (c *Collection[T]) Remove(id string) error {
	return c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		c.items = slices.Delete(c.items, i, i+1)
		return nil
	})
}

// MoveToEnd moves entry id to the end of the items.
func (c *Collection[T]) MoveToEnd(id string) error {
	return c.mutate(func() error {
		i := indexOf(c.items, id)
		if i < 0 {
			return ErrNotFound
		}
		e := c.items[i]
		c.items = append(slices.Delete(c.items, i, i+1), e)
		return nil
	})
}

// Get returns entry id from the items.
func (c *Collection[T]) Get(id string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.items, id)
	if i < 0 {
		return Entry[T]{}, false
	}
	return c.items[i], true
}

// Items returns a copy of the current entries in order.
func (c *Collection[T]) Items() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry[T]{}, c.items...)
}

// Values returns the values of the current entries in order.
func (c *Collection[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	for i, e := range c.items {
		out[i] = e.Value
	}
	return out
}

// Rejected returns a copy of the rejected entries in rejection order.
func (c *Collection[T]) Rejected() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry[T]{}, c.rejected...)
}

// Len returns the number of current entries.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Names returns the display names of the current entries.
func (c *Collection[T]) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return names(c.items, c.name)
}

// RejectedNames returns the display names of the rejected entries.
func (c *Collection[T]) RejectedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return names(c.rejected, c.name)
}

// Snapshot returns a copy of both lists.
func (c *Collection[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Load replaces the contents with snap.
func (c *Collection[T]) Load(snap Snapshot[T]) {
	c.mutate(func() error {
		c.items = slices.Clone(snap.Items)
		c.rejected = slices.Clone(snap.Rejected)
		return nil
	})
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow readers only see the latest snapshot. Call cancel to unsubscribe.
func (c *Collection[T]) Subscribe() (<-chan Snapshot[T], func()) {
	ch := make(chan Snapshot[T], 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// OnChange registers fn to run after every successful change.
func (c *Collection[T]) OnChange(fn func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Collection[T]) mutate(fn func() error) error {
	c.mu.Lock()
	if err := fn(); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	// Taking subMu before releasing mu keeps deliveries in mutation order.
	c.subMu.Lock()
	c.mu.Unlock()

	hooks := c.publishLocked(snap)
	c.subMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (c *Collection[T]) publishLocked(snap Snapshot[T]) []func() {
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return slices.Clone(c.hooks)
}

func (c *Collection[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Items:    append([]Entry[T]{}, c.items...),
		Rejected: append([]Entry[T]{}, c.rejected...),
	}
}

func indexOf[T any](entries []Entry[T], id string) int {
	return slices.IndexFunc(entries, func(e Entry[T]) bool { return e.ID == id })
}

func names[T any](entries []Entry[T], name func(T) string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, name(e.Value))
	}
	return out
}
