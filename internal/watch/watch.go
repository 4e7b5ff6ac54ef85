// Package watch defines the filesystem change feed consumed by the intake
// dispatcher, along with an fsnotify-backed implementation and an in-memory
// one.
package watch

import (
	"errors"
	"path/filepath"
	"sync"
)

var ErrClosed = errors.New("watch: source closed")

type Op int

const (
	OpCreate Op = iota + 1
	OpWrite
	OpCloseWrite
	OpMovedTo
	OpRemove
	OpRename
	OpChmod
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpCloseWrite:
		return "CLOSE_WRITE"
	case OpMovedTo:
		return "MOVED_TO"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Settled reports whether the op means a file's content is complete: a
// finished write or a file moved into place.
func (o Op) Settled() bool {
	return o == OpCloseWrite || o == OpMovedTo
}

// Event is one change notification: Name changed inside directory Dir.
type Event struct {
	Op   Op
	Dir  string
	Name string
}

func (e Event) Path() string {
	return filepath.Join(e.Dir, e.Name)
}

// Source yields change notifications for a watched tree. The Events channel
// is closed once the source stops.
type Source interface {
	Events() <-chan Event
	Close() error
}

// Chan is an in-memory Source fed through Send.
type Chan struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewChan(buffer int) *Chan {
	return &Chan{ch: make(chan Event, buffer), done: make(chan struct{})}
}

func (c *Chan) Events() <-chan Event {
	return c.ch
}

// Send queues e, blocking while the buffer is full. A Send blocked when the
// Chan is closed returns ErrClosed.
func (c *Chan) Send(e Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- e:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Chan) Close() error {
	// wake blocked senders before waiting for them to release the lock
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
