// Package events fans namespace change notifications out to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/fruitsalade/lfs/internal/metrics"
)

// Op is the kind of namespace mutation an event reports.
type Op string

const (
	OpMkdir    Op = "mkdir"
	OpMknod    Op = "mknod"
	OpRmdir    Op = "rmdir"
	OpUnlink   Op = "unlink"
	OpWrite    Op = "write"
	OpTruncate Op = "truncate"
	OpUtime    Op = "utime"
)

// Event describes one successful mutation.
type Event struct {
	Op        Op
	Path      string
	Size      int64
	Timestamp time.Time
}

// Broadcaster manages subscribers and publishes events to them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a subscriber with a buffer of size events.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(size int) chan Event {
	if size <= 0 {
		size = 64
	}
	ch := make(chan Event, size)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
}

// Publish sends an event to all subscribers. It never blocks: a
// subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.RecordEventDropped()
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
