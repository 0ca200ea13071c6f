// Package events fans job and printer events out to live subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/orrn/printapp/internal/core"
)

const defaultBuffer = 64

// Filter selects the events a subscriber receives. Zero values match all.
type Filter struct {
	Printer string
	Types   []core.EventType
}

func (f Filter) Match(ev core.Event) bool {
	if f.Printer != "" && f.Printer != ev.Printer {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Broker is a core.Notifier that delivers each event to every matching
// subscriber. A subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	log    *slog.Logger
}

func NewBroker(buffer int, log *slog.Logger) *Broker {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{subs: make(map[int]*subscriber), buffer: buffer, log: log}
}

func (b *Broker) Notify(ev core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, s := range b.subs {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.log.Warn("event dropped for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(f Filter) (<-chan core.Event, func()) {
	s := &subscriber{ch: make(chan core.Event, b.buffer), filter: f}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
