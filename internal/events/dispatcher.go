// Package events routes decoded realtime frames to listeners registered per
// topic, plus listeners on the Wildcard topic that see every frame.
package events

import (
	"fmt"
	"sync"

	"workspace-realtime/internal/logging"
)

// Listener is a registered callback. Registrations are keyed by the
// *Listener value, so adding the same listener to a topic twice keeps a
// single entry.
type Listener struct {
	fn func(Frame)
}

func NewListener(fn func(Frame)) *Listener {
	if fn == nil {
		panic("events.NewListener: callback must not be nil")
	}
	return &Listener{fn: fn}
}

type Dispatcher struct {
	logger *logging.Logger

	mu     sync.RWMutex
	topics map[string]map[*Listener]struct{}
}

func NewDispatcher(logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		topics: map[string]map[*Listener]struct{}{},
	}
}

// On registers l under topic and returns a func removing exactly that
// registration.
func (d *Dispatcher) On(topic string, l *Listener) func() {
	if l == nil {
		panic("events.Dispatcher.On: listener must not be nil")
	}
	d.mu.Lock()
	set, ok := d.topics[topic]
	if !ok {
		set = map[*Listener]struct{}{}
		d.topics[topic] = set
	}
	set[l] = struct{}{}
	d.mu.Unlock()
	return func() { d.Off(topic, l) }
}

// Subscribe wraps fn in a new Listener and registers it under topic.
func (d *Dispatcher) Subscribe(topic string, fn func(Frame)) (*Listener, func()) {
	l := NewListener(fn)
	return l, d.On(topic, l)
}

func (d *Dispatcher) Off(topic string, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.topics[topic]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(d.topics, topic)
	}
}

func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.topics = map[string]map[*Listener]struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) Len(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

// Dispatch delivers frame to the listeners of frame.Type and to the
// wildcard listeners. Delivery order is unspecified. Listeners run outside
// the registry lock and may subscribe or unsubscribe from the callback.
func (d *Dispatcher) Dispatch(frame Frame) {
	d.mu.RLock()
	targets := make([]*Listener, 0, len(d.topics[frame.Type])+len(d.topics[Wildcard]))
	for l := range d.topics[frame.Type] {
		targets = append(targets, l)
	}
	if frame.Type != Wildcard {
		for l := range d.topics[Wildcard] {
			targets = append(targets, l)
		}
	}
	d.mu.RUnlock()

	for _, l := range targets {
		d.invoke(l, frame)
	}
}

func (d *Dispatcher) invoke(l *Listener, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked",
				logging.Field("type", frame.Type),
				logging.Field("error", fmt.Sprint(r)),
			)
		}
	}()
	l.fn(frame)
}
