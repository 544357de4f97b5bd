package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// Publisher delivers a display event to one sink
type Publisher interface {
	Publish(ctx context.Context, event *protocol.Event) error
}

type namedSink struct {
	name string
	pub  Publisher
}

// Fanout delivers every event to each registered sink. A failing sink is
// logged and does not stop delivery to the others.
type Fanout struct {
	sinks []namedSink
	mu    sync.RWMutex
}

// NewFanout creates an empty fanout
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink under a name used in log lines
func (f *Fanout) Add(name string, pub Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, namedSink{name: name, pub: pub})
}

// Sinks returns the registered sink names
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

// Publish sends the event to every sink and joins their errors
func (f *Fanout) Publish(ctx context.Context, event *protocol.Event) error {
	f.mu.RLock()
	sinks := make([]namedSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.pub.Publish(ctx, event); err != nil {
			log.Printf("Failed to publish %s event to %s: %v", event.Type, s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Emit builds an event and publishes it. A nil publisher drops the event.
// Failures are logged; display state never depends on delivery.
func Emit(ctx context.Context, pub Publisher, sessionID string, eventType protocol.EventType, payload interface{}) {
	if pub == nil {
		return
	}

	event, err := protocol.NewEvent(sessionID, eventType, payload)
	if err != nil {
		log.Printf("Failed to build %s event: %v", eventType, err)
		return
	}

	if err := pub.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s event: %v", eventType, err)
	}
}
