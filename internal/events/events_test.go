package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

type mockPublisher struct {
	events []*protocol.Event
	err    error
	mu     sync.Mutex
}

func (m *mockPublisher) Publish(ctx context.Context, event *protocol.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	good := &mockPublisher{}
	bad := &mockPublisher{err: errors.New("broker down")}
	other := &mockPublisher{}

	f := NewFanout()
	f.Add("good", good)
	f.Add("bad", bad)
	f.Add("other", other)

	event, _ := protocol.NewEvent("session", protocol.EventKioskReset, nil)
	err := f.Publish(context.Background(), event)
	if err == nil {
		t.Error("Expected joined error from failing sink")
	}

	if len(good.events) != 1 || len(other.events) != 1 {
		t.Errorf("Expected delivery past the failing sink, got %d and %d", len(good.events), len(other.events))
	}
}

func TestEmit_NilPublisher(t *testing.T) {
	// Must not panic
	Emit(context.Background(), nil, "session", protocol.EventKioskReset, nil)
}

func TestEmit_BuildsEvent(t *testing.T) {
	pub := &mockPublisher{}
	Emit(context.Background(), pub, "kiosk-1", protocol.EventMarkersLoaded, protocol.MarkersPayload{Loaded: 3, Skipped: 1})

	if len(pub.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.SessionID != "kiosk-1" || event.Type != protocol.EventMarkersLoaded || event.ID == "" {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestBuffer_RecentNewestFirst(t *testing.T) {
	b := NewBuffer(3)
	types := []protocol.EventType{
		protocol.EventMarkersLoaded,
		protocol.EventKioskReset,
		protocol.EventSelectionApplied,
		protocol.EventKioskReset,
	}
	for _, typ := range types {
		event, _ := protocol.NewEvent("s", typ, nil)
		b.Publish(context.Background(), event)
	}

	if b.Len() != 3 {
		t.Fatalf("Expected buffer capped at 3, got %d", b.Len())
	}

	recent := b.Recent(0, "")
	if recent[0].Type != protocol.EventKioskReset || recent[2].Type != protocol.EventKioskReset {
		t.Errorf("Unexpected order: %s, %s, %s", recent[0].Type, recent[1].Type, recent[2].Type)
	}

	resets := b.Recent(10, protocol.EventKioskReset)
	if len(resets) != 2 {
		t.Errorf("Expected 2 reset events, got %d", len(resets))
	}
}
