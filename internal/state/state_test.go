package state

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	snap, err := Snapshot(ctx, s)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Freshness != nil || snap.Selection != nil {
		t.Errorf("Expected empty state, got %+v", snap)
	}

	s.SetFreshness(ctx, protocol.FreshnessPayload{LastUpdated: "01-15-2024 10:00:00", Fresh: true})
	s.SetSelection(ctx, protocol.SelectionPayload{Filters: []string{"major"}, Count: 12})

	snap, _ = Snapshot(ctx, s)
	if snap.Freshness == nil || !snap.Freshness.Fresh {
		t.Errorf("Expected fresh state, got %+v", snap.Freshness)
	}
	if snap.Selection == nil || snap.Selection.Count != 12 {
		t.Errorf("Expected saved selection, got %+v", snap.Selection)
	}

	s.ClearSelection(ctx)
	if sel, _ := s.GetSelection(ctx); sel != nil {
		t.Errorf("Expected selection cleared, got %+v", sel)
	}
}

func TestRedisStore_Key(t *testing.T) {
	rs := NewRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "airport-map")
	if got := rs.key(kindSelection); got != "metarmap_state:airport-map:selection" {
		t.Errorf("Unexpected key %s", got)
	}
}
