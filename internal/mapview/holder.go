package mapview

import (
	"context"
	"log"
	"sync"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// SettingsSource reads the persisted viewport from the device backend
type SettingsSource interface {
	MapSettings(ctx context.Context) (*protocol.MapSettings, error)
}

// Holder owns the single map of a session. The first Initialize builds it;
// every later call returns the same instance.
type Holder struct {
	current *Map
	mu      sync.Mutex
}

// NewHolder creates an empty holder
func NewHolder() *Holder {
	return &Holder{}
}

// Initialize returns the session map, creating it on first use. A nil center
// or a zoom <= 0 selects the default viewport.
func (h *Holder) Initialize(containerID string, colors ColorConfig, center *protocol.LatLon, zoom int) *Map {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		return h.current
	}

	c := DefaultCenter
	if center != nil {
		c = *center
	}
	if zoom <= 0 || zoom > maxZoom {
		zoom = DefaultZoom
	}

	h.current = newMap(containerID, colors, c, zoom)
	log.Printf("Map %s initialized at %.4f,%.4f zoom %d", containerID, c.Lat, c.Lon, zoom)
	return h.current
}

// InitializeFromSettings builds the map at the viewport stored on the
// backend. A failed or malformed settings fetch falls back to the default
// viewport; it never prevents the map from being built.
func (h *Holder) InitializeFromSettings(ctx context.Context, src SettingsSource, containerID string, colors ColorConfig) *Map {
	if m := h.Current(); m != nil {
		return m
	}

	settings, err := src.MapSettings(ctx)
	if err != nil {
		log.Printf("Failed to load map settings, using defaults: %v", err)
		return h.Initialize(containerID, colors, nil, 0)
	}

	var center *protocol.LatLon
	if point, ok := settings.CenterPoint(); ok {
		center = &point
	}
	return h.Initialize(containerID, colors, center, settings.Zoom)
}

// Current returns the map, or nil before initialization
func (h *Holder) Current() *Map {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}
