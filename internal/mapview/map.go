package mapview

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// Default viewport: continental US
var (
	DefaultCenter = protocol.LatLon{Lat: 39.8283, Lon: -98.5795}
	DefaultZoom   = 4
)

const maxZoom = 22

// Marker is one airport pin on the map
type Marker struct {
	Code     string                  `json:"code"`
	Lat      float64                 `json:"lat"`
	Lon      float64                 `json:"lon"`
	Category protocol.FlightCategory `json:"category"`
	Color    string                  `json:"color"`
	Title    string                  `json:"title"`
	Popup    string                  `json:"popup"`
	Visible  bool                    `json:"visible"`
}

// View is the current viewport of the map
type View struct {
	ContainerID string          `json:"container_id"`
	Center      protocol.LatLon `json:"center"`
	Zoom        int             `json:"zoom"`
}

// SettingsSaver persists a viewport on the device backend
type SettingsSaver interface {
	SaveMapSettings(ctx context.Context, settings protocol.MapSettings) error
}

// Map owns the marker registry. Markers are only ever mutated through its
// methods, so a reload and a selection update never interleave.
type Map struct {
	containerID string
	colors      ColorConfig

	markers map[string]*Marker // key: airport code
	visible map[string]bool
	// selected is the applied filter; nil means every marker is shown
	selected map[string]bool
	center  protocol.LatLon
	zoom    int

	loads       int
	lastSkipped int
	lastLoadAt  time.Time
	mu          sync.RWMutex
}

func newMap(containerID string, colors ColorConfig, center protocol.LatLon, zoom int) *Map {
	return &Map{
		containerID: containerID,
		colors:      colors,
		markers:     make(map[string]*Marker),
		visible:     make(map[string]bool),
		center:      center,
		zoom:        zoom,
	}
}

// GetMarkerColor returns the color used for a flight category
func (m *Map) GetMarkerColor(category string) string {
	return m.colors.ColorFor(category)
}

// Colors returns the color configuration the map was built with
func (m *Map) Colors() ColorConfig {
	return m.colors
}

// LoadAirports replaces every marker with one per record that has both
// coordinates. New markers are visible unless a selection is applied, in
// which case only selected codes are shown. It returns the sorted codes that
// received a marker.
func (m *Map) LoadAirports(data protocol.WeatherData) []string {
	markers := make(map[string]*Marker, len(data))
	skipped := 0

	for code, record := range data {
		if !record.HasCoordinates() {
			skipped++
			continue
		}

		color := m.colors.ColorFor(record.FlightCategory)
		popup, err := RenderPopup(code, record, color)
		if err != nil {
			log.Printf("Failed to render popup for %s: %v", code, err)
			popup = code
		}

		markers[code] = &Marker{
			Code:     code,
			Lat:      *record.Latitude,
			Lon:      *record.Longitude,
			Category: protocol.NormalizeCategory(record.FlightCategory),
			Color:    color,
			Title:    code,
			Popup:    popup,
		}
	}

	codes := make([]string, 0, len(markers))
	for code := range markers {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	m.mu.Lock()
	m.markers = markers
	m.visible = m.visibleLocked()
	m.loads++
	m.lastSkipped = skipped
	m.lastLoadAt = time.Now()
	m.mu.Unlock()

	return codes
}

// UpdateSelection shows only the registered markers whose code is in codes.
// Unknown codes are not shown. The filter stays applied across reloads
// until ResetMap.
func (m *Map) UpdateSelection(codes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected = make(map[string]bool, len(codes))
	for _, code := range codes {
		m.selected[code] = true
	}
	m.visible = m.visibleLocked()
}

// ResetMap clears the selection and shows every registered marker
func (m *Map) ResetMap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected = nil
	m.visible = m.visibleLocked()
}

func (m *Map) visibleLocked() map[string]bool {
	visible := make(map[string]bool, len(m.markers))
	for code := range m.markers {
		if m.selected == nil || m.selected[code] {
			visible[code] = true
		}
	}
	return visible
}

// Codes returns every registered code, sorted
func (m *Map) Codes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	codes := make([]string, 0, len(m.markers))
	for code := range m.markers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Visible returns the codes currently shown, sorted
func (m *Map) Visible() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	codes := make([]string, 0, len(m.visible))
	for code := range m.visible {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Marker returns a copy of one marker
func (m *Map) Marker(code string) (Marker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	marker, ok := m.markers[code]
	if !ok {
		return Marker{}, false
	}
	cp := *marker
	cp.Visible = m.visible[code]
	return cp, true
}

// Markers returns copies of all markers sorted by code
func (m *Map) Markers() []Marker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Marker, 0, len(m.markers))
	for code, marker := range m.markers {
		cp := *marker
		cp.Visible = m.visible[code]
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// View returns the current viewport
func (m *Map) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return View{ContainerID: m.containerID, Center: m.center, Zoom: m.zoom}
}

// SetView moves the viewport, as a user pan or zoom would
func (m *Map) SetView(center protocol.LatLon, zoom int) error {
	if center.Lat < -90 || center.Lat > 90 || center.Lon < -180 || center.Lon > 180 {
		return fmt.Errorf("center %.4f,%.4f is out of range", center.Lat, center.Lon)
	}
	if zoom < 0 || zoom > maxZoom {
		return fmt.Errorf("zoom %d is out of range", zoom)
	}

	m.mu.Lock()
	m.center = center
	m.zoom = zoom
	m.mu.Unlock()
	return nil
}

// SaveView persists the current viewport as the device default
func (m *Map) SaveView(ctx context.Context, saver SettingsSaver) (View, error) {
	view := m.View()
	settings := protocol.MapSettings{
		Center: []float64{view.Center.Lat, view.Center.Lon},
		Zoom:   view.Zoom,
	}
	if err := saver.SaveMapSettings(ctx, settings); err != nil {
		return view, fmt.Errorf("failed to save map view: %w", err)
	}
	return view, nil
}

// Stats returns statistics about the marker registry
func (m *Map) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		TotalMarkers:   len(m.markers),
		VisibleMarkers: len(m.visible),
		Filtered:       m.selected != nil,
		Loads:          m.loads,
		LastSkipped:    m.lastSkipped,
		LastLoadAt:     m.lastLoadAt,
	}
}

// Stats contains statistics about the marker registry
type Stats struct {
	TotalMarkers   int       `json:"total_markers"`
	VisibleMarkers int       `json:"visible_markers"`
	Filtered       bool      `json:"filtered"`
	Loads          int       `json:"loads"`
	LastSkipped    int       `json:"last_skipped"`
	LastLoadAt     time.Time `json:"last_load_at"`
}
