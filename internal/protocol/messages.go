package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlightCategory is the ceiling/visibility class reported for an airport
type FlightCategory string

const (
	CategoryVFR     FlightCategory = "VFR"
	CategoryMVFR    FlightCategory = "MVFR"
	CategoryIFR     FlightCategory = "IFR"
	CategoryLIFR    FlightCategory = "LIFR"
	CategoryMissing FlightCategory = "MISSING"
)

// NormalizeCategory maps free text onto the closed category set.
// Anything unrecognized, including the empty string, is MISSING.
func NormalizeCategory(value string) FlightCategory {
	switch FlightCategory(strings.ToUpper(strings.TrimSpace(value))) {
	case CategoryVFR:
		return CategoryVFR
	case CategoryMVFR:
		return CategoryMVFR
	case CategoryIFR:
		return CategoryIFR
	case CategoryLIFR:
		return CategoryLIFR
	default:
		return CategoryMissing
	}
}

// AirportRecord is one airport entry of GET /get-weather-data
type AirportRecord struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	FlightCategory string   `json:"flt_cat"`
	Site           string   `json:"site"`
	RawObservation string   `json:"raw_observation"`
}

// HasCoordinates reports whether a marker can be placed for the record
func (r AirportRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// WeatherData maps airport code to its record
type WeatherData map[string]AirportRecord

// WeatherDataNotAvailable is the literal the backend reports before the first fetch
const WeatherDataNotAvailable = "Weather data not available"

// WeatherStatus is the response of GET /weather-status
type WeatherStatus struct {
	Success       bool     `json:"success"`
	LastUpdated   string   `json:"last_updated"`
	Threshold     *float64 `json:"threshold,omitempty"`
	FormattedDate string   `json:"formatted_date,omitempty"`
}

// DisplayDate prefers the backend formatted date over the raw timestamp
func (s WeatherStatus) DisplayDate() string {
	if s.FormattedDate != "" {
		return s.FormattedDate
	}
	return s.LastUpdated
}

// MapSettings is the persisted viewport of GET/POST /map-settings
type MapSettings struct {
	Center []float64 `json:"center,omitempty"`
	Zoom   int       `json:"zoom,omitempty"`
}

// CenterPoint returns the center as a pair when the backend sent one
func (m MapSettings) CenterPoint() (LatLon, bool) {
	if len(m.Center) != 2 {
		return LatLon{}, false
	}
	return LatLon{Lat: m.Center[0], Lon: m.Center[1]}, true
}

// LatLon is a geographic point
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ConditionAirports is GET /kiosk/condition-airports: condition -> code -> detail
type ConditionAirports map[string]map[string]json.RawMessage

// Codes returns the codes reported under a snapshot key
func (c ConditionAirports) Codes(key string) []string {
	entries := c[key]
	codes := make([]string, 0, len(entries))
	for code := range entries {
		codes = append(codes, code)
	}
	return codes
}

// ApplyFiltersRequest is the body of POST /kiosk/apply-filters
type ApplyFiltersRequest struct {
	Filters        []string `json:"filters"`
	MajorAirports  []string `json:"majorAirports"`
	ManualAirports []string `json:"manualAirports"`
}

// ApplyFiltersResponse is either {count} or {error}
type ApplyFiltersResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// LEDTestRequest is the body of POST /test-leds
type LEDTestRequest struct {
	Color      string  `json:"color"`
	ColorOrder string  `json:"color_order"`
	Brightness float64 `json:"brightness"`
	StartPixel *int    `json:"start_pixel"`
	EndPixel   *int    `json:"end_pixel"`
}

// Validate checks the pixel range is ordered when both ends are given
func (r LEDTestRequest) Validate() error {
	if r.Color == "" {
		return fmt.Errorf("color is required")
	}
	if r.StartPixel != nil && *r.StartPixel < 0 {
		return fmt.Errorf("start pixel must not be negative")
	}
	if r.StartPixel != nil && r.EndPixel != nil && *r.EndPixel < *r.StartPixel {
		return fmt.Errorf("end pixel %d is before start pixel %d", *r.EndPixel, *r.StartPixel)
	}
	return nil
}

// Result is the generic {success, message, error} envelope used by the control endpoints
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK accepts both the {success: true} and {status: "success"} shapes
func (r Result) OK() bool {
	return r.Success || r.Status == "success"
}

// ServiceStatus is GET /service/status/{name}
type ServiceStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ServiceControlResult is POST /service/control/{name}/{action}
type ServiceControlResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	SpecialCase string `json:"special_case,omitempty"`
}

// ServiceLogs is GET /service/logs/{name}
type ServiceLogs struct {
	Success bool   `json:"success"`
	Logs    string `json:"logs"`
}

// Network is one entry of GET /scan-networks
type Network struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal,omitempty"`
	Security string `json:"security,omitempty"`
}

// ScanNetworksResponse is GET /scan-networks
type ScanNetworksResponse struct {
	Success  bool      `json:"success"`
	Networks []Network `json:"networks"`
	Error    string    `json:"error,omitempty"`
}

// ConnectNetworkRequest is the body of POST /connect-to-network
type ConnectNetworkRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// UpdateCheck is GET /check_for_updates
type UpdateCheck struct {
	HasUpdates    bool     `json:"has_updates"`
	Branch        string   `json:"branch,omitempty"`
	CommitsBehind int      `json:"commits_behind,omitempty"`
	Files         []string `json:"files,omitempty"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// TimezoneList is GET /get_timezones
type TimezoneList struct {
	Timezones []string `json:"timezones"`
	Current   string   `json:"current"`
}

// SetTimezoneRequest is the body of POST /set_timezone
type SetTimezoneRequest struct {
	Timezone string `json:"timezone"`
}
