package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// DefaultThreshold is the staleness threshold in minutes when neither the
// backend nor the configuration supplies one
const DefaultThreshold = 10.0

var (
	ErrNotAvailable   = &ParseError{"weather data not available"}
	ErrMalformedStamp = &ParseError{"malformed timestamp"}
)

// ParseError represents an unusable last_updated value
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string {
	return e.msg
}

// ParseLastUpdated parses "MM-DD-YYYY HH:MM:SS" or "YYYY-MM-DD HH:MM:SS" in
// loc. A 4-digit leading date segment selects the year-first form.
func ParseLastUpdated(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == protocol.WeatherDataNotAvailable {
		return time.Time{}, ErrNotAvailable
	}
	if loc == nil {
		loc = time.Local
	}

	parts := strings.Split(s, " ")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedStamp, s)
	}

	dateParts := strings.Split(parts[0], "-")
	timeParts := strings.Split(parts[1], ":")
	if len(dateParts) != 3 || len(timeParts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedStamp, s)
	}

	nums := make([]int, 0, 6)
	for _, field := range append(dateParts, timeParts...) {
		n, err := parseField(field)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedStamp, s)
		}
		nums = append(nums, n)
	}

	var year, month, day int
	if len(dateParts[0]) == 4 {
		year, month, day = nums[0], nums[1], nums[2]
	} else {
		month, day, year = nums[0], nums[1], nums[2]
	}
	hour, minute, second := nums[3], nums[4], nums[5]

	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) ||
		hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: %q out of range", ErrMalformedStamp, s)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

func parseField(field string) (int, error) {
	if field == "" {
		return 0, errors.New("empty field")
	}
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, errors.New("non-numeric field")
		}
	}
	return strconv.Atoi(field)
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Freshness is the outcome of one status check
type Freshness struct {
	LastUpdated string    `json:"last_updated"`
	Display     string    `json:"display"`
	UpdatedAt   time.Time `json:"updated_at"`
	AgeMinutes  float64   `json:"age_minutes"`
	Threshold   float64   `json:"threshold"`
	Fresh       bool      `json:"fresh"`
	CheckedAt   time.Time `json:"checked_at"`
	Err         error     `json:"-"`
}

// Indicator is the color of the status dot
func (f Freshness) Indicator() string {
	if f.Fresh {
		return "green"
	}
	return "red"
}

// Payload converts the freshness into its event and state form
func (f Freshness) Payload() protocol.FreshnessPayload {
	p := protocol.FreshnessPayload{
		LastUpdated: f.LastUpdated,
		AgeMinutes:  f.AgeMinutes,
		Threshold:   f.Threshold,
		Fresh:       f.Fresh,
	}
	if f.Err != nil {
		p.Error = f.Err.Error()
	}
	return p
}

// Stale builds a stale result for a failed check
func Stale(now time.Time, threshold float64, err error) Freshness {
	return Freshness{Threshold: threshold, CheckedAt: now, Err: err}
}

// Evaluate decides freshness: fresh iff the age in minutes is below the
// threshold. The response threshold wins over defaultThreshold; any parse
// failure is stale.
func Evaluate(ws *protocol.WeatherStatus, now time.Time, defaultThreshold float64, loc *time.Location) Freshness {
	threshold := defaultThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ws == nil {
		return Stale(now, threshold, ErrNotAvailable)
	}
	if ws.Threshold != nil && *ws.Threshold > 0 {
		threshold = *ws.Threshold
	}

	f := Freshness{
		LastUpdated: ws.LastUpdated,
		Display:     ws.DisplayDate(),
		Threshold:   threshold,
		CheckedAt:   now,
	}

	if !ws.Success {
		f.Err = errors.New("backend reported weather status failure")
		return f
	}

	updatedAt, err := ParseLastUpdated(ws.LastUpdated, loc)
	if err != nil {
		f.Err = err
		return f
	}

	f.UpdatedAt = updatedAt
	f.AgeMinutes = now.Sub(updatedAt).Minutes()
	f.Fresh = f.AgeMinutes < threshold
	return f
}
