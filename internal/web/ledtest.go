package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// weatherService is the service holding the strip during normal operation
const weatherService = "metar"

// ErrLEDTestNotRunning is returned by Next before Start
var ErrLEDTestNotRunning = errors.New("led test is not running")

// LEDBackend is the part of the device backend the LED test drives
type LEDBackend interface {
	ServiceStatus(ctx context.Context, name string) (*protocol.ServiceStatus, error)
	ControlService(ctx context.Context, name, action string) (*protocol.ServiceControlResult, error)
	StartLEDTestService(ctx context.Context) (*protocol.Result, error)
	StopLEDTestService(ctx context.Context) (*protocol.Result, error)
	TurnOffLEDs(ctx context.Context) (*protocol.Result, error)
	TestLEDs(ctx context.Context, req protocol.LEDTestRequest) (*protocol.Result, error)
}

// TestColor is one step of the LED test cycle
type TestColor struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// LEDTestRange selects the strip order and pixels lit by each step
type LEDTestRange struct {
	ColorOrder string `json:"color_order"`
	StartPixel *int   `json:"start_pixel"`
	EndPixel   *int   `json:"end_pixel"`
}

// LEDTestState is what the console shows for the running test
type LEDTestState struct {
	Running        bool        `json:"running"`
	Current        *TestColor  `json:"current,omitempty"`
	Step           int         `json:"step"`
	Colors         []TestColor `json:"colors"`
	StoppedWeather bool        `json:"stopped_weather"`
}

// LEDTest steps the strip through the primaries and the legend colors while
// the LED test service owns it
type LEDTest struct {
	backend LEDBackend
	colors  []TestColor

	mu             sync.Mutex
	running        bool
	index          int
	testRange      LEDTestRange
	stoppedWeather bool
}

// TestColors is the cycle order: primaries, then the map legend
func TestColors(legend config.Legend) []TestColor {
	return []TestColor{
		{Name: "Red", Color: "#ff0000"},
		{Name: "Green", Color: "#00ff00"},
		{Name: "Blue", Color: "#0000ff"},
		{Name: "White", Color: "#ffffff"},
		{Name: "VFR", Color: legend.VFR},
		{Name: "MVFR", Color: legend.MVFR},
		{Name: "IFR", Color: legend.IFR},
		{Name: "LIFR", Color: legend.LIFR},
		{Name: "Lightning", Color: legend.Lightning},
		{Name: "Snow", Color: legend.Snowy},
	}
}

// NewLEDTest creates an idle LED test over the legend colors
func NewLEDTest(b LEDBackend, legend config.Legend) *LEDTest {
	return &LEDTest{backend: b, colors: TestColors(legend), index: -1}
}

// Start stops the weather service if it holds the strip, hands the strip to
// the test service and shows the first color. Starting a running test shows
// the next color.
func (t *LEDTest) Start(ctx context.Context, r LEDTestRange) (LEDTestState, error) {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if running {
		return t.Next(ctx)
	}

	stopped := false
	status, err := t.backend.ServiceStatus(ctx, weatherService)
	if err != nil {
		return t.State(), fmt.Errorf("failed to check %s service: %w", weatherService, err)
	}
	if isRunning(status.Status) {
		if _, err := t.backend.ControlService(ctx, weatherService, "stop"); err != nil {
			return t.State(), fmt.Errorf("failed to stop %s service: %w", weatherService, err)
		}
		stopped = true
		log.Printf("Stopped %s service for LED test", weatherService)
	}

	result, err := t.backend.StartLEDTestService(ctx)
	if err != nil {
		return t.State(), fmt.Errorf("failed to start LED test service: %w", err)
	}
	if !result.OK() {
		return t.State(), fmt.Errorf("failed to start LED test service: %s", result.Error)
	}

	t.mu.Lock()
	t.running = true
	t.index = -1
	t.testRange = r
	t.stoppedWeather = stopped
	t.mu.Unlock()

	return t.Next(ctx)
}

func isRunning(status string) bool {
	switch strings.ToLower(status) {
	case "running", "active":
		return true
	}
	return false
}

// Next lights the next color, wrapping after the last one
func (t *LEDTest) Next(ctx context.Context) (LEDTestState, error) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return t.State(), ErrLEDTestNotRunning
	}
	t.index = (t.index + 1) % len(t.colors)
	color := t.colors[t.index]
	r := t.testRange
	t.mu.Unlock()

	_, err := t.backend.TestLEDs(ctx, protocol.LEDTestRequest{
		Color:      color.Color,
		ColorOrder: r.ColorOrder,
		StartPixel: r.StartPixel,
		EndPixel:   r.EndPixel,
	})
	if err != nil {
		return t.State(), fmt.Errorf("failed to show %s: %w", color.Name, err)
	}
	return t.State(), nil
}

// Stop ends the test, releases the test service and blanks the strip. The
// weather service is left stopped; the console restarts it explicitly.
func (t *LEDTest) Stop(ctx context.Context) (LEDTestState, error) {
	t.mu.Lock()
	t.running = false
	t.index = -1
	t.mu.Unlock()

	if _, err := t.backend.StopLEDTestService(ctx); err != nil {
		log.Printf("Failed to stop LED test service: %v", err)
	}
	if _, err := t.backend.TurnOffLEDs(ctx); err != nil {
		return t.State(), fmt.Errorf("failed to turn off LEDs: %w", err)
	}
	return t.State(), nil
}

// State returns the current step
func (t *LEDTest) State() LEDTestState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := LEDTestState{
		Running:        t.running,
		Step:           t.index + 1,
		Colors:         append([]TestColor(nil), t.colors...),
		StoppedWeather: t.stoppedWeather,
	}
	if t.running && t.index >= 0 {
		c := t.colors[t.index]
		st.Current = &c
	}
	return st
}
