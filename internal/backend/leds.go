package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// TestBrightness is the fixed brightness used by LED tests
const TestBrightness = 0.3

// ConvertColor reorders a #rrggbb color for strips wired as GRB. Any other
// order returns the color unchanged.
func ConvertColor(color, colorOrder string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if len(hex) != 6 {
		return "", fmt.Errorf("invalid color %q", color)
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", fmt.Errorf("invalid color %q", color)
	}

	if !strings.EqualFold(colorOrder, "GRB") {
		return color, nil
	}
	return "#" + strings.ToLower(hex[2:4]+hex[0:2]+hex[4:6]), nil
}

// TestLEDs lights a pixel range with a color, converting it to the strip order first
func (c *Client) TestLEDs(ctx context.Context, req protocol.LEDTestRequest) (*protocol.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	color, err := ConvertColor(req.Color, req.ColorOrder)
	if err != nil {
		return nil, err
	}
	req.Color = color
	if req.Brightness <= 0 {
		req.Brightness = TestBrightness
	}

	return c.postResult(ctx, "/test-leds", req)
}

// TurnOffLEDs blanks the strip
func (c *Client) TurnOffLEDs(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/turn-off-leds", nil)
}

// StartLEDTestService hands the strip to the test service
func (c *Client) StartLEDTestService(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/led-test-service/start", nil)
}

// StopLEDTestService returns the strip to the weather renderer
func (c *Client) StopLEDTestService(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/led-test-service/stop", nil)
}
