package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// maxBodySize caps how much of a response is read; log tails are the largest bodies
const maxBodySize = 4 << 20

// Client talks to the device backend over JSON/HTTP. It holds no state
// beyond its configuration and is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a backend client. Timeouts are left to the transport.
func NewClient(cfg *config.BackendConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// BaseURL returns the backend root the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WeatherStatus fetches freshness metadata
func (c *Client) WeatherStatus(ctx context.Context) (*protocol.WeatherStatus, error) {
	var status protocol.WeatherStatus
	if err := c.do(ctx, http.MethodGet, "/weather-status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WeatherData fetches every airport record
func (c *Client) WeatherData(ctx context.Context) (protocol.WeatherData, error) {
	data := make(protocol.WeatherData)
	if err := c.do(ctx, http.MethodGet, "/get-weather-data", nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// MapSettings fetches the persisted viewport
func (c *Client) MapSettings(ctx context.Context) (*protocol.MapSettings, error) {
	var settings protocol.MapSettings
	if err := c.do(ctx, http.MethodGet, "/map-settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveMapSettings persists a viewport
func (c *Client) SaveMapSettings(ctx context.Context, settings protocol.MapSettings) error {
	_, err := c.postResult(ctx, "/map-settings", settings)
	return err
}

// ConditionAirports fetches the condition -> airport snapshot used by previews
func (c *Client) ConditionAirports(ctx context.Context) (protocol.ConditionAirports, error) {
	snapshot := make(protocol.ConditionAirports)
	if err := c.do(ctx, http.MethodGet, "/kiosk/condition-airports", nil, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ApplyFilters submits a selection and returns the count the backend lit up
func (c *Client) ApplyFilters(ctx context.Context, req protocol.ApplyFiltersRequest) (int, error) {
	var resp protocol.ApplyFiltersResponse
	if err := c.do(ctx, http.MethodPost, "/kiosk/apply-filters", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, &StatusError{Method: http.MethodPost, Path: "/kiosk/apply-filters", StatusCode: http.StatusOK, Message: resp.Error}
	}
	return resp.Count, nil
}

// ResetKiosk returns the LEDs to normal operation
func (c *Client) ResetKiosk(ctx context.Context) error {
	_, err := c.postResult(ctx, "/kiosk/reset", nil)
	return err
}

// UpdateWeather asks the backend to refetch weather now
func (c *Client) UpdateWeather(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/update-weather", nil)
}

// postResult posts body and decodes the generic result envelope. An
// explicit failure in the envelope is returned as a *StatusError.
func (c *Client) postResult(ctx context.Context, path string, body interface{}) (*protocol.Result, error) {
	var result protocol.Result
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	if !result.OK() && result.Error != "" {
		return &result, &StatusError{Method: http.MethodPost, Path: path, StatusCode: http.StatusOK, Message: result.Error}
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(method, path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// StatusError is a request the backend answered with a failure
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.StatusCode)
}

func newStatusError(method, path string, code int, body []byte) *StatusError {
	e := &StatusError{Method: method, Path: path, StatusCode: code}

	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Error != "" {
			e.Message = envelope.Error
		} else {
			e.Message = envelope.Message
		}
	}
	return e
}
