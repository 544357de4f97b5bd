package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// Services are the device services the console can control
var Services = []string{"metar", "settings", "scheduler"}

// ServiceActions are the accepted control verbs
var ServiceActions = []string{"start", "stop", "restart"}

// ErrUnknownService is returned for a service outside Services
var ErrUnknownService = errors.New("unknown service")

// ErrUnknownAction is returned for a verb outside ServiceActions
var ErrUnknownAction = errors.New("unknown action")

// ValidService reports whether name is a controllable service
func ValidService(name string) bool {
	for _, s := range Services {
		if s == name {
			return true
		}
	}
	return false
}

func validAction(action string) bool {
	for _, a := range ServiceActions {
		if a == action {
			return true
		}
	}
	return false
}

// ServiceStatus fetches the state of one service
func (c *Client) ServiceStatus(ctx context.Context, name string) (*protocol.ServiceStatus, error) {
	if !ValidService(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	var status protocol.ServiceStatus
	if err := c.do(ctx, http.MethodGet, "/service/status/"+url.PathEscape(name), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ControlService starts, stops or restarts a service
func (c *Client) ControlService(ctx context.Context, name, action string) (*protocol.ServiceControlResult, error) {
	if !ValidService(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if !validAction(action) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	var result protocol.ServiceControlResult
	path := fmt.Sprintf("/service/control/%s/%s", url.PathEscape(name), url.PathEscape(action))
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ServiceLogs fetches the recent log lines of a service
func (c *Client) ServiceLogs(ctx context.Context, name string) (*protocol.ServiceLogs, error) {
	if !ValidService(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	var logs protocol.ServiceLogs
	if err := c.do(ctx, http.MethodGet, "/service/logs/"+url.PathEscape(name), nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// ScanNetworks lists visible Wi-Fi networks
func (c *Client) ScanNetworks(ctx context.Context) (*protocol.ScanNetworksResponse, error) {
	var resp protocol.ScanNetworksResponse
	if err := c.do(ctx, http.MethodGet, "/scan-networks", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectNetwork joins a Wi-Fi network
func (c *Client) ConnectNetwork(ctx context.Context, req protocol.ConnectNetworkRequest) (*protocol.Result, error) {
	if strings.TrimSpace(req.SSID) == "" {
		return nil, fmt.Errorf("ssid is required")
	}
	return c.postResult(ctx, "/connect-to-network", req)
}

// CheckForUpdates asks whether the device software is behind its branch
func (c *Client) CheckForUpdates(ctx context.Context) (*protocol.UpdateCheck, error) {
	var check protocol.UpdateCheck
	if err := c.do(ctx, http.MethodGet, "/check_for_updates", nil, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ApplyUpdate pulls the pending update
func (c *Client) ApplyUpdate(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/apply_update", nil)
}

// Shutdown powers the controller off
func (c *Client) Shutdown(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/shutdown", nil)
}

// Restart reboots the controller
func (c *Client) Restart(ctx context.Context) (*protocol.Result, error) {
	return c.postResult(ctx, "/restart", nil)
}

// Timezones lists the zones the device accepts and the current one
func (c *Client) Timezones(ctx context.Context) (*protocol.TimezoneList, error) {
	var list protocol.TimezoneList
	if err := c.do(ctx, http.MethodGet, "/get_timezones", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SetTimezone changes the device zone
func (c *Client) SetTimezone(ctx context.Context, tz string) (*protocol.Result, error) {
	if strings.TrimSpace(tz) == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	return c.postResult(ctx, "/set_timezone", protocol.SetTimezoneRequest{Timezone: tz})
}
