// SPDX-License-Identifier: MIT

// Package gatewayclient is the kiosk-side HTTP client for the Gateway
// Coordination Core's HTTP surface: provisioning, heartbeat,
// and command-queue polling/reporting. Outbound calls are wrapped in a
// circuit breaker so a gateway outage degrades the kiosk's hardware loop
// (still serving local card scans against the shared DB) instead of
// cascading into a retry storm.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/heartbeat"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/resilience"
)

// Client implements heartbeat.GatewayClient and commandqueue.GatewayClient.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *resilience.CircuitBreaker
}

// New constructs a Client. httpClient is typically built with
// internal/platform/httpx.NewClient.
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		cb:      resilience.NewCircuitBreaker("gateway", 5, 10, 60*time.Second, 30*time.Second),
	}
}

type registerRequest struct {
	KioskID    string `json:"kiosk_id"`
	Zone       string `json:"zone"`
	Version    string `json:"version"`
	HardwareID string `json:"hardware_id"`
}

type pollingResponse struct {
	PollingConfig heartbeat.PollingConfig `json:"polling_config"`
}

// Register performs the one-shot POST /provisioning/register handshake.
func (c *Client) Register(ctx context.Context, r heartbeat.Registration) (heartbeat.PollingConfig, error) {
	var resp pollingResponse
	err := c.do(ctx, http.MethodPost, "/provisioning/register", registerRequest{
		KioskID: r.KioskID, Zone: r.Zone, Version: r.Version, HardwareID: r.HardwareID,
	}, &resp)
	return resp.PollingConfig, err
}

type heartbeatRequest struct {
	KioskID        string   `json:"kiosk_id"`
	Version        string   `json:"version"`
	ConfigHash     string   `json:"config_hash"`
	Status         string   `json:"status"`
	VoltageV       *float64 `json:"voltage,omitempty"`
	TemperatureC   *float64 `json:"temperature,omitempty"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	MemoryUsagePct *float64 `json:"memory_usage,omitempty"`
	DiskSpacePct   *float64 `json:"disk_space,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

// PostHeartbeat implements heartbeat.GatewayClient.
func (c *Client) PostHeartbeat(ctx context.Context, t heartbeat.Telemetry) (heartbeat.PollingConfig, error) {
	var resp pollingResponse
	err := c.do(ctx, http.MethodPost, "/heartbeat", heartbeatRequest{
		KioskID: t.KioskID, Version: t.Version, ConfigHash: t.ConfigHash, Status: string(t.Status),
		VoltageV: t.VoltageV, TemperatureC: t.TemperatureC, UptimeSeconds: t.UptimeSeconds,
		MemoryUsagePct: t.MemoryUsagePct, DiskSpacePct: t.DiskSpacePct, LastError: t.LastError,
	}, &resp)
	return resp.PollingConfig, err
}

type commandsResponse struct {
	Commands []commandqueue.Command `json:"commands"`
}

// PollCommands implements commandqueue.GatewayClient.
func (c *Client) PollCommands(ctx context.Context, kioskID string, limit int) ([]commandqueue.Command, error) {
	var resp commandsResponse
	path := fmt.Sprintf("/commands?kiosk_id=%s&limit=%d", kioskID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

type commandCompleteRequest struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ReportComplete implements commandqueue.GatewayClient.
func (c *Client) ReportComplete(ctx context.Context, commandID string, success bool, execErr string) error {
	return c.do(ctx, http.MethodPost, "/commands/complete", commandCompleteRequest{
		CommandID: commandID, Success: success, Error: execErr,
	}, nil)
}

type clearStaleRequest struct {
	KioskID string `json:"kiosk_id"`
}

type clearStaleResponse struct {
	ClearedCount int `json:"cleared_count"`
}

// ClearStale implements commandqueue.GatewayClient.
func (c *Client) ClearStale(ctx context.Context, kioskID string) (int, error) {
	var resp clearStaleResponse
	err := c.do(ctx, http.MethodPost, "/commands/clear-stale", clearStaleRequest{KioskID: kioskID}, &resp)
	return resp.ClearedCount, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.cb.AllowRequest() {
		return resilience.ErrCircuitOpen
	}

	err := c.doRequest(ctx, method, path, body, out)
	if err != nil {
		c.cb.RecordTechnicalFailure()
		return err
	}
	c.cb.RecordSuccess()
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("gatewayclient: encode request: %w", err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("gatewayclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gatewayclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.WithComponent("gatewayclient").Warn().
			Str("method", method).Str("path", path).Int("status", resp.StatusCode).
			Msg("gateway returned non-2xx")
		return fmt.Errorf("gatewayclient: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("gatewayclient: decode response: %w", err)
	}
	return nil
}
