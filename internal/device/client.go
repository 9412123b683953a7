// Package device is the HTTP adapter for the petal ejector device API.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// DefaultPort is the port the ejector device serves its API on
const DefaultPort = 8080

// ErrNotConfigured is returned when an operation runs before Configure
var ErrNotConfigured = errors.New("device address not configured")

// Status is the body of GET /status. Only currentMotor drives the session.
type Status struct {
	CurrentMotor    *int   `json:"currentMotor,omitempty"`
	MotorsActivated []bool `json:"motorsActivated,omitempty"`
}

// StatusError reports a non-2xx answer from the device
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: device answered %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: device answered %d: %s", e.Op, e.Code, e.Body)
}

// Client issues single requests against http://{address}:{port}/api.
// It holds no session state besides the base URL.
type Client struct {
	httpClient *http.Client
	port       int

	mu      sync.RWMutex
	baseURL string
}

// NewClient creates a device client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, port int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		httpClient: httpClient,
		port:       port,
	}
}

// Configure points the client at a device address. No network call is made.
// An address that already carries a port is used as is.
func (c *Client) Configure(address string) {
	address = strings.TrimSpace(address)

	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		host = net.JoinHostPort(strings.Trim(address, "[]"), strconv.Itoa(c.port))
	}

	c.mu.Lock()
	c.baseURL = "http://" + host + "/api"
	c.mu.Unlock()
}

// BaseURL returns the configured base URL, empty before Configure
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// GetStatus fetches the device status
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.do(ctx, "status", http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status Status
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("status: read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &status, nil
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("status: decode body: %w", err)
	}
	return &status, nil
}

// ActivateMotor asks the device to fire one solenoid
func (c *Client) ActivateMotor(ctx context.Context, motor int) error {
	payload, err := json.Marshal(map[string]int{"motor": motor})
	if err != nil {
		return fmt.Errorf("activate: encode body: %w", err)
	}

	resp, err := c.do(ctx, "activate", http.MethodPost, "/activate", payload)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// ResetSystem asks the device to reset every petal
func (c *Client) ResetSystem(ctx context.Context) error {
	resp, err := c.do(ctx, "reset", http.MethodPost, "/reset", nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// do sends one request and turns any non-2xx answer into a StatusError
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) (*http.Response, error) {
	base := c.BaseURL()
	if base == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
