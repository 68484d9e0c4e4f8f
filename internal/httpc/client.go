// Package httpc is a small client for the segcam dashboard API, built on an
// http.Client with timeouts set.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/web"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient creates an HTTP client with the specified timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("segcam api: %d %s", e.Status, e.Message)
}

// Client talks to one segcam server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for base, e.g. "http://localhost:8080".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: NewHTTPClient(DefaultTimeout),
	}
}

// Status fetches /api/status.
func (c *Client) Status(ctx context.Context) (web.Status, error) {
	var st web.Status
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// SetDisplay reports the display size masks should be scaled to.
func (c *Client) SetDisplay(ctx context.Context, width, height int) error {
	return c.doJSON(ctx, http.MethodPost, "/api/display", web.Dimensions{Width: width, Height: height}, nil)
}

// RequestPermission asks the server to re-check camera access.
func (c *Client) RequestPermission(ctx context.Context) (capture.PermissionState, error) {
	var st capture.PermissionState
	err := c.doJSON(ctx, http.MethodPost, "/api/permission", nil, &st)
	return st, err
}

// MaskPNG fetches the latest mask and its version.
func (c *Client) MaskPNG(ctx context.Context) ([]byte, uint64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/mask.png", nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	version, _ := strconv.ParseUint(resp.Header.Get("X-Mask-Version"), 10, 64)
	return data, version, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
