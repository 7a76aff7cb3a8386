// Package gesture is the HTTP client for the external gesture-processing
// service. The service is optional: an unconfigured client reports
// UNCONFIGURED instead of failing requests with connection errors.
package gesture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

const defaultTimeout = 10 * time.Second

// Client talks to the gesture processor over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL. An empty base URL
// yields a client whose calls all report UNCONFIGURED.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Configured reports whether a processor base URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Healthy checks the processor's health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	if !c.Configured() {
		return apperrors.New(apperrors.CodeUnconfigured, "gesture processor is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gesture processor health: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("gesture processor health: status %d", res.StatusCode)
	}
	return nil
}

// Process forwards raw gesture data to the processor and returns its
// response payload verbatim. The payload shape is owned by the processor.
func (c *Client) Process(ctx context.Context, gestureData json.RawMessage) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.CodeUnconfigured, "gesture processor is not configured")
	}

	body, err := json.Marshal(map[string]json.RawMessage{"gesture_data": gestureData})
	if err != nil {
		return nil, fmt.Errorf("encode gesture request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-gesture", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gesture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gesture processor request: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read gesture response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gesture processor: status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}
