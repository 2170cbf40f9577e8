// Package remote drives a screen that lives behind an HTTP device agent, and
// provides that agent for any local operator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hairizuanbinnoorazman/guiagent/operator"
)

// Client is an operator that forwards to a device agent:
//
//	GET  {base}/screenshot -> operator.Screenshot
//	POST {base}/execute    <- operator.ExecuteParams
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ operator.Operator = (*Client)(nil)

// NewClient creates a client for the agent at baseURL. A non-empty token is
// sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error  string          `json:"error"`
	Reason operator.Reason `json:"reason,omitempty"`
}

// Screenshot fetches a capture from the agent.
func (c *Client) Screenshot(ctx context.Context) (*operator.Screenshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/screenshot", nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &operator.CaptureError{Operator: "remote", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &operator.CaptureError{Operator: "remote", Err: statusError(resp)}
	}

	var shot operator.Screenshot
	if err := json.NewDecoder(resp.Body).Decode(&shot); err != nil {
		return nil, &operator.CaptureError{Operator: "remote", Err: fmt.Errorf("failed to decode screenshot: %w", err)}
	}
	if shot.Base64 == "" || shot.Width <= 0 || shot.Height <= 0 {
		return nil, &operator.CaptureError{Operator: "remote", Err: errors.New("agent returned an empty screenshot")}
	}
	return &shot, nil
}

// Execute sends a resolved action to the agent.
func (c *Client) Execute(ctx context.Context, params operator.ExecuteParams) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	kind := params.Action.Kind
	resp, err := c.do(ctx, http.MethodPost, "/execute", payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &operator.ExecutionError{Reason: operator.ReasonSurfaceClosed, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &operator.ExecutionError{Reason: operator.ReasonTargetNotFound, Kind: kind, Err: statusError(resp)}
	case http.StatusGone:
		return &operator.ExecutionError{Reason: operator.ReasonSurfaceClosed, Kind: kind, Err: statusError(resp)}
	case http.StatusNotImplemented:
		return &operator.ExecutionError{Reason: operator.ReasonUnsupportedAction, Kind: kind, Err: statusError(resp)}
	}
	return &operator.ExecutionError{Reason: operator.ReasonFailed, Kind: kind, Err: statusError(resp)}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return fmt.Errorf("agent status %d: %s", resp.StatusCode, eb.Error)
	}
	return fmt.Errorf("agent status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
