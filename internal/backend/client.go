// Package backend is the console backend API client used to persist call
// logs and ratings and to bump the campaign dial counter.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/callcenter/dialer/internal/auth"
	"github.com/callcenter/dialer/internal/model"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

type Client struct {
	BaseURL string
	AgentID string
	Cred    auth.Credential
	HTTP    *http.Client
}

func NewClient(cfg model.BackendConfig, agentID string, cred auth.Credential) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		AgentID: agentID,
		Cred:    cred,
		HTTP:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Name identifies the client as a call log sink.
func (c *Client) Name() string { return "backend" }

func (c *Client) SaveCallLog(ctx context.Context, entry model.CallLogEntry) error {
	return c.post(ctx, "save call log", "/call-logs", entry)
}

func (c *Client) SaveClassification(ctx context.Context, cl model.Classification) error {
	return c.post(ctx, "save classification", "/call-ratings", cl)
}

// IncrementDialed bumps the campaign's dialed counter.
func (c *Client) IncrementDialed(ctx context.Context, campaignID string) error {
	if campaignID == "" {
		return nil
	}
	return c.post(ctx, "increment dialed", "/campaigns/"+url.PathEscape(campaignID)+"/dialed",
		map[string]string{"agent_id": c.AgentID})
}

func (c *Client) post(ctx context.Context, op, path string, payload any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("%s: backend base_url not configured", op)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", c.AgentID)
	if err := auth.Apply(req, c.Cred); err != nil {
		return fmt.Errorf("%s: credential: %w", op, err)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
