// Package provider is the HTTP client for the messaging provider's send
// API. It is the only place that talks to the provider directly.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loquahq/loqua/internal/config"
)

// Sender is the outbound surface the channel adapters depend on.
type Sender interface {
	SendIndividual(ctx context.Context, to, text string) error
	SendGroup(ctx context.Context, groupID, text string) error
}

// Client implements Sender against the provider's JSON-over-HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds the provider client. Missing credentials are a fatal
// misconfiguration: no send could possibly succeed without them.
func NewClient(cfg config.ProviderConfig, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	if strings.TrimSpace(cfg.AgentNumber) == "" {
		return nil, fmt.Errorf("provider agent number is required")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log.With(slog.String("service", "provider")),
	}, nil
}

func (c *Client) SendIndividual(ctx context.Context, to, text string) error {
	return c.post(ctx, "/api/send-message", map[string]string{
		"to":   to,
		"text": text,
	})
}

func (c *Client) SendGroup(ctx context.Context, groupID, text string) error {
	return c.post(ctx, "/api/send-group-message", map[string]string{
		"group_id": groupID,
		"text":     text,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Capture as much diagnostic detail as the provider gives us.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("provider rejected send",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(detail)))
		return fmt.Errorf("provider send %s: status %d: %s", path, resp.StatusCode, string(detail))
	}
	return nil
}
