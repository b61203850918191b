// Package mailer calls the site's email-sending endpoint.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"clubattend/internal/notify"
)

// Client posts messages to the email endpoint as JSON.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	// Skip logs messages instead of sending them.
	Skip bool
	log  *zap.Logger
}

// New creates a client. The per-send deadline comes from the caller's context.
func New(endpoint string, skip bool, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Endpoint: endpoint,
		Skip:     skip,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// Send delivers m. Non-2xx responses are errors.
func (c *Client) Send(ctx context.Context, m notify.Message) error {
	if c.Skip {
		c.log.Info("mail skipped", zap.String("to", m.To), zap.String("subject", m.Subject))
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("mail endpoint not configured")
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail endpoint error %s: %s", resp.Status, bytes.TrimSpace(bodyBytes))
	}
	return nil
}

// Health checks the endpoint answers at all.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail endpoint unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("mail endpoint unhealthy: %s", resp.Status)
	}
	return nil
}
