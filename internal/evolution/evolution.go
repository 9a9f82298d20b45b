package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned by SendText when the base URL, API key or
// instance name is missing.
var ErrNotConfigured = errors.New("evolution client not configured")

type Config struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if base URL, API key and instance are all set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != "" && c.cfg.Instance != ""
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText delivers a plain WhatsApp text message. number must already be in
// international digits-only form, see NormalizeNumber.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if number == "" {
		return fmt.Errorf("send text: empty number")
	}

	body, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	u := fmt.Sprintf("%s/message/sendText/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("evolution API error: status %d", resp.StatusCode)
	}
	return nil
}

// NormalizeNumber strips everything but digits and prefixes defaultCountry
// to national numbers (10 or 11 digits, area code included). Numbers written
// with a leading + are taken as already international. It returns "" when
// nothing usable is left.
func NormalizeNumber(raw, defaultCountry string) string {
	international := strings.HasPrefix(strings.TrimSpace(raw), "+")
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	switch {
	case len(digits) < 8:
		return ""
	case !international && (len(digits) == 10 || len(digits) == 11):
		return defaultCountry + digits
	}
	return digits
}
