package abacatepay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.abacatepay.com/v1"

// ErrNotConfigured is returned by every API call when no API key is set.
var ErrNotConfigured = errors.New("abacatepay client not configured: missing api key")

type Config struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	ReturnURL     string
	CompletionURL string
	Timeout       time.Duration
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
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
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

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// VerifyWebhookSecret reports whether got matches the configured webhook
// secret. With no secret configured every webhook is accepted.
func (c *Client) VerifyWebhookSecret(got string) bool {
	if c.cfg.WebhookSecret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.cfg.WebhookSecret)) == 1
}

// APIError is a non-2xx response or an error envelope from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("abacatepay API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("abacatepay API error: status %d: %s", e.StatusCode, e.Message)
}

type Customer struct {
	Name      string `json:"name"`
	Cellphone string `json:"cellphone"`
	Email     string `json:"email"`
	TaxID     string `json:"taxId"`
}

type PixQRCodeRequest struct {
	Amount      int64             `json:"amount"`
	ExpiresIn   int               `json:"expiresIn,omitempty"`
	Description string            `json:"description,omitempty"`
	Customer    *Customer         `json:"customer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type PixQRCode struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	DevMode      bool      `json:"devMode"`
	BRCode       string    `json:"brCode"`
	BRCodeBase64 string    `json:"brCodeBase64"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type Product struct {
	ExternalID  string `json:"externalId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type BillingRequest struct {
	Frequency     string    `json:"frequency"`
	Methods       []string  `json:"methods"`
	Products      []Product `json:"products"`
	ReturnURL     string    `json:"returnUrl"`
	CompletionURL string    `json:"completionUrl"`
	Customer      *Customer `json:"customer,omitempty"`
	ExternalID    string    `json:"externalId,omitempty"`
}

type Billing struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error any             `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abacatepay request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || env.Error != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(env.Error)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("abacatepay response missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func errorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreatePixQRCode opens a PIX charge and returns the copy-paste code and QR image.
func (c *Client) CreatePixQRCode(ctx context.Context, req PixQRCodeRequest) (*PixQRCode, error) {
	var out PixQRCode
	if err := c.do(ctx, http.MethodPost, "/pixQrCode/create", nil, req, &out); err != nil {
		return nil, fmt.Errorf("create pix qr code: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create pix qr code: response missing id")
	}
	return &out, nil
}

// CheckPixQRCode returns the gateway status of a PIX charge.
func (c *Client) CheckPixQRCode(ctx context.Context, id string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/pixQrCode/check", url.Values{"id": {id}}, nil, &out); err != nil {
		return "", fmt.Errorf("check pix qr code: %w", err)
	}
	return out.Status, nil
}

// CreateBilling opens a hosted checkout page, used for card payments.
func (c *Client) CreateBilling(ctx context.Context, req BillingRequest) (*Billing, error) {
	if req.Frequency == "" {
		req.Frequency = "ONE_TIME"
	}
	if req.ReturnURL == "" {
		req.ReturnURL = c.cfg.ReturnURL
	}
	if req.CompletionURL == "" {
		req.CompletionURL = c.cfg.CompletionURL
	}
	var out Billing
	if err := c.do(ctx, http.MethodPost, "/billing/create", nil, req, &out); err != nil {
		return nil, fmt.Errorf("create billing: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create billing: response missing id")
	}
	return &out, nil
}

// GetBilling fetches a hosted billing by id.
func (c *Client) GetBilling(ctx context.Context, id string) (*Billing, error) {
	var out Billing
	if err := c.do(ctx, http.MethodGet, "/billing/get", url.Values{"id": {id}}, nil, &out); err != nil {
		return nil, fmt.Errorf("get billing: %w", err)
	}
	return &out, nil
}

// CheckStatus returns the raw gateway status for a billing id of either kind.
func (c *Client) CheckStatus(ctx context.Context, billingID string) (string, error) {
	if strings.HasPrefix(billingID, "bill_") {
		b, err := c.GetBilling(ctx, billingID)
		if err != nil {
			return "", err
		}
		return b.Status, nil
	}
	return c.CheckPixQRCode(ctx, billingID)
}
