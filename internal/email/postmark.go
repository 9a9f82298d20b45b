package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	loginURL    string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient builds a Postmark client. loginURL is linked from the
// confirmation email so the buyer can reach the course.
func NewClient(serverToken, fromEmail, loginURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		loginURL:    loginURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token and sender are set.
func (c *Client) Configured() bool {
	return c.serverToken != "" && c.fromEmail != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// PurchaseConfirmation is what the buyer is told once a payment is confirmed.
// TempPassword is only set when a login was created with a generated password.
// ResetRequired asks the buyer to reset a generated password that is no
// longer known.
type PurchaseConfirmation struct {
	To            string
	BuyerName     string
	CourseTitle   string
	Amount        string
	LoginEmail    string
	TempPassword  string
	ResetRequired bool
}

// SendPurchaseConfirmation emails the buyer that their enrollment is active.
func (c *Client) SendPurchaseConfirmation(ctx context.Context, pc PurchaseConfirmation) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	subject := fmt.Sprintf("Pagamento confirmado: %s", pc.CourseTitle)

	var text strings.Builder
	fmt.Fprintf(&text, "Olá, %s!\n\nSeu pagamento de %s foi confirmado e sua matrícula em \"%s\" está ativa.\n",
		pc.BuyerName, pc.Amount, pc.CourseTitle)
	if pc.TempPassword != "" {
		fmt.Fprintf(&text, "\nSeu acesso:\nE-mail: %s\nSenha temporária: %s\nTroque a senha no primeiro acesso.\n",
			pc.LoginEmail, pc.TempPassword)
	} else if pc.ResetRequired {
		fmt.Fprintf(&text, "\nPara acessar, use \"Esqueci minha senha\" com o e-mail %s.\n", pc.To)
	}
	if c.loginURL != "" {
		fmt.Fprintf(&text, "\nAcesse: %s\n", c.loginURL)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Olá, %s!</p><p>Seu pagamento de %s foi confirmado e sua matrícula em <strong>%s</strong> está ativa.</p>",
		html.EscapeString(pc.BuyerName), html.EscapeString(pc.Amount), html.EscapeString(pc.CourseTitle))
	if pc.TempPassword != "" {
		fmt.Fprintf(&body, "<p>E-mail: %s<br>Senha temporária: <code>%s</code></p><p>Troque a senha no primeiro acesso.</p>",
			html.EscapeString(pc.LoginEmail), html.EscapeString(pc.TempPassword))
	} else if pc.ResetRequired {
		fmt.Fprintf(&body, "<p>Para acessar, use \"Esqueci minha senha\" com o e-mail %s.</p>", html.EscapeString(pc.To))
	}
	if c.loginURL != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Acessar o curso</a></p>`, html.EscapeString(c.loginURL))
	}

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       pc.To,
		Subject:  subject,
		HtmlBody: body.String(),
		TextBody: text.String(),
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
