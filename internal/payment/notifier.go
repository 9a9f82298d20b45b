package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/coursepay/internal/email"
	"github.com/dukerupert/coursepay/internal/evolution"
	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
)

// Messenger sends a WhatsApp text. Implemented by *evolution.Client.
type Messenger interface {
	SendText(ctx context.Context, number, text string) error
}

// Mailer sends the confirmation email. Implemented by *email.Client.
type Mailer interface {
	SendPurchaseConfirmation(ctx context.Context, pc email.PurchaseConfirmation) error
}

// Notification describes a confirmed purchase to tell the buyer about.
type Notification struct {
	Purchase    *model.Purchase
	CourseTitle string
	Credentials *Credentials
	// ResetRequired is set when the account has a generated password that
	// can no longer be sent.
	ResetRequired bool
}

// Notifier tells buyers their payment went through. Delivery is best effort:
// failures are logged and counted, never returned.
type Notifier struct {
	messenger   Messenger
	mailer      Mailer
	countryCode string
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewNotifier builds a Notifier. mailer may be nil, in which case buyers
// without a phone number are not notified.
func NewNotifier(messenger Messenger, mailer Mailer, countryCode string, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	if countryCode == "" {
		countryCode = "55"
	}
	return &Notifier{
		messenger:   messenger,
		mailer:      mailer,
		countryCode: countryCode,
		timeout:     15 * time.Second,
		metrics:     m,
		logger:      logger,
	}
}

// NotifyConfirmed sends the confirmation message. It is detached from the
// caller's cancellation so a client hanging up does not abort delivery.
func (n *Notifier) NotifyConfirmed(ctx context.Context, note Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	p := note.Purchase
	number := evolution.NormalizeNumber(p.Buyer.Phone, n.countryCode)

	switch {
	case number != "" && n.messenger != nil:
		err := n.messenger.SendText(ctx, number, confirmationText(note))
		n.metrics.Notification("whatsapp", err)
		if err != nil {
			n.logger.Error("send whatsapp confirmation", "purchase_id", p.ID, "error", err)
			return
		}
		n.logger.Info("whatsapp confirmation sent", "purchase_id", p.ID)

	case p.Buyer.Email != "" && n.mailer != nil:
		pc := email.PurchaseConfirmation{
			To:          p.Buyer.Email,
			BuyerName:   p.Buyer.Name,
			CourseTitle: note.CourseTitle,
			Amount:      FormatBRL(p.Amount),
		}
		if note.Credentials != nil {
			pc.LoginEmail = note.Credentials.Email
			pc.TempPassword = note.Credentials.Password
		}
		pc.ResetRequired = note.ResetRequired
		err := n.mailer.SendPurchaseConfirmation(ctx, pc)
		n.metrics.Notification("email", err)
		if err != nil {
			n.logger.Error("send email confirmation", "purchase_id", p.ID, "error", err)
			return
		}
		n.logger.Info("email confirmation sent", "purchase_id", p.ID)

	default:
		n.logger.Warn("no channel to notify buyer", "purchase_id", p.ID)
	}
}

func confirmationText(note Notification) string {
	p := note.Purchase
	first, _ := splitName(p.Buyer.Name)
	if first == "" {
		first = "tudo bem"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Olá, %s! ✅\n\n", first)
	fmt.Fprintf(&b, "Seu pagamento de %s foi confirmado e sua matrícula no curso *%s* já está ativa.\n",
		FormatBRL(p.Amount), note.CourseTitle)
	if c := note.Credentials; c != nil {
		b.WriteString("\nSeus dados de acesso:\n")
		fmt.Fprintf(&b, "E-mail: %s\n", c.Email)
		fmt.Fprintf(&b, "Senha temporária: %s\n", c.Password)
		b.WriteString("Por segurança, troque a senha no primeiro acesso.\n")
	} else if note.ResetRequired {
		fmt.Fprintf(&b, "\nPara acessar, use \"Esqueci minha senha\" com o e-mail %s.\n", p.Buyer.Email)
	}
	b.WriteString("\nBons estudos!")
	return b.String()
}

// FormatBRL renders an amount as Brazilian reais, e.g. "R$ 1.234,56".
func FormatBRL(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	s := d.StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var grouped []byte
	for i := range len(whole) {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, whole[i])
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, grouped, frac)
}
