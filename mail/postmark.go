package mail

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"form-payment-svc/models"

	"github.com/keighl/postmark"
	"go.uber.org/zap"
)

// Mailer sends payer notifications through Postmark.
type Mailer struct {
	client *postmark.Client
	from   string
	appURL string
	logger *zap.Logger
}

func NewMailer(serverToken, from, appURL string, logger *zap.Logger) *Mailer {
	client := postmark.NewClient(serverToken, "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &Mailer{client: client, from: from, appURL: appURL, logger: logger}
}

func (m *Mailer) SendPaymentConfirmationEmail(ctx context.Context, c models.PaymentConfirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	invoiceURL := fmt.Sprintf("%s/api/v3/payments/%s/%s/invoice/download", m.appURL, c.FormID, c.PaymentID)
	amount := formatAmount(c.PaymentAmount)
	title := html.EscapeString(c.FormTitle)

	res, err := m.client.SendEmail(postmark.Email{
		From:    m.from,
		To:      c.Email,
		Subject: fmt.Sprintf("Your payment on %s was successful", c.FormTitle),
		HtmlBody: fmt.Sprintf(
			"<p>Thank you for your payment of <strong>%s</strong> for %s.</p>"+
				"<p>Response ID: %s<br>Payment ID: %s</p>"+
				"<p><a href=\"%s\">Download your invoice</a></p>",
			amount, title, c.SubmissionID, c.PaymentID, invoiceURL),
		TextBody: fmt.Sprintf(
			"Thank you for your payment of %s for %s.\n\nResponse ID: %s\nPayment ID: %s\n\nDownload your invoice: %s\n",
			amount, c.FormTitle, c.SubmissionID, c.PaymentID, invoiceURL),
		Tag: "payment-confirmation",
	})
	if err != nil {
		return fmt.Errorf("failed to send payment confirmation email: %w", err)
	}

	m.logger.Debug("Payment confirmation email accepted",
		zap.String("payment_id", c.PaymentID.String()),
		zap.String("message_id", res.MessageID))
	return nil
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("S$%d.%02d", cents/100, cents%100)
}
