package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"os"

	"everestmart-backend/pkg/logkey"
)

// Mailer sends plain-text emails over SMTP. Credentials come from the
// environment; when unset, sends are logged and skipped so development
// setups work without a mail provider.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewMailerFromEnv() *Mailer {
	return &Mailer{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		username: os.Getenv("SMTP_USERNAME"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     os.Getenv("SMTP_FROM"),
	}
}

func (m *Mailer) Send(to, subject, body string) error {
	if m.host == "" {
		slog.Info("smtp not configured, skipping email", slog.String("To", to), slog.String("Subject", subject))
		return nil
	}

	from := m.from
	if from == "" {
		from = "no-reply@everestmart.local"
	}

	message := []byte("To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := smtp.SendMail(m.host+":"+m.port, auth, from, []string{to}, message); err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}

	slog.Info("email sent", slog.String("To", to), slog.String("Subject", subject))
	return nil
}

// SendOrderConfirmation emails the standard order confirmation.
func (m *Mailer) SendOrderConfirmation(to, orderID string) error {
	body := fmt.Sprintf("Thank you for your order! Your order ID is %s. We are processing it now.", orderID)
	return m.Send(to, "Order Confirmation", body)
}

// SMSSender is the out-of-band channel for OTPs and status texts. The
// default implementation only logs; a provider integration satisfies the
// same interface.
type SMSSender interface {
	SendSMS(phone, message string) error
}

type LogSMSSender struct{}

func (LogSMSSender) SendSMS(phone, message string) error {
	slog.Info("sms send", slog.String("Phone", phone), slog.String("Message", message))
	return nil
}

var _ SMSSender = LogSMSSender{}

// LogFailure records a dropped side effect; used as the queue failed
// callback.
func LogFailure(what string, err error) {
	slog.Error("side effect dropped", slog.String("Task", what), slog.String(logkey.ERROR, err.Error()))
}
