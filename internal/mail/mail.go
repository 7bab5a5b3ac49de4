// Package mail sends synchronous email through SMTP or the SendGrid API.
package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"alumni/internal/config"
	"alumni/internal/errs"
	"alumni/internal/metrics"
)

// Message is one email delivered to every address in To without disclosing
// the recipients to each other.
type Message struct {
	To        []string
	Subject   string
	PlainText string
	HTMLText  string
}

// DeliveryStatus is the transport's acceptance code.
type DeliveryStatus struct {
	Code      int    `json:"status"`
	Transport string `json:"transport"`
}

// Sender is a mail transport.
type Sender interface {
	Send(ctx context.Context, msg Message) (DeliveryStatus, error)
	Name() string
}

// Sender identity shared by the transports.
type From struct {
	Email string
	Name  string
}

// Header formats the From header value.
func (f From) Header() string {
	name := strings.TrimSpace(f.Name)
	email := strings.TrimSpace(f.Email)
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}

// New picks SMTP when host and credentials are configured, otherwise SendGrid.
func New(cfg config.App) Sender {
	from := From{Email: cfg.SenderEmail, Name: cfg.SenderName}
	if cfg.SMTPConfigured() {
		return NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, from)
	}
	return NewSendGrid(cfg.SendGridAPIKey, from)
}

// Mailer is the synchronous half of the notification dispatcher.
type Mailer struct {
	sender Sender
	log    *zap.Logger
}

// NewMailer wraps a transport.
func NewMailer(sender Sender, log *zap.Logger) *Mailer {
	return &Mailer{sender: sender, log: log}
}

// SendDirect emails a single recipient.
func (m *Mailer) SendDirect(ctx context.Context, to, subject, plain, html string) (DeliveryStatus, error) {
	return m.send(ctx, Message{To: []string{to}, Subject: subject, PlainText: plain, HTMLText: html})
}

// SendBulk emails every recipient in one message with BCC semantics.
func (m *Mailer) SendBulk(ctx context.Context, to []string, subject, plain, html string) (DeliveryStatus, error) {
	return m.send(ctx, Message{To: to, Subject: subject, PlainText: plain, HTMLText: html})
}

func (m *Mailer) send(ctx context.Context, msg Message) (DeliveryStatus, error) {
	var to []string
	for _, addr := range msg.To {
		if a := strings.TrimSpace(addr); a != "" {
			to = append(to, a)
		}
	}
	if len(to) == 0 {
		return DeliveryStatus{}, &errs.SendError{Reason: "no recipients provided"}
	}
	msg.To = to

	status, err := m.sender.Send(ctx, msg)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(m.sender.Name(), "failed").Inc()
		m.log.Warn("email send failed",
			zap.String("transport", m.sender.Name()),
			zap.Int("recipients", len(to)),
			zap.Error(err),
		)
		return DeliveryStatus{}, err
	}
	metrics.EmailsSent.WithLabelValues(m.sender.Name(), "sent").Inc()
	return status, nil
}
