package mail

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"alumni/internal/errs"
)

type sgClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers through the SendGrid v3 API.
type SendGrid struct {
	client sgClient
	from   From
}

// NewSendGrid creates an API transport. With an empty key every send fails
// with a configuration error rather than contacting the API.
func NewSendGrid(apiKey string, from From) *SendGrid {
	s := &SendGrid{from: from}
	if apiKey != "" {
		s.client = sendgrid.NewSendClient(apiKey)
	}
	return s
}

func (s *SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Send(ctx context.Context, msg Message) (DeliveryStatus, error) {
	if s.client == nil {
		return DeliveryStatus{}, &errs.SendError{Reason: "SENDGRID_API_KEY is not configured"}
	}
	resp, err := s.client.SendWithContext(ctx, s.build(msg))
	if err != nil {
		return DeliveryStatus{}, &errs.SendError{Reason: "email provider error: " + err.Error()}
	}
	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return DeliveryStatus{}, &errs.SendError{Reason: fmt.Sprintf(
			"email provider unauthorized (%d). Check SENDGRID_API_KEY and verify sender %s. Provider said: %s",
			resp.StatusCode, s.from.Email, resp.Body)}
	case resp.StatusCode >= 300:
		return DeliveryStatus{}, &errs.SendError{Reason: fmt.Sprintf(
			"email provider error (%d). Provider said: %s", resp.StatusCode, resp.Body)}
	}
	return DeliveryStatus{Code: resp.StatusCode, Transport: s.Name()}, nil
}

// build gives every recipient their own personalization so no address is
// visible to the others.
func (s *SendGrid) build(msg Message) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(s.from.Name, s.from.Email))
	m.Subject = msg.Subject
	for _, to := range msg.To {
		p := sgmail.NewPersonalization()
		p.AddTos(sgmail.NewEmail("", to))
		m.AddPersonalizations(p)
	}
	if msg.PlainText != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.PlainText))
	}
	if msg.HTMLText != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLText))
	}
	return m
}
