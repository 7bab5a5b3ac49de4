package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"alumni/internal/errs"
)

// SMTP delivers through an authenticated SMTP relay, upgrading with STARTTLS
// when offered and using implicit TLS on port 465.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	from     From
	timeout  time.Duration
}

// NewSMTP creates an SMTP transport.
func NewSMTP(host string, port int, username, password string, from From) *SMTP {
	return &SMTP{host: host, port: port, username: username, password: password, from: from, timeout: 20 * time.Second}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, msg Message) (DeliveryStatus, error) {
	raw, err := buildMIME(s.from, msg)
	if err != nil {
		return DeliveryStatus{}, &errs.SendError{Reason: err.Error()}
	}
	if err := s.deliver(ctx, msg.To, raw); err != nil {
		return DeliveryStatus{}, &errs.SendError{Reason: "SMTP send failed: " + err.Error()}
	}
	return DeliveryStatus{Code: 250, Transport: s.Name()}, nil
}

func (s *SMTP) deliver(ctx context.Context, to []string, raw []byte) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}
	tlsCfg := &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}
	if s.port == 465 {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && s.port != 465 {
		if err := c.StartTLS(tlsCfg); err != nil {
			return err
		}
	}
	if s.username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(s.from.Email); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMIME renders a multipart/alternative message. Recipients only appear
// in the envelope, never in the headers.
func buildMIME(from From, msg Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct{ kind, text string }{
		{"text/plain", msg.PlainText},
		{"text/html", msg.HTMLText},
	}
	for _, p := range parts {
		if p.text == "" {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.kind+"; charset=utf-8")
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.text)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.Header())
	out.WriteString("To: undisclosed-recipients:;\r\n")
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
