// Package webhook delivers signed student events to college-registered endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"alumni/internal/errs"
	"alumni/internal/metrics"
	"alumni/internal/records"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-SCL-Signature"

const maxBody = 64 << 10

// Registry looks up a college's webhook registration.
type Registry interface {
	GetWebhook(ctx context.Context, collegeID string) (records.WebhookRegistration, error)
}

// Result describes one dispatch. Status is zero when no response was received.
type Result struct {
	Registered bool   `json:"registered"`
	Status     int    `json:"status,omitempty"`
	Body       string `json:"body,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Canonical encodes payload as compact JSON with object keys sorted at every
// level and without HTML escaping.
func Canonical(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the hex HMAC-SHA256 of the canonical encoding of payload.
func Sign(secret string, payload any) (string, error) {
	body, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return signBytes(secret, body), nil
}

func signBytes(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher posts signed payloads. It never returns an error: every failure
// is reported in the Result and logged.
type Dispatcher struct {
	registry Registry
	client   *http.Client
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher whose requests time out after timeout.
func NewDispatcher(registry Registry, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &Dispatcher{registry: registry, client: &http.Client{Timeout: timeout}, log: log}
}

// Dispatch delivers payload to the endpoint registered for collegeID.
func (d *Dispatcher) Dispatch(ctx context.Context, collegeID string, payload any) Result {
	reg, err := d.registry.GetWebhook(ctx, collegeID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			metrics.WebhookDispatches.WithLabelValues("unregistered").Inc()
			return Result{}
		}
		return d.fail(collegeID, Result{}, err)
	}
	res := Result{Registered: true}

	body, err := Canonical(payload)
	if err != nil {
		return d.fail(collegeID, res, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		return d.fail(collegeID, res, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signBytes(reg.HMACSecret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return d.fail(collegeID, res, err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	res.Status = resp.StatusCode
	res.Body = string(text)

	outcome := "delivered"
	if resp.StatusCode >= 300 {
		outcome = "rejected"
		d.log.Warn("webhook rejected", zap.String("collegeId", collegeID), zap.Int("status", resp.StatusCode))
	}
	metrics.WebhookDispatches.WithLabelValues(outcome).Inc()
	return res
}

func (d *Dispatcher) fail(collegeID string, res Result, err error) Result {
	metrics.WebhookDispatches.WithLabelValues("failed").Inc()
	d.log.Warn("webhook dispatch failed", zap.String("collegeId", collegeID), zap.Error(err))
	res.Err = err.Error()
	return res
}
