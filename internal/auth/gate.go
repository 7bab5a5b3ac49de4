// Package auth verifies bearer credentials and yields the calling principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alumni/internal/config"
	"alumni/internal/errs"
)

// Principal is the authenticated caller.
type Principal struct {
	UID   string `json:"uid"`
	Admin bool   `json:"admin"`
}

// DevPrincipal is returned for every request when the bypass is enabled.
var DevPrincipal = Principal{UID: "dev", Admin: true}

// Verifier decodes a bearer token into a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Gate authenticates Authorization header values.
type Gate struct {
	verifier Verifier
	bypass   bool
}

// NewGate creates a gate. A nil verifier makes every non-bypassed request
// fail with ErrServiceUnavailable.
func NewGate(v Verifier, bypass bool) *Gate {
	return &Gate{verifier: v, bypass: bypass}
}

// Authenticate resolves the principal for an Authorization header value.
func (g *Gate) Authenticate(ctx context.Context, header string) (Principal, error) {
	if g.bypass {
		return DevPrincipal, nil
	}
	if g.verifier == nil {
		return Principal{}, fmt.Errorf("%w: identity verifier not initialized", errs.ErrServiceUnavailable)
	}
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return Principal{}, fmt.Errorf("%w: invalid auth header", errs.ErrUnauthenticated)
	}
	token := strings.TrimSpace(header[len("bearer "):])
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty bearer token", errs.ErrUnauthenticated)
	}
	p, err := g.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, errs.ErrServiceUnavailable) || errors.Is(err, errs.ErrInvalidToken) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	return p, nil
}

// NewVerifier builds the verifier selected by AUTH_MODE. It returns nil when
// the selected mode lacks its required settings.
func NewVerifier(cfg config.App) Verifier {
	switch cfg.AuthMode {
	case "jwt":
		if cfg.JWTSigningKey == "" {
			return nil
		}
		return NewHMACVerifier(cfg.JWTSigningKey, cfg.JWTIssuer)
	default:
		if cfg.FirebaseProjectID == "" {
			return nil
		}
		return NewFirebaseVerifier(cfg.FirebaseProjectID, "", nil)
	}
}
