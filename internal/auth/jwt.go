package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"alumni/internal/errs"
)

// Claims represents the JWT payload. Admin mirrors the identity provider's
// custom "admin" claim.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for subject.
func Issue(subject string, admin bool, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errors.New("signing key required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// HMACVerifier accepts tokens minted by Issue with the shared key.
type HMACVerifier struct {
	key    string
	issuer string
}

// NewHMACVerifier creates a verifier for self-issued tokens.
func NewHMACVerifier(key, issuer string) *HMACVerifier {
	return &HMACVerifier{key: key, issuer: issuer}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (Principal, error) {
	claims, err := Parse(token, v.key, v.issuer)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: empty subject", errs.ErrInvalidToken)
	}
	return Principal{UID: claims.Subject, Admin: claims.Admin}, nil
}
