package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"alumni/internal/errs"
)

// GoogleCertsURL serves the x509 certificates that sign Firebase ID tokens.
const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// FirebaseVerifier verifies Firebase ID tokens (RS256) for one project.
// Signing certificates are cached for the max-age the endpoint advertises;
// concurrent refreshes collapse into one request.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	now       func() time.Time

	mu     sync.RWMutex
	keys   map[string]*rsa.PublicKey
	expiry time.Time
	group  singleflight.Group
}

// NewFirebaseVerifier creates a verifier; certsURL defaults to GoogleCertsURL.
func NewFirebaseVerifier(projectID, certsURL string, client *http.Client) *FirebaseVerifier {
	if certsURL == "" {
		certsURL = GoogleCertsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &FirebaseVerifier{projectID: projectID, certsURL: certsURL, client: client, now: time.Now}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	keys, err := v.publicKeys(ctx)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: identity keys: %v", errs.ErrServiceUnavailable, err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, errors.New("unknown key id")
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: empty subject", errs.ErrInvalidToken)
	}
	return Principal{UID: claims.Subject, Admin: claims.Admin}, nil
}

func (v *FirebaseVerifier) publicKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	v.mu.RLock()
	keys, expiry := v.keys, v.expiry
	v.mu.RUnlock()
	if keys != nil && v.now().Before(expiry) {
		return keys, nil
	}

	res, err, _ := v.group.Do("certs", func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		keys, maxAge, err := v.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys = keys
		v.expiry = v.now().Add(maxAge)
		v.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]*rsa.PublicKey), nil
}

func (v *FirebaseVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs endpoint returned %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return nil, 0, fmt.Errorf("decode certs: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, 0, fmt.Errorf("cert %s: %w", kid, err)
		}
		keys[kid] = key
	}
	return keys, maxAge(resp.Header.Get("Cache-Control")), nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Hour
}
