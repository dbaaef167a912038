// Package auth validates bearer tokens issued by the external identity provider.
// GridBill never issues or stores credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/gridbill/gridbill/internal/shared"
)

// Claims are the token claims GridBill reads.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// VerifierConfig configures token validation.
type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks HS256 tokens and turns them into principals.
type Verifier struct {
	cfg    VerifierConfig
	secret []byte
	now    func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret required")
	}
	return &Verifier{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// Verify parses raw and returns the asserted principal.
func (v *Verifier) Verify(raw string) (*shared.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}

	now := v.now()
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Time.Add(v.cfg.Leeway)) {
		return nil, fmt.Errorf("%w: token expired", shared.ErrUnauthorized)
	}
	if v.cfg.Issuer != "" && !claims.VerifyIssuer(v.cfg.Issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", shared.ErrUnauthorized)
	}
	if v.cfg.Audience != "" && !claims.VerifyAudience(v.cfg.Audience, true) {
		return nil, fmt.Errorf("%w: unexpected audience", shared.ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", shared.ErrUnauthorized)
	}

	roles := make([]string, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, strings.ToLower(r))
		}
	}
	return &shared.Principal{Subject: claims.Subject, Name: claims.Name, Roles: roles}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
