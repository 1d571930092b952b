package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/planner/libs/httpx"
)

type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Verifier accepts HS256 tokens signed with secret and, when keys is set, RS256 tokens whose
// kid resolves through keys.
type Verifier struct {
	secret string
	keys   KeySource
	now    func() time.Time
}

func NewVerifier(secret string, keys KeySource) *Verifier {
	return &Verifier{secret: secret, keys: keys, now: time.Now}
}

// Enabled is false when neither a secret nor a key source is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && (v.secret != "" || v.keys != nil)
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	p, err := parse(token)
	if err != nil {
		return nil, err
	}
	switch {
	case p.header.Alg == "RS256" && v.keys != nil && p.header.Kid != "":
		pub, err := v.keys.Key(ctx, p.header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		if err := verifyRS256(p, pub); err != nil {
			return nil, err
		}
	case p.header.Alg == "HS256":
		if err := verifyHS256(p, v.secret); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidToken
	}
	if p.claims.Sub == "" || p.claims.expired(v.now()) {
		return nil, ErrInvalidToken
	}
	return &p.claims, nil
}

// RequireBearer authenticates every request whose path is not public and replaces the caller
// header with the token subject, so a client cannot act as someone else by setting it.
func RequireBearer(v *Verifier, public func(path string) bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public != nil && public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			r.Header.Set(httpx.UserIDHeader, claims.Sub)
			next.ServeHTTP(w, r)
		})
	}
}
