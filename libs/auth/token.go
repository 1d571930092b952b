// Package auth verifies the bearer tokens that identify calendar callers. Tokens are compact
// JWS (HS256 with a shared secret, or RS256 with keys served from a JWKS endpoint).
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name,omitempty"`
	Exp  int64  `json:"exp,omitempty"`
	Iat  int64  `json:"iat,omitempty"`
}

func (c Claims) expired(now time.Time) bool {
	return c.Exp > 0 && now.Unix() > c.Exp
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

type parsedToken struct {
	header   header
	claims   Claims
	unsigned string
	sig      []byte
}

func parse(token string) (parsedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return parsedToken{}, ErrInvalidToken
	}
	var p parsedToken
	if err := decodeSegment(parts[0], &p.header); err != nil {
		return parsedToken{}, err
	}
	if err := decodeSegment(parts[1], &p.claims); err != nil {
		return parsedToken{}, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return parsedToken{}, ErrInvalidToken
	}
	p.unsigned = parts[0] + "." + parts[1]
	p.sig = sig
	return p, nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// SignHS256 mints a token for local setups and tests.
func SignHS256(claims Claims, secret string) (string, error) {
	h, err := encodeSegment(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	unsigned := h + "." + payload
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(hmacSHA256(unsigned, secret)), nil
}

func verifyHS256(p parsedToken, secret string) error {
	if secret == "" || !hmac.Equal(p.sig, hmacSHA256(p.unsigned, secret)) {
		return ErrInvalidToken
	}
	return nil
}

func verifyRS256(p parsedToken, pub *rsa.PublicKey) error {
	hash := sha256.Sum256([]byte(p.unsigned))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], p.sig); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func hmacSHA256(data, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}
