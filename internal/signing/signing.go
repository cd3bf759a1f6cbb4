// Package signing issues and checks the HMAC tokens that act as preview
// handles for staged media items.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedToken = errors.New("malformed preview token")
	ErrInvalidToken   = errors.New("invalid preview token")
	ErrExpiredToken   = errors.New("preview token expired")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(subject string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", subject, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected.
func (s *Signer) Validate(subject, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(subject, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Token packs subject, expiry and signature into one URL safe string.
func (s *Signer) Token(subject string, ttl time.Duration) string {
	expiry := s.now().Add(ttl).Unix()
	raw := subject + "|" + strconv.FormatInt(expiry, 10) + "|" + s.Sign(subject, expiry)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Verify unpacks a Token and returns its subject when the signature holds and
// the expiry has not passed.
func (s *Signer) Verify(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformedToken
	}
	subject, expires, signature := parts[0], parts[1], parts[2]
	if !s.Validate(subject, expires, signature) {
		return "", ErrInvalidToken
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if time.Unix(exp, 0).Before(s.now()) {
		return "", ErrExpiredToken
	}
	return subject, nil
}
