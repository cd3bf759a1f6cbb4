package signing

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	sig := s.Sign("session/0", 1700000000)
	require.NotEmpty(t, sig)

	assert.True(t, s.Validate("session/0", "1700000000", sig))
	assert.False(t, s.Validate("session/1", "1700000000", sig), "wrong subject")
	assert.False(t, s.Validate("session/0", "42", sig), "wrong expiry")
	assert.False(t, s.Validate("session/0", "not-a-number", sig))
}

func TestTokenRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	token := s.Token("abc/2", time.Minute)

	subject, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "abc/2", subject)
}

func TestVerifyRejects(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	other := NewSigner([]byte("othersecret"))

	_, err := s.Verify("%%%")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = s.Verify(base64.RawURLEncoding.EncodeToString([]byte("only|two")))
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = s.Verify(other.Token("abc/0", time.Minute))
	assert.ErrorIs(t, err, ErrInvalidToken)

	base := time.Unix(1700000000, 0)
	s.now = func() time.Time { return base }
	token := s.Token("abc/0", time.Minute)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
