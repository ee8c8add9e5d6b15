package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("secret")
	token, err := m.GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Principal())
}

func TestParseTokenRejects(t *testing.T) {
	m := NewManager("secret")

	expired, err := m.GenerateToken("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = m.ParseToken(expired)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))

	other, err := NewManager("other").GenerateToken("user-1", time.Hour)
	require.NoError(t, err)
	_, err = m.ParseToken(other)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ParseToken(unsigned)
	assert.Error(t, err)

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{})
	signed, err := anonymous.SignedString(m.Secret)
	require.NoError(t, err)
	_, err = m.ParseToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubjectFallback(t *testing.T) {
	m := NewManager("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user_2abc"}})
	signed, err := token.SignedString(m.Secret)
	require.NoError(t, err)

	claims, err := m.ParseToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user_2abc", claims.Principal())
}

func TestTokenFromRequest(t *testing.T) {
	cases := map[string]bool{
		"":           false,
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer":     false,
		"Bearer ":    false,
	}
	for header, ok := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		_, got := TokenFromRequest(r)
		assert.Equal(t, ok, got, header)
	}
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)
	id, ok := UserIDFromContext(WithUserID(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
