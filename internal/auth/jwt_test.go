package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidate(t *testing.T) {
	j := NewJWT("secret", "identity-service")
	token, err := j.Sign(42, time.Hour)
	require.NoError(t, err)

	userID, err := j.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestValidateRejects(t *testing.T) {
	j := NewJWT("secret", "identity-service")

	expired, _ := j.Sign(1, -time.Minute)
	_, err := j.ValidateToken(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, _ := NewJWT("other", "identity-service").Sign(1, time.Hour)
	_, err = j.ValidateToken(context.Background(), other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, _ := NewJWT("secret", "elsewhere").Sign(1, time.Hour)
	_, err = j.ValidateToken(context.Background(), wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	_, err = j.ValidateToken(context.Background(), unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "abc",
		Issuer:    "identity-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	badSubject, _ := bad.SignedString([]byte("secret"))
	_, err = j.ValidateToken(context.Background(), badSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromHeader(t *testing.T) {
	token, ok := TokenFromHeader("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = TokenFromHeader("bearer xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok = TokenFromHeader("Basic abc")
	assert.False(t, ok)
	_, ok = TokenFromHeader("Bearer")
	assert.False(t, ok)
}
