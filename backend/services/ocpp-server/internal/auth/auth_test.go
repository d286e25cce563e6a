package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)

	token, err := svc.GenerateToken("operator")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "operator", claims.Subject)

	_, err = NewTokenService("other", time.Minute).ValidateToken(token)
	assert.Error(t, err)

	_, err = svc.GenerateToken("")
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := svc.GenerateToken("operator")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestAdminLogin(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	admin := NewAdmin("operator", hash, hasher, NewTokenService("secret", time.Minute))

	token, err := admin.Login("operator", "s3cret")
	require.NoError(t, err)
	claims, err := admin.Tokens().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)

	_, err = admin.Login("operator", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = admin.Login("intruder", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = NewAdmin("", "", hasher, NewTokenService("secret", time.Minute)).Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	_, err := hasher.Hash("   ")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	assert.NoError(t, hasher.Compare(hash, "s3cret"))
	assert.ErrorIs(t, hasher.Compare(hash, "nope"), ErrInvalidCredentials)

	err = hasher.Compare("not-a-hash", "s3cret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
}
