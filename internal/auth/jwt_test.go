package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHMACVerifier_RequiresSecret(t *testing.T) {
	_, err := NewHMACVerifier("")
	assert.Error(t, err)
}

func TestAuthenticate_IssuedToken(t *testing.T) {
	v, err := NewHMACVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue(42, "Admin", time.Hour)
	require.NoError(t, err)

	id, err := v.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 42, UserType: "Admin"}, id)

	id, err = v.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
}

func TestAuthenticate_Rejects(t *testing.T) {
	v, _ := NewHMACVerifier("test-secret")
	other, _ := NewHMACVerifier("other-secret")

	expired, err := v.Issue(1, "", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue(1, "", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)

	for name, tok := range map[string]string{
		"expired":     expired,
		"foreign":     foreign,
		"no exp":      noExp,
		"bad subject": badSubject,
		"wrong alg":   wrongAlg,
		"garbage":     "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Authenticate(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAnonymous(t *testing.T) {
	id, err := Anonymous{}.Authenticate("")
	require.NoError(t, err)
	assert.Zero(t, id.UserID)
}

func TestFromSecret(t *testing.T) {
	a, err := FromSecret("")
	require.NoError(t, err)
	assert.IsType(t, Anonymous{}, a)

	a, err = FromSecret("s3cret")
	require.NoError(t, err)
	assert.IsType(t, &HMACVerifier{}, a)
}
