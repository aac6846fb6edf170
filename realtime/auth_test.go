package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatePassengerGuestOnEmptyToken(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	claims, err := a.Authenticate(NamespacePassenger, "")
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAuthenticateDriverRejectsEmptyToken(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	_, err := a.Authenticate(NamespaceDriver, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateAcceptsMatchingRole(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.issueForTest("driver-1", "driver", time.Hour)
	require.NoError(t, err)

	claims, err := a.Authenticate(NamespaceDriver, token)
	require.NoError(t, err)
	assert.Equal(t, "driver-1", claims.UserID)
}

func TestAuthenticateRejectsMismatchedRole(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.issueForTest("pax-1", "passenger", time.Hour)
	require.NoError(t, err)

	_, err = a.Authenticate(NamespaceAdmin, token)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	issuer := NewAuthenticator([]byte("secret-a"))
	verifier := NewAuthenticator([]byte("secret-b"))

	token, err := issuer.issueForTest("u1", "passenger", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Authenticate(NamespacePassenger, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.issueForTest("u1", "passenger", -time.Minute)
	require.NoError(t, err)

	_, err = a.Authenticate(NamespacePassenger, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatePassengerAllowsAuthenticated(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.issueForTest("u1", "passenger", time.Hour)
	require.NoError(t, err)

	claims, err := a.Authenticate(NamespacePassenger, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}
