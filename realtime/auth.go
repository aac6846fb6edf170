package realtime

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal JWT payload the channel trusts. Token
// issuance is out of scope (§1); the core only verifies.
type Claims struct {
	UserID string          `json:"sub"`
	Role   string          `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies connection tokens for all three namespaces.
// The passenger namespace additionally accepts a missing token as a
// guest connection; an invalid token is rejected in every namespace.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// ErrInvalidToken is returned for a malformed or expired token.
var ErrInvalidToken = fmt.Errorf("invalid or expired token")

// ErrForbidden is returned when the token's role does not match the
// namespace being connected to.
var ErrForbidden = fmt.Errorf("role not permitted for this namespace")

// Authenticate parses and validates tokenString against ns's role
// requirement. A passenger connecting with an empty token is treated
// as a guest: (nil, nil).
func (a *Authenticator) Authenticate(ns Namespace, tokenString string) (*Claims, error) {
	if tokenString == "" {
		if ns == NamespacePassenger {
			return nil, nil
		}
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	switch ns {
	case NamespaceAdmin:
		if claims.Role != string(NamespaceAdmin) {
			return nil, ErrForbidden
		}
	case NamespaceDriver:
		if claims.Role != string(NamespaceDriver) {
			return nil, ErrForbidden
		}
	}

	return claims, nil
}

// issueForTest is a helper for tests: it is not part of
// the core's public contract since token issuance is out of scope.
func (a *Authenticator) issueForTest(userID, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
