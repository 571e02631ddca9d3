// Package auth authenticates gateway requests to a directory.Principal.
// Session authentication itself (login, token issuance) lives outside the
// gateway; this package only verifies the bearer token a browser presents
// when opening a WebSocket.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rjsadow/drawbridge/internal/directory"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves an HTTP request to a principal.
type Authenticator interface {
	Authenticate(r *http.Request) (directory.Principal, error)
}

// Claims are the JWT claims carried by Drawbridge access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// JWTAuthenticator verifies HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator with the given signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate extracts and verifies the token. Browsers cannot set headers
// on WebSocket requests, so the token is also accepted as a "token" query
// parameter or cookie.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (directory.Principal, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return directory.Principal{}, ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return directory.Principal{}, ErrUnauthenticated
	}

	return directory.Principal{UserID: claims.UserID, Username: claims.Username}, nil
}

// IssueToken mints an access token for a principal. Used by tests and by
// deployments that co-host the login endpoint.
func (a *JWTAuthenticator) IssueToken(p directory.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   p.Username,
		},
		UserID:   p.UserID,
		Username: p.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if v := r.URL.Query().Get("token"); v != "" {
		return v
	}
	if c, err := r.Cookie("drawbridge_token"); err == nil {
		return c.Value
	}
	return ""
}
