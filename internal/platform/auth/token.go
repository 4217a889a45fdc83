package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// TokenIssuer mints short-lived HMAC tokens for the demo credential set. This
// is intentionally not a full identity provider; real deployments sit behind
// an external one.
type TokenIssuer struct {
	issuer string
	secret []byte
	ttl    time.Duration
	users  map[string]DemoUser
}

// DemoUser is a static credential with attached roles.
type DemoUser struct {
	Password string
	Roles    []string
}

func NewTokenIssuer(issuer string, secret []byte, ttl time.Duration, users map[string]DemoUser) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{issuer: issuer, secret: secret, ttl: ttl, users: users}
}

// Issue signs a token for the given subject and roles.
func (t *TokenIssuer) Issue(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenHandler handles POST /api/v1/auth/token.
func (t *TokenIssuer) TokenHandler(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, ok := t.users[req.Username]
	if !ok || subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := t.Issue(req.Username, user.Roles)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token signing failed")
	}

	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(t.ttl.Seconds()),
	})
}
