package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownRole        = errors.New("unknown role")
)

// DefaultTokenTTL is how long a login token stays valid.
const DefaultTokenTTL = 12 * time.Hour

// Authenticator exchanges a per-role shared password for a signed token.
type Authenticator struct {
	passwords  map[string]string
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthenticator builds an Authenticator. passwords maps a role to its
// shared password; roles with an empty password cannot log in.
func NewAuthenticator(passwords map[string]string, signingKey []byte, issuer string) *Authenticator {
	cp := make(map[string]string, len(passwords))
	for role, pw := range passwords {
		if pw != "" {
			cp[role] = pw
		}
	}
	return &Authenticator{
		passwords:  cp,
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        DefaultTokenTTL,
		now:        time.Now,
	}
}

// Token is the login response body.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
}

// Login checks password against the role's shared secret and issues an
// HS256 token carrying that role.
func (a *Authenticator) Login(role, password string) (*Token, error) {
	expected, ok := a.passwords[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   role,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: []string{role},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp, Role: role}, nil
}

type loginRequest struct {
	Role     string `json:"role"`
	Password string `json:"password"`
}

// LoginHandler serves POST /auth/login.
type LoginHandler struct {
	auth *Authenticator
}

func NewLoginHandler(a *Authenticator) *LoginHandler {
	return &LoginHandler{auth: a}
}

func (h *LoginHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
}

func (h *LoginHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tok, err := h.auth.Login(req.Role, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownRole):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInvalidCredentials):
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, tok)
}
