package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminTokenIssuer = "keygate"

// AdminPrincipal identifies the operator behind an admin bearer token.
type AdminPrincipal struct {
	Subject   string
	ExpiresAt time.Time
}

// AdminTokens mints and validates the HS256 bearer tokens that guard the
// admin API. Tokens are minted offline by the CLI; there is no login route.
type AdminTokens struct {
	secret []byte
}

func NewAdminTokens(secret string) (*AdminTokens, error) {
	if len(secret) < MinHashSecretLen {
		return nil, errors.New("admin jwt secret must be at least 16 bytes")
	}
	return &AdminTokens{secret: []byte(secret)}, nil
}

// Issue creates a signed token for subject valid for ttl.
func (a *AdminTokens) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("admin token subject is required")
	}
	now := time.Now()
	claims := adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    adminTokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate verifies tokenStr and returns its principal.
func (a *AdminTokens) Validate(tokenStr string) (*AdminPrincipal, error) {
	claims := &adminClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(adminTokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidAdminToken
	}
	if claims.Role != "admin" || claims.Subject == "" {
		return nil, ErrInvalidAdminToken
	}

	p := &AdminPrincipal{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
