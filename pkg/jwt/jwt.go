package jwt

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSecret     = errors.New("jwt secret is empty")
)

// Role grants access to a class of admin operations
type Role string

const (
	// RoleOperator may change templates, listings and caches
	RoleOperator Role = "operator"
	// RoleViewer may only read
	RoleViewer Role = "viewer"
)

const issuer = "marketplace-responder"

// Claims represents the claims in an operator token
type Claims struct {
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token carries role
func (c *Claims) HasRole(role Role) bool {
	return slices.Contains(c.Roles, role)
}

// Service signs and validates HS256 operator tokens
type Service struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a JWT service; expiry defaults to 24 hours
func NewService(secret string, expiry time.Duration) (*Service, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// GenerateToken signs a token for subject holding roles
func (s *Service) GenerateToken(subject string, roles ...Role) (string, error) {
	now := s.now()
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken validates a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
