package authn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// Claims is the JWT claim set issued by the platform's auth service
type Claims struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role"`
	OrganizationID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator verifies platform JWTs and produces engine identities
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator creates a validator for HMAC-signed tokens
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Validate parses and verifies a token and returns the identity it carries
func (tv *TokenValidator) Validate(tokenString string) (*sec.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.secret, nil
	})
	if err != nil {
		return nil, sec.WrapError(sec.ErrorTypeUnauthorized, err, "failed to parse token")
	}
	if !token.Valid {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized, "invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized, "invalid token claims")
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized, "token expired")
	}
	if tv.issuer != "" && claims.Issuer != tv.issuer {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized, "unexpected token issuer %q", claims.Issuer)
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized, "token missing required claims")
	}

	return &sec.Identity{
		UserID:         claims.UserID,
		Email:          claims.Email,
		Role:           sec.RoleID(claims.Role),
		OrganizationID: claims.OrganizationID,
	}, nil
}

// Issue creates a signed token for the identity, used by tests and tooling
func (tv *TokenValidator) Issue(identity *sec.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:         identity.UserID,
		Email:          identity.Email,
		Role:           string(identity.Role),
		OrganizationID: identity.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tv.issuer,
			Subject:   identity.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tv.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
