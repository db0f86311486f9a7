// Package auth issues and validates the bearer tokens that guard the
// operator read API. Tokens are HS256 JWTs signed with a shared secret.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/authaudit/middleware"
	"github.com/upb/authaudit/services"
)

// Claims is the token payload
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// OperatorTokens signs and validates operator tokens
type OperatorTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewOperatorTokens creates an OperatorTokens. An empty secret disables
// validation: every token is rejected.
func NewOperatorTokens(secret, issuer string) *OperatorTokens {
	return &OperatorTokens{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token for subject with the given roles
func (o *OperatorTokens) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	if len(o.secret) == 0 {
		return "", fmt.Errorf("operator token secret not configured")
	}
	if subject == "" {
		return "", fmt.Errorf("operator token subject is required")
	}

	now := o.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(o.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign operator token: %w", err)
	}
	return signed, nil
}

// ValidateToken implements middleware.TokenValidator
func (o *OperatorTokens) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	if len(o.secret) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized,
			"operator tokens are not configured", nil)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return o.secret, nil
	},
		jwt.WithIssuer(o.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(o.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "invalid authentication token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, services.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "token subject missing", nil)
	}

	parsed := &middleware.Claims{
		Sub:     claims.Subject,
		Roles:   claims.Roles,
		Iss:     claims.Issuer,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		parsed.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		parsed.Iat = claims.IssuedAt.Unix()
	}
	return parsed, nil
}
