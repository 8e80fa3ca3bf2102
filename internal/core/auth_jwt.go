package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"

	"membergate/internal/types"
)

// ActorClaims are the bearer token claims issued by the account service.
// The subject is the internal user id.
type ActorClaims struct {
	Email            string           `json:"email,omitempty"`
	Name             string           `json:"name,omitempty"`
	AccountCreatedAt *jwt.NumericDate `json:"account_created_at,omitempty"`

	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates an authenticator. An empty issuer skips the
// iss check.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// ResolveToken implements Authenticator.
func (a *JWTAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	var claims ActorClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token invalid", err)
	}

	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unexpected token issuer", nil)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}

	actor := &types.Actor{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}
	if claims.AccountCreatedAt != nil {
		t := claims.AccountCreatedAt.Time.UTC()
		actor.AccountCreatedAt = &t
	}
	return actor, nil
}
