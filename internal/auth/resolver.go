// Package auth turns the opaque join token into a user id.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roomchat/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
)

type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// PassThrough treats the token itself as the user id.
type PassThrough struct{}

func (PassThrough) Resolve(_ context.Context, token string) (string, error) {
	userID := strings.TrimSpace(token)
	if userID == "" {
		return "", apperror.Validation(apperror.CodeInvalidToken)
	}
	return userID, nil
}

// JWTResolver accepts HS256 tokens and reads the user id from "sub", falling
// back to "username".
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{secret: secret}
}

func (r *JWTResolver) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", apperror.Validation(apperror.CodeInvalidToken)
	}

	claims, err := r.ValidateToken(token)
	if err != nil {
		return "", &apperror.Error{Kind: apperror.KindDomain, Code: apperror.CodeInvalidToken, Err: err}
	}

	for _, key := range []string{"sub", "username"} {
		if v, ok := claims[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", apperror.Domain(apperror.CodeInvalidToken)
}

// GenerateToken signs a token for userID valid for ttl.
func (r *JWTResolver) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// NewResolver picks JWT verification when a secret is configured.
func NewResolver(secret []byte) TokenResolver {
	if len(secret) == 0 {
		return PassThrough{}
	}
	return NewJWTResolver(secret)
}
