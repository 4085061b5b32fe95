// ABOUTME: Identity-provider assertion verification for client authentication
// ABOUTME: Uses HS256-signed JWTs with a secret shared with the provider

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Assertion errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Assertion is the verified identity claim set issued by the external
// identity provider. The gateway consumes it opaquely; it never performs
// identity verification itself beyond checking the token signature.
type Assertion struct {
	Email     string
	Name      string
	AvatarRef string
}

// Verifier validates identity-provider tokens and extracts assertions
type Verifier interface {
	Verify(tokenString string) (*Assertion, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given shared secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the identity assertion from the
// "email", "name" and "picture" claims. Email is required; the rest default
// to empty.
func (v *JWTVerifier) Verify(tokenString string) (*Assertion, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	assertion := &Assertion{Email: email}
	if name, ok := claims["name"].(string); ok {
		assertion.Name = name
	}
	if picture, ok := claims["picture"].(string); ok {
		assertion.AvatarRef = picture
	}

	return assertion, nil
}

// Generate creates a signed assertion token, used by tests and by the
// fake identity provider in development setups.
func (v *JWTVerifier) Generate(assertion *Assertion, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"email":   assertion.Email,
		"name":    assertion.Name,
		"picture": assertion.AvatarRef,
		"iat":     now.Unix(),
		"exp":     now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
