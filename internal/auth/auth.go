package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service mints and verifies guest session tokens. There are no
// accounts; a token only pins a display name so a reconnecting client
// keeps its name. Gameplay state is never carried across connections.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service signing with the given secret.
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret), ttl: 24 * time.Hour}
}

// GuestToken generates a signed token for a display name.
func (s *Service) GuestToken(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name": name,
		"exp":  time.Now().Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// NameFromToken extracts the display name from a guest token.
func (s *Service) NameFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	name, ok := claims["name"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("token carries no name")
	}
	return name, nil
}
