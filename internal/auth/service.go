package auth

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials is returned when operator/password don't match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service authenticates operators against a static credential set and
// issues session tokens.
type Service struct {
	// operators maps operator name to bcrypt password hash.
	operators map[string]string
	jwtConfig *JWTConfig
}

// NewService creates an authentication service over the configured
// operator credentials.
func NewService(operators map[string]string, jwtConfig *JWTConfig) *Service {
	return &Service{
		operators: operators,
		jwtConfig: jwtConfig,
	}
}

// Login validates credentials and returns a session token.
func (s *Service) Login(operator, password string) (string, error) {
	hash, ok := s.operators[operator]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := ComparePassword(hash, password); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, operator)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a session token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
