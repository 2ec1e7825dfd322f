// Package auth is the identity provider: it registers users, checks their
// passwords and hands out the signed tokens that carry the username used as
// chat identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/safechat/internal/storage"
)

// Service registers users and exchanges credentials for session tokens.
type Service struct {
	users  storage.UserRepository
	tokens *TokenIssuer
	log    *slog.Logger
}

// NewService creates a Service backed by users and signing with tokens.
func NewService(users storage.UserRepository, tokens *TokenIssuer, log *slog.Logger) *Service {
	return &Service{users: users, tokens: tokens, log: log}
}

// Tokens exposes the issuer so the transport can verify what Login returned.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Register creates a user and returns its first token. A taken username
// yields storage.ErrUserAlreadyExists.
func (s *Service) Register(ctx context.Context, c Credentials) (string, error) {
	if err := ValidateCredentials(c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	hash, err := HashPassword(c.Password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.users.CreateUser(ctx, c.Username, hash)
	if err != nil {
		return "", err
	}
	s.log.Info("User registered", "username", user.Username, "id", user.ID)

	return s.tokens.Issue(user.Username)
}

// Login checks the credentials and returns a fresh token. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, c Credentials) (string, error) {
	user, err := s.users.GetUser(ctx, c.Username)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			s.log.Error("User lookup failed", "username", c.Username, "error", err)
		}
		return "", ErrInvalidCredentials
	}

	match, err := ComparePassword(c.Password, user.PasswordHash)
	if err != nil || !match {
		return "", ErrInvalidCredentials
	}

	return s.tokens.Issue(user.Username)
}
