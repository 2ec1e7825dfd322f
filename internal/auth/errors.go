package auth

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid username or password format")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing token")
	ErrMissingSecret      = errors.New("token secret must not be empty")
)
