package protocol

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExists  = errors.New("session already connected")
	ErrNotJoined      = errors.New("session has not joined topic")
	ErrTopicLeft      = errors.New("session already left topic")
	ErrUnknownTopic   = errors.New("topic not open to session")
)
