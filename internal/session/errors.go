package session

import "errors"

var (
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrNicknameExhausted = errors.New("no free nickname available")
)
