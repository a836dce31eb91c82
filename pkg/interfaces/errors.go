package interfaces

import "errors"

// Persistence errors shared by store implementations and their callers.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrNicknameTaken    = errors.New("nickname already taken")
	ErrTokenNotFound    = errors.New("token not found or expired")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotAuthor        = errors.New("only the author can edit a message")
)
