package types

import "errors"

var (
	ErrEmptyText        = errors.New("message text cannot be empty")
	ErrTextTooLong      = errors.New("message text exceeds maximum length")
	ErrInvalidMessageID = errors.New("invalid message id")
	ErrInvalidPayload   = errors.New("invalid event payload")
)
