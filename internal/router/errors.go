package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRouterClosed      = errors.New("router closed")
)
