package interfaces

import (
	"context"

	"confeed/pkg/types"
)

// Authenticator resolves a bearer token to a known identity. Any error means
// the caller must be rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
}
