package interfaces

import (
	"context"

	"confeed/pkg/types"
)

// Dispatcher reacts to connection lifecycle and inbound events. The hub calls
// it from its event loop, one call at a time.
type Dispatcher interface {
	Connected(ctx context.Context, conn Connection)
	Dispatch(ctx context.Context, conn Connection, env *types.Envelope)
	Disconnected(ctx context.Context, conn Connection)
}
