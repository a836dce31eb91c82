package router

import (
	"context"
	"log/slog"

	"confeed/internal/ai"
	"confeed/pkg/types"
)

// BeginTyping shows the synthetic participant as typing.
func (r *Router) BeginTyping(profile ai.Profile) {
	r.submit(func() {
		r.typing.SetTyping(profile.IdentityID, profile.Nickname)
		r.broadcastTyping()
	})
}

// EndTyping clears a synthetic typing entry whose reply was discarded.
func (r *Router) EndTyping(profile ai.Profile) {
	r.submit(func() {
		if r.typing.ClearTyping(profile.IdentityID) {
			r.broadcastTyping()
		}
	})
}

// Deliver persists a synthetic reply and broadcasts it like any other
// message. It runs on a pool goroutine.
func (r *Router) Deliver(ctx context.Context, reply *ai.Reply) {
	if ctx.Err() != nil {
		return
	}

	now := r.now()
	msg := &types.ChatMessage{
		ID:        r.newMessageID(now),
		AuthorID:  reply.Profile.IdentityID,
		Text:      reply.Text,
		CreatedAt: now,
		ReplyToID: reply.ReplyToID,
	}

	view, err := r.persist(ctx, msg)
	if err != nil {
		slog.Error("failed to persist ai reply", "identity", reply.Profile.IdentityID, "error", err)
		r.EndTyping(reply.Profile)
		return
	}

	r.submit(func() {
		if reply.NewProfile {
			r.broadcastPresence()
		}
		r.afterPersist(view)
	})
}

var _ ai.Sink = (*Router)(nil)
