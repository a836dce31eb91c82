package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"confeed/internal/mention"
	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

// background runs op off-loop with the persistence timeout.
func (r *Router) background(op func(ctx context.Context)) {
	select {
	case <-r.ctx.Done():
		return
	default:
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PersistTimeout)
		defer cancel()
		op(ctx)
	}()
}

func (r *Router) newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

func (r *Router) handleSend(conn interfaces.Connection, data json.RawMessage) {
	authorID := conn.GetIdentityID()

	payload, err := types.DecodeSend(data, r.cfg.MaxMessageLength)
	if err != nil {
		slog.Debug("invalid chat:send dropped", "identity", authorID, "error", err)
		return
	}
	if !r.limiter.Allow(authorID) {
		r.emitError(authorID, types.ErrorCodeRateLimited, ErrRateLimitExceeded.Error())
		return
	}

	now := r.now()
	msg := &types.ChatMessage{
		ID:        r.newMessageID(now),
		AuthorID:  authorID,
		Text:      payload.Text,
		CreatedAt: now,
		ReplyToID: payload.ReplyToID,
	}

	r.background(func(ctx context.Context) {
		view, err := r.persist(ctx, msg)
		if err != nil {
			if errors.Is(err, interfaces.ErrMessageNotFound) {
				slog.Debug("reply to unknown message dropped", "identity", authorID)
				return
			}
			slog.Error("failed to persist message", "identity", authorID, "error", err)
			r.submit(func() {
				r.emitError(authorID, types.ErrorCodePersistence, "message could not be saved")
			})
			return
		}
		r.submit(func() { r.afterPersist(view) })
	})
}

func (r *Router) persist(ctx context.Context, msg *types.ChatMessage) (*types.MessageView, error) {
	if err := r.store.StoreMessage(ctx, msg); err != nil {
		return nil, err
	}
	return r.store.GetMessageView(ctx, msg.ID)
}

// afterPersist runs on the loop once a message is stored. Live sessions are
// read again here since the author or recipients may have left meanwhile.
func (r *Router) afterPersist(view *types.MessageView) {
	seq := r.nextSeq(types.GlobalRoom)
	r.hub.EmitToRoom(types.GlobalRoom, types.EventMessage, types.MessagePayload{MessageView: *view, Seq: seq})

	if r.typing.ClearTyping(view.UserID) {
		r.broadcastTyping()
	}

	if handles := mention.ExtractMentions(view.Text); len(handles) > 0 {
		for _, target := range mention.ResolveTargets(handles, r.sessions.ListActive()) {
			if target == view.UserID {
				continue
			}
			r.hub.EmitToIdentity(target, types.EventMention, types.MentionPayload{
				MessageID: view.ID,
				From:      view.Nickname,
				Text:      view.Text,
			})
		}
	}

	for _, u := range r.unread.RecordDelivery(view.UserID, r.unread.Viewers(), r.sessions.IDs()) {
		r.hub.EmitToIdentity(u.IdentityID, types.EventUnread, types.UnreadPayload{Count: u.Count})
	}

	r.remember(types.ContextOf(view))
	if r.responder != nil && !view.IsAI {
		r.responder.Offer(view.UserID, r.RecentContext())
	}
}

func (r *Router) handleEdit(conn interfaces.Connection, data json.RawMessage) {
	authorID := conn.GetIdentityID()

	payload, err := types.DecodeEdit(data, r.cfg.MaxMessageLength)
	if err != nil {
		slog.Debug("invalid chat:edit dropped", "identity", authorID, "error", err)
		return
	}
	editedAt := r.now()

	r.background(func(ctx context.Context) {
		err := r.store.EditMessage(ctx, payload.ID, authorID, payload.Text, editedAt)
		switch {
		case errors.Is(err, interfaces.ErrNotAuthor), errors.Is(err, interfaces.ErrMessageNotFound):
			slog.Debug("chat:edit rejected", "identity", authorID, "error", err)
			return
		case err != nil:
			slog.Error("failed to persist edit", "identity", authorID, "error", err)
			r.submit(func() {
				r.emitError(authorID, types.ErrorCodePersistence, "edit could not be saved")
			})
			return
		}

		r.submit(func() {
			r.rememberEdit(payload.ID, payload.Text)
			r.hub.EmitToRoom(types.GlobalRoom, types.EventMessageEdit, types.MessageEditPayload{
				ID:       payload.ID,
				Text:     payload.Text,
				EditedAt: editedAt,
			})
		})
	})
}
