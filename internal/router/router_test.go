package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confeed/internal/ai"
	"confeed/pkg/types"
)

func TestRouter_ConnectBroadcastsPresence(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")

	ev, ok := a.last(types.EventPresenceList)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, participantIDs(ev.Data.(types.ListPayload).Users))

	count, ok := a.last(types.EventPresenceCount)
	require.True(t, ok)
	assert.Equal(t, 2, count.Data.(types.CountPayload).Count)

	// the newcomer gets typing status and its own unread count
	assert.Len(t, b.named(types.EventTypingStatus), 1)
	unread, ok := b.last(types.EventUnread)
	require.True(t, ok)
	assert.Equal(t, 0, unread.Data.(types.UnreadPayload).Count)
}

func TestRouter_SendBroadcastsWithSeq(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")

	h.emit(a, types.EventSend, `{"text":"  olá malta  "}`)
	h.emit(b, types.EventSend, `{"text":"oi"}`)

	for _, conn := range []*fakeConn{a, b} {
		msgs := conn.named(types.EventMessage)
		require.Len(t, msgs, 2)
		first := msgs[0].Data.(types.MessagePayload)
		second := msgs[1].Data.(types.MessagePayload)
		assert.Equal(t, "olá malta", first.Text)
		assert.Equal(t, "Ana", first.Nickname)
		assert.Equal(t, uint64(1), first.Seq)
		assert.Equal(t, uint64(2), second.Seq)
		assert.True(t, types.IsValidMessageID(first.ID))
	}
}

func TestRouter_InvalidSendDropped(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MaxMessageLength = 5 })
	a := h.connect("a", "Ana")
	resetAll(a)

	for _, data := range []string{``, `{"text":""}`, `{"text":"   "}`, `not json`, `{"text":"longer than five"}`, `{"text":"oi","replyToId":"nope"}`} {
		h.emit(a, types.EventSend, data)
	}
	assert.Empty(t, a.named(types.EventMessage))
	assert.Empty(t, a.named(types.EventError), "validation errors are not reported")
}

func TestRouter_MentionScenario(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "anonimo#1")
	b := h.connect("b", "Maria")
	c := h.connect("c", "Carla")

	h.emit(a, types.EventSend, `{"text":"oi @maria"}`)

	msg, ok := a.last(types.EventMessage)
	require.True(t, ok)
	id := msg.Data.(types.MessagePayload).ID

	mentions := b.named(types.EventMention)
	require.Len(t, mentions, 1)
	payload := mentions[0].Data.(types.MentionPayload)
	assert.Equal(t, id, payload.MessageID)
	assert.Equal(t, "anonimo#1", payload.From)
	assert.Equal(t, "oi @maria", payload.Text)

	assert.Empty(t, c.named(types.EventMention))
	assert.Empty(t, a.named(types.EventMention))
}

func TestRouter_MentionAnonymousNickname(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "anonimo#1")
	b := h.connect("b", "anonimo#2")
	c := h.connect("c", "anonimo#3")

	h.emit(a, types.EventSend, `{"text":"oi @anonimo#2, tudo bem?"}`)

	mentions := b.named(types.EventMention)
	require.Len(t, mentions, 1)
	assert.Equal(t, "anonimo#1", mentions[0].Data.(types.MentionPayload).From)

	assert.Empty(t, c.named(types.EventMention))
	assert.Empty(t, a.named(types.EventMention))
}

func TestRouter_SelfMentionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")

	h.emit(a, types.EventSend, `{"text":"eu, @ana"}`)
	assert.Empty(t, a.named(types.EventMention))
}

func TestRouter_UnreadLedger(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")
	c := h.connect("c", "Carla")

	h.emit(b, types.EventJoin, "")
	resetAll(a, b, c)

	h.emit(a, types.EventSend, `{"text":"1"}`)
	h.emit(a, types.EventSend, `{"text":"2"}`)

	assert.Empty(t, a.named(types.EventUnread), "author is never credited")
	assert.Empty(t, b.named(types.EventUnread), "viewer is not credited")
	unread := c.named(types.EventUnread)
	require.Len(t, unread, 2)
	assert.Equal(t, 2, unread[1].Data.(types.UnreadPayload).Count)

	resetAll(a, b, c)
	h.emit(c, types.EventMarkRead, "")
	got, ok := c.last(types.EventUnread)
	require.True(t, ok)
	assert.Equal(t, 0, got.Data.(types.UnreadPayload).Count)
	assert.Empty(t, a.named(types.EventUnread), "unread counts are private")

	h.emit(b, types.EventLeave, "")
	resetAll(a, b, c)
	h.emit(a, types.EventSend, `{"text":"3"}`)
	got, ok = b.last(types.EventUnread)
	require.True(t, ok)
	assert.Equal(t, 1, got.Data.(types.UnreadPayload).Count)
	assert.Empty(t, c.named(types.EventUnread), "c is viewing after mark_read")
}

func TestRouter_EditRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")

	h.emit(a, types.EventSend, `{"text":"primeira versão"}`)
	msg, _ := a.last(types.EventMessage)
	id := msg.Data.(types.MessagePayload).ID

	h.advance(time.Minute)
	h.emit(a, types.EventEdit, fmt.Sprintf(`{"id":%q,"text":"segunda versão"}`, id))

	for _, conn := range []*fakeConn{a, b} {
		edits := conn.named(types.EventMessageEdit)
		require.Len(t, edits, 1)
		payload := edits[0].Data.(types.MessageEditPayload)
		assert.Equal(t, id, payload.ID)
		assert.Equal(t, "segunda versão", payload.Text)
		assert.Equal(t, h.clock(), payload.EditedAt)
	}

	h.emit(b, types.EventEdit, fmt.Sprintf(`{"id":%q,"text":"hackeado"}`, id))
	assert.Len(t, a.named(types.EventMessageEdit), 1, "non-author edit is not broadcast")
	assert.Empty(t, b.named(types.EventError))
	assert.Equal(t, "segunda versão", h.store.message(id).Text)

	recent := h.router.RecentContext()
	require.Len(t, recent, 1)
	assert.Equal(t, "segunda versão", recent[0].Text)
}

func TestRouter_EditPersistenceFailure(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	h.emit(a, types.EventSend, `{"text":"oi"}`)
	msg, _ := a.last(types.EventMessage)

	h.store.failEdit = true
	h.emit(a, types.EventEdit, fmt.Sprintf(`{"id":%q,"text":"novo"}`, msg.Data.(types.MessagePayload).ID))

	errs := a.named(types.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorCodePersistence, errs[0].Data.(types.ErrorPayload).Code)
	assert.Empty(t, a.named(types.EventMessageEdit))
}

func TestRouter_PersistenceFailureOnlyToSender(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")

	h.store.failStore = true
	h.emit(a, types.EventSend, `{"text":"oi"}`)

	errs := a.named(types.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorCodePersistence, errs[0].Data.(types.ErrorPayload).Code)
	assert.Empty(t, b.named(types.EventError))
	assert.Empty(t, b.named(types.EventMessage))
}

func TestRouter_ReplyToUnknownDropped(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")

	h.emit(a, types.EventSend, `{"text":"oi","replyToId":"01HZZZZZZZZZZZZZZZZZZZZZZZ"}`)
	assert.Empty(t, a.named(types.EventMessage))
	assert.Empty(t, a.named(types.EventError))
}

func TestRouter_ReplyCarriesTarget(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")

	h.emit(a, types.EventSend, `{"text":"pergunta"}`)
	first, _ := a.last(types.EventMessage)
	targetID := first.Data.(types.MessagePayload).ID

	h.emit(a, types.EventSend, fmt.Sprintf(`{"text":"resposta","replyToId":%q}`, targetID))
	reply, _ := a.last(types.EventMessage)
	payload := reply.Data.(types.MessagePayload)
	require.NotNil(t, payload.ReplyTo)
	assert.Equal(t, targetID, payload.ReplyTo.ID)
}

func TestRouter_RateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RateLimitPerMinute = 2 })
	a := h.connect("a", "Ana")

	for i := 0; i < 3; i++ {
		h.emit(a, types.EventSend, `{"text":"spam"}`)
	}
	assert.Len(t, a.named(types.EventMessage), 2)
	errs := a.named(types.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorCodeRateLimited, errs[0].Data.(types.ErrorPayload).Code)

	h.advance(time.Minute)
	h.emit(a, types.EventSend, `{"text":"de novo"}`)
	assert.Len(t, a.named(types.EventMessage), 3)
}

func TestRouter_TypingStatus(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")
	resetAll(a, b)

	h.emit(a, types.EventTyping, "")
	status, ok := b.last(types.EventTypingStatus)
	require.True(t, ok)
	assert.Equal(t, []string{"Ana"}, status.Data.(types.TypingStatusPayload).Users)

	h.emit(a, types.EventStopTyping, "")
	status, _ = b.last(types.EventTypingStatus)
	assert.Empty(t, status.Data.(types.TypingStatusPayload).Users)

	// sending clears the author's typing entry
	h.emit(a, types.EventTyping, "")
	h.emit(a, types.EventSend, `{"text":"pronto"}`)
	status, _ = b.last(types.EventTypingStatus)
	assert.Empty(t, status.Data.(types.TypingStatusPayload).Users)
}

func TestRouter_DisconnectCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	responder := &recordingResponder{}
	h.router.SetResponder(responder)

	a := h.connect("a", "Ana")
	x := h.connect("x", "Xavier")
	h.emit(x, types.EventTyping, "")
	h.emit(x, types.EventJoin, "")
	resetAll(a)

	h.disconnect(x)

	list, ok := a.last(types.EventPresenceList)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, participantIDs(list.Data.(types.ListPayload).Users))
	count, _ := a.last(types.EventPresenceCount)
	assert.Equal(t, 1, count.Data.(types.CountPayload).Count)

	status, ok := a.last(types.EventTypingStatus)
	require.True(t, ok)
	assert.Empty(t, status.Data.(types.TypingStatusPayload).Users)

	assert.Equal(t, []string{"x"}, responder.cancelled)
}

func TestRouter_PresenceGetToRequesterOnly(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	b := h.connect("b", "Beto")
	resetAll(a, b)

	h.emit(a, types.EventPresenceGet, "")
	assert.Len(t, a.named(types.EventPresenceCount), 1)
	assert.Len(t, a.named(types.EventPresenceList), 1)
	assert.Empty(t, b.named(types.EventPresenceList))
}

func TestRouter_OffersContextToResponder(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.ContextWindow = 2 })
	responder := &recordingResponder{}
	h.router.SetResponder(responder)
	a := h.connect("a", "Ana")

	for _, text := range []string{"um", "dois", "três"} {
		h.emit(a, types.EventSend, fmt.Sprintf(`{"text":%q}`, text))
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	require.Len(t, responder.offers, 3)
	assert.Equal(t, []string{"a", "a", "a"}, responder.triggers)
	last := responder.offers[2]
	require.Len(t, last, 2)
	assert.Equal(t, "dois", last[0].Text)
	assert.Equal(t, "três", last[1].Text)
}

func TestRouter_SeedContext(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.ContextWindow = 2 })
	h.router.SeedContext([]*types.MessageView{
		{ID: "1", UserID: "a", Nickname: "Ana", Text: "velho"},
		{ID: "2", UserID: "b", Nickname: "Beto", Text: "meio"},
		{ID: "3", UserID: "ai", Nickname: "anonimo#4242", Text: "novo", IsAI: true},
	})

	recent := h.router.RecentContext()
	require.Len(t, recent, 2)
	assert.Equal(t, "meio", recent[0].Text)
	assert.True(t, recent[1].IsAI)
}

func TestRouter_SinkDeliversSyntheticReply(t *testing.T) {
	h := newHarness(t, nil)
	responder := &recordingResponder{}
	h.router.SetResponder(responder)
	a := h.connect("a", "Ana")
	h.store.addIdentity("ai-1", "anonimo#4242", true)
	resetAll(a)

	profile := ai.Profile{IdentityID: "ai-1", Nickname: "anonimo#4242"}
	h.router.BeginTyping(profile)
	h.flush()
	status, ok := a.last(types.EventTypingStatus)
	require.True(t, ok)
	assert.Equal(t, []string{"anonimo#4242"}, status.Data.(types.TypingStatusPayload).Users)

	h.router.Deliver(context.Background(), &ai.Reply{Profile: profile, NewProfile: true, Text: "eish"})
	h.settle()

	msg, ok := a.last(types.EventMessage)
	require.True(t, ok)
	payload := msg.Data.(types.MessagePayload)
	assert.True(t, payload.IsAI)
	assert.Equal(t, "eish", payload.Text)
	assert.NotEmpty(t, a.named(types.EventPresenceList), "a new profile changes presence")

	status, _ = a.last(types.EventTypingStatus)
	assert.Empty(t, status.Data.(types.TypingStatusPayload).Users)

	responder.mu.Lock()
	assert.Empty(t, responder.offers, "ai messages are not offered back to the pool")
	responder.mu.Unlock()
}

func TestRouter_SinkDiscardsCancelledDelivery(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("a", "Ana")
	h.store.addIdentity("ai-1", "anonimo#4242", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.router.Deliver(ctx, &ai.Reply{Profile: ai.Profile{IdentityID: "ai-1"}, Text: "tarde"})
	h.settle()
	assert.Empty(t, a.named(types.EventMessage))
}
