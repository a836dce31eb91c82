package types

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoin        = "chat:join"
	EventLeave       = "chat:leave"
	EventMarkRead    = "chat:mark_read"
	EventSend        = "chat:send"
	EventEdit        = "chat:edit"
	EventTyping      = "chat:typing"
	EventStopTyping  = "chat:stop_typing"
	EventPresenceGet = "presence:get"
)

// Outbound event names.
const (
	EventPresenceCount = "presence:count"
	EventPresenceList  = "presence:list"
	EventMessage       = "chat:message"
	EventMessageEdit   = "chat:message_edit"
	EventTypingStatus  = "chat:typing_status"
	EventUnread        = "chat:unread"
	EventMention       = "chat:mention"
	EventError         = "chat:error"
)

// Error codes carried by chat:error.
const (
	ErrorCodePersistence = "persistence_failed"
	ErrorCodeRateLimited = "rate_limited"
)

// Envelope is the frame read from a client.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is the frame written to a client.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SendPayload is the body of chat:send.
type SendPayload struct {
	Text      string  `json:"text"`
	ReplyToID *string `json:"replyToId,omitempty"`
}

// EditPayload is the body of chat:edit.
type EditPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MessagePayload is the body of chat:message. Seq increases per room in
// broadcast order.
type MessagePayload struct {
	MessageView
	Seq uint64 `json:"seq"`
}

// MessageEditPayload is the body of chat:message_edit.
type MessageEditPayload struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// CountPayload is the body of presence:count.
type CountPayload struct {
	Count int `json:"count"`
}

// ListPayload is the body of presence:list.
type ListPayload struct {
	Users []Participant `json:"users"`
}

// TypingStatusPayload is the body of chat:typing_status.
type TypingStatusPayload struct {
	Users []string `json:"users"`
}

// UnreadPayload is the body of chat:unread.
type UnreadPayload struct {
	Count int `json:"count"`
}

// MentionPayload is the body of chat:mention.
type MentionPayload struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

// ErrorPayload is the body of chat:error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
