package types

import (
	"time"
)

// GlobalRoom is the single broadcast room every session joins on admission.
const GlobalRoom = "global"

// Identity is an anonymous user. Synthetic (AI) identities share the same shape
// and are persisted next to human ones.
type Identity struct {
	ID            string    `json:"id"`
	Nickname      string    `json:"nickname"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	IsAI          bool      `json:"isAI"`
	AIPersonality string    `json:"-"`
	Platform      string    `json:"platform,omitempty"`
	Language      string    `json:"language,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
	Country       string    `json:"country,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Participant returns the presence view of the identity.
func (i *Identity) Participant() Participant {
	return Participant{
		ID:        i.ID,
		Nickname:  i.Nickname,
		AvatarURL: i.AvatarURL,
		IsAI:      i.IsAI,
	}
}

// ChatMessage is a stored message of the global room. Edits keep the id.
type ChatMessage struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"userId"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	ReplyToID *string    `json:"replyToId,omitempty"`
}

// MessageView is a ChatMessage joined with its author and reply target.
type MessageView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Nickname  string     `json:"nickname"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	IsAI      bool       `json:"isAI"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	ReplyTo   *ReplyRef  `json:"replyTo,omitempty"`
}

// ReplyRef is the quoted message a reply points at.
type ReplyRef struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// Participant is one entry of the presence list.
type Participant struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsAI      bool   `json:"isAI"`
}

// Presence is the combined human + synthetic presence snapshot.
type Presence struct {
	Count int           `json:"count"`
	List  []Participant `json:"users"`
}

// ContextMessage is the part of a broadcast message the AI pool reasons over.
type ContextMessage struct {
	ID       string
	AuthorID string
	Nickname string
	Text     string
	IsAI     bool
}

// ContextOf reduces a view to its AI context form.
func ContextOf(v *MessageView) ContextMessage {
	return ContextMessage{
		ID:       v.ID,
		AuthorID: v.UserID,
		Nickname: v.Nickname,
		Text:     v.Text,
		IsAI:     v.IsAI,
	}
}
