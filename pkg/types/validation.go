package types

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NormalizeText trims the text and checks it against maxLen runes.
func NormalizeText(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", ErrTextTooLong
	}
	return text, nil
}

// IsValidIdentityID reports whether id is a canonical UUID.
func IsValidIdentityID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidMessageID reports whether id is a ULID.
func IsValidMessageID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// DecodeSend parses and validates a chat:send payload.
func DecodeSend(data json.RawMessage, maxLen int) (*SendPayload, error) {
	var p SendPayload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil {
		return nil, ErrInvalidPayload
	}
	text, err := NormalizeText(p.Text, maxLen)
	if err != nil {
		return nil, err
	}
	p.Text = text
	if p.ReplyToID != nil {
		if *p.ReplyToID == "" {
			p.ReplyToID = nil
		} else if !IsValidMessageID(*p.ReplyToID) {
			return nil, ErrInvalidMessageID
		}
	}
	return &p, nil
}

// DecodeEdit parses and validates a chat:edit payload.
func DecodeEdit(data json.RawMessage, maxLen int) (*EditPayload, error) {
	var p EditPayload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil {
		return nil, ErrInvalidPayload
	}
	if !IsValidMessageID(p.ID) {
		return nil, ErrInvalidMessageID
	}
	text, err := NormalizeText(p.Text, maxLen)
	if err != nil {
		return nil, err
	}
	p.Text = text
	return &p, nil
}
