package interfaces

// Connection is an authenticated client connection.
// WriteJSON must be safe for concurrent use.
type Connection interface {
	WriteJSON(v interface{}) error
	Close() error
	IsAuthenticated() bool
	GetIdentityID() string
	GetNickname() string
	GetAvatarURL() string
}
