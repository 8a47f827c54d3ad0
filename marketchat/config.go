package marketchat

import "time"

// Identity describes the authenticated user on whose behalf the session
// connects and sends.
type Identity struct {
	UserID int64
	Name   string
	Email  string
	Token  string // bearer credential, also used in the connect frame
}

// Config controls how the session connects.
//
// Endpoints lists candidate socket URLs in preference order; the transport
// dials each in turn and the first successful handshake wins. This is the
// negotiated-fallback scheme: put the WebSocket endpoint first and any
// fallback endpoints after it.
type Config struct {
	Endpoints []string
	RESTBase  string // base URL for the room/history HTTP API

	ConnectTimeout time.Duration // covers dial plus protocol handshake
	ReadTimeout    time.Duration // 0 disables
	WriteTimeout   time.Duration

	HistoryPageSize int // page size for seeding a room log
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    10 * time.Second,
		HistoryPageSize: 50,
	}
}
