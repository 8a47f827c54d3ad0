package marketchat

import (
	"strconv"

	"github.com/google/uuid"
)

// RoomIDKind distinguishes server-assigned room ids from locally generated
// placeholder ids. The two live in separate namespaces and never compare
// equal.
type RoomIDKind int

const (
	// RoomKindServer is an id assigned by the backend. Only server ids can
	// be routed to a subscription topic.
	RoomKindServer RoomIDKind = iota

	// RoomKindLocal is a client-generated sentinel id for a room that does
	// not exist on the server yet (placeholder/draft rooms).
	RoomKindLocal
)

// RoomID is a tagged room identifier. The zero value is not a valid id;
// construct ids with ServerRoomID or NewLocalRoomID.
type RoomID struct {
	Kind  RoomIDKind
	Value string
}

// ServerRoomID wraps a backend-assigned integer id.
func ServerRoomID(n int64) RoomID {
	return RoomID{Kind: RoomKindServer, Value: strconv.FormatInt(n, 10)}
}

// NewLocalRoomID generates a fresh sentinel id for a placeholder room.
func NewLocalRoomID() RoomID {
	return RoomID{Kind: RoomKindLocal, Value: uuid.NewString()}
}

// ParseServerRoomID parses a decimal server id as it appears on the wire.
func ParseServerRoomID(s string) (RoomID, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return RoomID{}, false
	}
	return ServerRoomID(n), true
}

// IsZero reports whether the id is the zero value.
func (id RoomID) IsZero() bool { return id.Value == "" }

// Routable reports whether the id may be used for subscription routing.
// Local sentinel ids are display-only until the server assigns a real id.
func (id RoomID) Routable() bool { return id.Kind == RoomKindServer && id.Value != "" }

// Int64 returns the numeric server id, or false for local ids.
func (id RoomID) Int64() (int64, bool) {
	if id.Kind != RoomKindServer {
		return 0, false
	}
	n, err := strconv.ParseInt(id.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the id with its namespace prefix, for logs.
func (id RoomID) String() string {
	if id.Kind == RoomKindLocal {
		return "local:" + id.Value
	}
	return id.Value
}
