package marketchat

import (
	"encoding/json"
	"time"
)

// Message is one chat message, decoded from an inbound frame or a history
// page. ID is empty for a message the server has not assigned an id to.
type Message struct {
	ID          string
	SenderID    int64
	SenderName  string
	SenderEmail string
	Content     string
	Timestamp   time.Time
	RoomID      RoomID
}

// Room is one entry of the user's room directory.
type Room struct {
	ID           RoomID
	Name         string
	Participants []string
	LastMessage  *Message
}

// wireMessage is the JSON shape of a message on the socket.
type wireMessage struct {
	ID          string    `json:"id,omitempty"`
	SenderID    int64     `json:"senderId"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	RoomID      string    `json:"roomId"`
}

// decodeMessage decodes a frame body into a Message. The room id comes from
// the frame's own body, never from the subscription the frame arrived on.
func decodeMessage(body json.RawMessage) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return Message{}, WrapError(ErrorSerialization, "failed to unmarshal message frame", err)
	}
	id, ok := ParseServerRoomID(w.RoomID)
	if !ok {
		return Message{}, NewError(ErrorSerialization, "message frame carries a non-numeric room id")
	}
	return Message{
		ID:          w.ID,
		SenderID:    w.SenderID,
		SenderName:  w.SenderName,
		SenderEmail: w.SenderEmail,
		Content:     w.Content,
		Timestamp:   w.Timestamp,
		RoomID:      id,
	}, nil
}
