package rest

import "time"

// RoomInfo represents room metadata as the backend returns it.
type RoomInfo struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Participants []string     `json:"participants"`
	LastMessage  *MessageInfo `json:"lastMessage,omitempty"`
}

// MessageInfo represents a single message in a history page.
type MessageInfo struct {
	ID          string    `json:"id,omitempty"`
	SenderID    int64     `json:"senderId"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	RoomID      string    `json:"roomId"`
}

// HistoryPage contains one page of messages with pagination info.
type HistoryPage struct {
	Messages      []MessageInfo `json:"messages"`
	HasMore       bool          `json:"hasMore"`
	TotalElements int64         `json:"totalElements"`
}

// CreateRoomRequest is the body for the create-or-get room endpoint. The
// listing the room is tied to travels in the URL path.
type CreateRoomRequest struct {
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// PrivateRoomRequest is the body for the create-or-get direct-message
// room endpoint.
type PrivateRoomRequest struct {
	OtherUserID int64 `json:"otherUserId"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
