package marketchat

import "encoding/json"

const (
	ProtocolVersion = 1

	clientConnect     = "connect"
	clientSubscribe   = "subscribe"
	clientUnsubscribe = "unsubscribe"
	clientSend        = "send"

	serverConnected = "connected"
	serverMessage   = "message"
	serverError     = "error"

	// topicPrefix parameterizes one topic per room id.
	topicPrefix = "/topic/chat/"

	// sendDestination is the single application endpoint that persists a
	// message and fans it out to the room topic. The client never publishes
	// directly to a topic it subscribes to.
	sendDestination = "/app/sendMessage"
)

// clientFrame is the envelope from client to server.
type clientFrame struct {
	Type        string          `json:"type"`
	Protocol    int             `json:"protocol,omitempty"`
	Token       string          `json:"token,omitempty"`
	User        string          `json:"user,omitempty"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// serverFrame is the envelope server -> client.
type serverFrame struct {
	Type         string          `json:"type"`
	Subscription string          `json:"subscription,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Error        *ProtocolError  `json:"error,omitempty"`
}

// ProtocolError describes a server-side rejection.
type ProtocolError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// sendEnvelope is the outbound message body accepted by sendDestination.
type sendEnvelope struct {
	SenderID    int64  `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail,omitempty"`
	Content     string `json:"content"`
	ChatRoomID  string `json:"chatRoomId"`
}

// TopicForRoom returns the pub/sub topic for a server-assigned room id.
func TopicForRoom(id RoomID) string {
	return topicPrefix + id.Value
}

// UnmarshalBody decodes a frame body into target.
func UnmarshalBody(body json.RawMessage, v any) error {
	return json.Unmarshal(body, v)
}
