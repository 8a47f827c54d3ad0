package marketchat

import (
	"context"
	"encoding/json"

	"github.com/marketchat/marketchat-go/marketchat/rest"
)

// directoryAPI is the slice of the REST client the loader needs.
type directoryAPI interface {
	RoomsForCurrentUser(ctx context.Context) (json.RawMessage, error)
}

// DirectoryLoader fetches the authenticated user's room list, normalizes
// the backend's inconsistent response envelopes, and deduplicates by room
// id. Directory failure never blocks connection establishment: every
// failure path degrades to an empty list with a logged warning.
type DirectoryLoader struct {
	api    directoryAPI
	logger Logger
}

// NewDirectoryLoader constructs a loader over the given API.
func NewDirectoryLoader(api directoryAPI, logger Logger) *DirectoryLoader {
	if logger == nil {
		logger = noopLogger{}
	}
	return &DirectoryLoader{api: api, logger: logger}
}

// Load fetches and normalizes the directory. It does not return an error;
// an unreachable or misbehaving backend yields an empty directory.
func (l *DirectoryLoader) Load(ctx context.Context) []Room {
	raw, err := l.api.RoomsForCurrentUser(ctx)
	if err != nil {
		l.logger.Warn("room directory fetch failed", map[string]any{"error": err.Error()})
		return nil
	}
	return l.normalize(raw)
}

// normalize accepts the three envelope shapes the backend is known to
// return (a bare array, {"data":[...]}, and {"rooms":[...]}) and flattens
// them to one Room slice. An unrecognized shape normalizes to an empty
// slice with a warning, never an error. Repeated ids keep the first
// occurrence.
func (l *DirectoryLoader) normalize(raw json.RawMessage) []Room {
	var infos []rest.RoomInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		var envelope struct {
			Data  []rest.RoomInfo `json:"data"`
			Rooms []rest.RoomInfo `json:"rooms"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			l.logger.Warn("unrecognized room directory envelope", map[string]any{"body": truncate(raw, 200)})
			return nil
		}
		switch {
		case envelope.Data != nil:
			infos = envelope.Data
		case envelope.Rooms != nil:
			infos = envelope.Rooms
		default:
			l.logger.Warn("unrecognized room directory envelope", map[string]any{"body": truncate(raw, 200)})
			return nil
		}
	}

	rooms := make([]Room, 0, len(infos))
	seen := make(map[RoomID]bool, len(infos))
	for _, info := range infos {
		room := roomFromInfo(info)
		if seen[room.ID] {
			continue
		}
		seen[room.ID] = true
		rooms = append(rooms, room)
	}
	return rooms
}

func roomFromInfo(info rest.RoomInfo) Room {
	room := Room{
		ID:           ServerRoomID(info.ID),
		Name:         info.Name,
		Participants: info.Participants,
	}
	if info.LastMessage != nil {
		msg := messageFromInfo(*info.LastMessage)
		room.LastMessage = &msg
	}
	return room
}

// messageFromInfo converts a history/preview message to the domain type.
// A non-numeric room id from the backend maps to a zero RoomID; callers
// that route by room must check it.
func messageFromInfo(info rest.MessageInfo) Message {
	id, _ := ParseServerRoomID(info.RoomID)
	return Message{
		ID:          info.ID,
		SenderID:    info.SenderID,
		SenderName:  info.SenderName,
		SenderEmail: info.SenderEmail,
		Content:     info.Content,
		Timestamp:   info.Timestamp,
		RoomID:      id,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
