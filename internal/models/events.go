package models

// Push channel envelope types recognized by the client core. Ping and pong
// are liveness probes handled inside the connection manager and never reach
// the room-level consumers.
const (
	PushTypeChatMessage = "chat_message"
	PushTypeRoomCreated = "chat_room_created"
	PushTypePing        = "ping"
	PushTypePong        = "pong"
)

// PushEnvelope is the wire format of one push channel event. For
// chat_message events the remaining fields mirror the Message shape.
type PushEnvelope struct {
	Type      string      `json:"type"`
	ID        int         `json:"id,omitempty"`
	Sender    *User       `json:"sender,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	RoomType  string      `json:"room_type,omitempty"`
	RoomID    int         `json:"room_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Kind      MessageType `json:"messages_type,omitempty"`
	Filename  string      `json:"filename,omitempty"`
	IsRead    bool        `json:"is_read,omitempty"`
}

// Message converts a chat_message envelope into its stored form.
func (e *PushEnvelope) Message() Message {
	return Message{
		ID:        e.ID,
		Sender:    e.Sender,
		Timestamp: e.Timestamp,
		RoomType:  e.RoomType,
		RoomID:    e.RoomID,
		Content:   e.Content,
		Type:      e.Kind,
		Filename:  e.Filename,
		IsRead:    e.IsRead,
	}
}
