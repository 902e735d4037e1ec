package models

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeFile  MessageType = "file"
)

type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is one chat message as delivered by the backend, either from the
// paginated history API or over a room push channel. A zero ID marks a
// provisional message that is never stored.
type Message struct {
	ID        int         `json:"id"`
	Sender    *User       `json:"sender,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	RoomType  string      `json:"room_type"`
	RoomID    int         `json:"room_id"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"messages_type"`
	Filename  string      `json:"filename,omitempty"`
	IsRead    bool        `json:"is_read,omitempty"`
}

// SendMessageRequest carries everything needed to send one outgoing message.
// File messages supply File plus Filename, text messages supply Content.
type SendMessageRequest struct {
	Type     MessageType
	RoomType string
	Content  string
	File     []byte
	Filename string
}

// MessagesPage is one page of room history. NextURL is the continuation
// cursor, empty when the last page was reached.
type MessagesPage struct {
	Messages []Message
	NextURL  string
}

// HistoryResult reports the outcome of one history fetch.
type HistoryResult struct {
	Messages []Message
	HasMore  bool
}

// SendResult reports the outcome of one send attempt. TempID identifies the
// tracker entry and supports resending after a failure.
type SendResult struct {
	TempID  string
	Message *Message
}
