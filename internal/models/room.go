package models

const (
	RoomKindPrivate = "private"
	RoomKindGroup   = "group"
)

type Room struct {
	ID        int    `json:"id"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type PrivateRoom struct {
	Room
	User1         *User `json:"user1,omitempty"`
	User2         *User `json:"user2,omitempty"`
	OtherUserInfo *User `json:"other_user_info,omitempty"`
}

type GroupRoom struct {
	Room
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	Description string `json:"description,omitempty"`
	Admin       []User `json:"admin,omitempty"`
	Members     []User `json:"members,omitempty"`
}

// RoomRef identifies one room the session tracks, private or group.
type RoomRef struct {
	ID   int
	Kind string
}
