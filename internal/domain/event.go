package domain

import "time"

// Event types pushed to connected clients.
const (
	EventFriendAccepted = "friend.accepted"
	EventFriendRequest  = "friend.request"
	EventGroupJoined    = "group.joined"
)

// Event is a notification delivered to a user's live connections.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}
