package domain

import "time"

// Friend request states.
const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
	FriendRequestDeclined = "declined"
)

// Friendship links two users. Stored once per pair with UserID < FriendID.
type Friendship struct {
	UserID    int64
	FriendID  int64
	CreatedAt time.Time
}

// NewFriendship orders the pair so that UserID < FriendID.
func NewFriendship(a, b int64, now time.Time) Friendship {
	if a > b {
		a, b = b, a
	}
	return Friendship{UserID: a, FriendID: b, CreatedAt: now}
}

// FriendRequest is a pending or answered request sent by unique id.
type FriendRequest struct {
	ID          int64       `json:"id"`
	FromUserID  int64       `json:"fromUserId"`
	ToUserID    int64       `json:"toUserId"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	RespondedAt *time.Time  `json:"respondedAt,omitempty"`
	From        *PublicUser `json:"from,omitempty"`
}
