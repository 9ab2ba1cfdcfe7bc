package domain

import "time"

// Invite kinds encoded in QR payloads.
const (
	InviteKindFriend = "friend"
	InviteKindGroup  = "group"
)

// Invite is a multi-use join token shown as a QR code until it expires.
type Invite struct {
	Token     string
	Kind      string
	InviterID int64
	GroupID   *int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the invite is expired relative to now.
func (i Invite) Expired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.UTC().Before(i.ExpiresAt.UTC())
}
