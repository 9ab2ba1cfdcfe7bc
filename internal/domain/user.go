package domain

import "time"

// User represents a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	Username     string
	UniqueID     string
	AvatarURL    *string
	CreatedAt    time.Time
}

// PublicUser is the subset of a user visible to friends and group members.
type PublicUser struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	UniqueID  string  `json:"uniqueId"`
	AvatarURL *string `json:"avatarUrl"`
}

// Public strips private fields.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, UniqueID: u.UniqueID, AvatarURL: u.AvatarURL}
}
