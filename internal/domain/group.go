package domain

import "time"

// Group roles.
const (
	GroupRoleOwner  = "owner"
	GroupRoleMember = "member"
)

// Group is a set of users sharing expenses.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupMember links a user to a group with a role.
type GroupMember struct {
	GroupID  int64      `json:"groupId"`
	UserID   int64      `json:"userId"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
	User     PublicUser `json:"user"`
}
