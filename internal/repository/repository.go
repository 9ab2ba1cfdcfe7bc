package repository

import (
	"context"
	"time"

	"github.com/splax/splitter/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUniqueID(ctx context.Context, uniqueID string) (*domain.User, error)
	UpdateAvatarURL(ctx context.Context, userID int64, url string) error
}

// FriendRepository manages friendships and friend requests.
type FriendRepository interface {
	CreateFriendship(ctx context.Context, friendship domain.Friendship) (bool, error)
	DeleteFriendship(ctx context.Context, a, b int64) (bool, error)
	AreFriends(ctx context.Context, a, b int64) (bool, error)
	ListFriends(ctx context.Context, userID int64) ([]domain.PublicUser, error)
	CreateFriendRequest(ctx context.Context, req *domain.FriendRequest) error
	GetFriendRequest(ctx context.Context, id int64) (*domain.FriendRequest, error)
	HasPendingRequest(ctx context.Context, a, b int64) (bool, error)
	ListIncomingRequests(ctx context.Context, userID int64) ([]domain.FriendRequest, error)
	RespondFriendRequest(ctx context.Context, id int64, status string, at time.Time) error
}

// GroupRepository manages groups and memberships.
type GroupRepository interface {
	// CreateGroup inserts the group and its owner membership atomically.
	CreateGroup(ctx context.Context, group *domain.Group, owner *domain.GroupMember) error
	GetGroupByID(ctx context.Context, groupID int64) (*domain.Group, error)
	ListGroupsByUser(ctx context.Context, userID int64) ([]domain.Group, error)
	AddMember(ctx context.Context, member *domain.GroupMember) (bool, error)
	RemoveMember(ctx context.Context, groupID, userID int64) error
	GetMember(ctx context.Context, groupID, userID int64) (*domain.GroupMember, error)
	ListMembers(ctx context.Context, groupID int64) ([]domain.GroupMember, error)
}

// InviteRepository stores join tokens.
type InviteRepository interface {
	CreateInvite(ctx context.Context, invite *domain.Invite) error
	GetInvite(ctx context.Context, token string) (*domain.Invite, error)
	DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error)
}

// ExpenseRepository stores group expenses and their shares.
type ExpenseRepository interface {
	CreateExpense(ctx context.Context, expense *domain.Expense) error
	ListExpensesByGroup(ctx context.Context, groupID int64, limit int) ([]domain.Expense, error)
}
