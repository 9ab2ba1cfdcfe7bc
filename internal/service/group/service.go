package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
	"github.com/splax/splitter/internal/service/invite"
)

const maxGroupNameLength = 100

// Join outcomes reported to the scanner.
const (
	MemberJoined  = "joined"
	MemberAlready = "already_member"
)

var (
	errInvalidGroupName = errors.New("group name is required")
	errGroupNameTooLong = fmt.Errorf("group name must be at most %d characters", maxGroupNameLength)
	ErrGroupNotFound    = errors.New("Group not found")
	ErrOwnerCannotLeave = errors.New("Owner cannot leave the group")
)

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, errInvalidGroupName) || errors.Is(err, errGroupNameTooLong)
}

// Notifier delivers live events to a user's connections.
type Notifier interface {
	Notify(userID int64, event domain.Event)
}

// Service handles group workflows.
type Service struct {
	repo     repository.GroupRepository
	users    repository.UserRepository
	invites  *invite.Service
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service. notifier may be nil.
func New(repo repository.GroupRepository, users repository.UserRepository, invites *invite.Service, notifier Notifier, logger *slog.Logger) Service {
	return Service{repo: repo, users: users, invites: invites, notifier: notifier, logger: logger, now: time.Now}
}

// Details is a group with its members.
type Details struct {
	Group   domain.Group         `json:"group"`
	Members []domain.GroupMember `json:"members"`
}

// JoinResult is returned after redeeming a group invite.
type JoinResult struct {
	Member string            `json:"member"`
	Group  domain.Group      `json:"group"`
	Owner  domain.PublicUser `json:"owner"`
}

// Create registers a group with the caller as owner.
func (s Service) Create(ctx context.Context, ownerID int64, name string) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidGroupName
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return nil, errGroupNameTooLong
	}
	now := s.now().UTC()
	group := &domain.Group{
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
	}
	owner := &domain.GroupMember{
		UserID:   ownerID,
		Role:     domain.GroupRoleOwner,
		JoinedAt: now,
	}
	if err := s.repo.CreateGroup(ctx, group, owner); err != nil {
		return nil, err
	}
	s.logger.Info("group created", "group_id", group.ID, "owner_id", ownerID)
	return group, nil
}

// ListForUser returns groups the caller belongs to.
func (s Service) ListForUser(ctx context.Context, userID int64) ([]domain.Group, error) {
	return s.repo.ListGroupsByUser(ctx, userID)
}

// Get returns a group and its members. Non-members see ErrGroupNotFound.
func (s Service) Get(ctx context.Context, userID, groupID int64) (*Details, error) {
	group, err := s.RequireMember(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &Details{Group: *group, Members: members}, nil
}

// Members lists members of a group the caller belongs to.
func (s Service) Members(ctx context.Context, userID, groupID int64) ([]domain.GroupMember, error) {
	if _, err := s.RequireMember(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, groupID)
}

// RequireMember loads the group if userID is a member of it.
func (s Service) RequireMember(ctx context.Context, userID, groupID int64) (*domain.Group, error) {
	if _, err := s.repo.GetMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	group, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

// CreateInvite issues a QR token that adds the scanner to the group.
func (s Service) CreateInvite(ctx context.Context, userID, groupID int64) (invite.Issued, error) {
	if _, err := s.RequireMember(ctx, userID, groupID); err != nil {
		return invite.Issued{}, err
	}
	return s.invites.Issue(ctx, domain.InviteKindGroup, userID, &groupID)
}

// JoinByToken adds the caller to the invite's group.
func (s Service) JoinByToken(ctx context.Context, userID int64, token string) (JoinResult, error) {
	inv, err := s.invites.Resolve(ctx, token, domain.InviteKindGroup)
	if err != nil {
		return JoinResult{}, err
	}
	if inv.GroupID == nil {
		return JoinResult{}, invite.ErrInviteNotFound
	}
	group, err := s.repo.GetGroupByID(ctx, *inv.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return JoinResult{}, invite.ErrInviteNotFound
		}
		return JoinResult{}, err
	}
	owner, err := s.users.GetUserByID(ctx, group.OwnerID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("load group owner: %w", err)
	}
	added, err := s.repo.AddMember(ctx, &domain.GroupMember{
		GroupID:  group.ID,
		UserID:   userID,
		Role:     domain.GroupRoleMember,
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("add member: %w", err)
	}
	result := JoinResult{Member: MemberAlready, Group: *group, Owner: owner.Public()}
	if !added {
		return result, nil
	}
	result.Member = MemberJoined
	s.logger.Info("group invite redeemed", "group_id", group.ID, "user_id", userID)
	s.notifyJoined(ctx, group, userID)
	return result, nil
}

// Leave removes the caller from a group. The owner cannot leave.
func (s Service) Leave(ctx context.Context, userID, groupID int64) error {
	group, err := s.RequireMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	if err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGroupNotFound
		}
		return err
	}
	s.logger.Info("group left", "group_id", groupID, "user_id", userID)
	return nil
}

func (s Service) notifyJoined(ctx context.Context, group *domain.Group, joinedID int64) {
	if s.notifier == nil {
		return
	}
	members, err := s.repo.ListMembers(ctx, group.ID)
	if err != nil {
		s.logger.Warn("group event skipped", "group_id", group.ID, "error", err)
		return
	}
	var joined domain.PublicUser
	for _, m := range members {
		if m.UserID == joinedID {
			joined = m.User
		}
	}
	event := domain.Event{
		Type:    domain.EventGroupJoined,
		Payload: map[string]any{"group": group, "user": joined},
		At:      s.now().UTC(),
	}
	for _, m := range members {
		if m.UserID == joinedID {
			continue
		}
		s.notifier.Notify(m.UserID, event)
	}
}
