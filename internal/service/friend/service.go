package friend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
	"github.com/splax/splitter/internal/service/invite"
)

// Join outcomes reported to the scanner.
const (
	ActionAccepted       = "accepted"
	ActionAlreadyFriends = "already_friends"
)

var (
	ErrSelfFriend      = errors.New("Cannot add yourself")
	ErrUserNotFound    = errors.New("User not found")
	ErrNotFriends      = errors.New("Friend not found")
	ErrAlreadyFriends  = errors.New("Already friends")
	ErrRequestPending  = errors.New("Friend request already pending")
	ErrRequestNotFound = errors.New("Friend request not found")
)

// Notifier delivers live events to a user's connections.
type Notifier interface {
	Notify(userID int64, event domain.Event)
}

// Service handles friendships.
type Service struct {
	users    repository.UserRepository
	friends  repository.FriendRepository
	invites  *invite.Service
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service. notifier may be nil.
func New(users repository.UserRepository, friends repository.FriendRepository, invites *invite.Service, notifier Notifier, logger *slog.Logger) Service {
	return Service{users: users, friends: friends, invites: invites, notifier: notifier, logger: logger, now: time.Now}
}

// JoinResult is returned after redeeming a friend invite.
type JoinResult struct {
	Action string            `json:"action"`
	User   domain.PublicUser `json:"user"`
}

// CreateInvite issues a QR token that befriends the caller.
func (s Service) CreateInvite(ctx context.Context, userID int64) (invite.Issued, error) {
	return s.invites.Issue(ctx, domain.InviteKindFriend, userID, nil)
}

// JoinByToken befriends the invite's issuer. Redeeming twice is not an error.
func (s Service) JoinByToken(ctx context.Context, userID int64, token string) (JoinResult, error) {
	inv, err := s.invites.Resolve(ctx, token, domain.InviteKindFriend)
	if err != nil {
		return JoinResult{}, err
	}
	if inv.InviterID == userID {
		return JoinResult{}, ErrSelfFriend
	}
	inviter, err := s.users.GetUserByID(ctx, inv.InviterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return JoinResult{}, invite.ErrInviteNotFound
		}
		return JoinResult{}, err
	}
	created, err := s.friends.CreateFriendship(ctx, domain.NewFriendship(userID, inviter.ID, s.now().UTC()))
	if err != nil {
		return JoinResult{}, fmt.Errorf("create friendship: %w", err)
	}
	if !created {
		return JoinResult{Action: ActionAlreadyFriends, User: inviter.Public()}, nil
	}
	s.logger.Info("friend invite redeemed", "user_id", userID, "inviter_id", inviter.ID)
	s.notifyAccepted(ctx, inviter.ID, userID)
	return JoinResult{Action: ActionAccepted, User: inviter.Public()}, nil
}

// List returns the caller's friends.
func (s Service) List(ctx context.Context, userID int64) ([]domain.PublicUser, error) {
	return s.friends.ListFriends(ctx, userID)
}

// Remove unlinks two users.
func (s Service) Remove(ctx context.Context, userID, friendID int64) error {
	removed, err := s.friends.DeleteFriendship(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFriends
	}
	s.logger.Info("friend removed", "user_id", userID, "friend_id", friendID)
	return nil
}

// NormalizeUniqueID accepts "#abcd1234" or "abcd1234" and returns "#ABCD1234".
func NormalizeUniqueID(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "#") {
		value = "#" + value
	}
	return value
}

// SendRequest asks the user with the given unique id to become a friend.
func (s Service) SendRequest(ctx context.Context, userID int64, uniqueID string) (*domain.FriendRequest, error) {
	uniqueID = NormalizeUniqueID(uniqueID)
	if uniqueID == "" {
		return nil, ErrUserNotFound
	}
	target, err := s.users.GetUserByUniqueID(ctx, uniqueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if target.ID == userID {
		return nil, ErrSelfFriend
	}
	friends, err := s.friends.AreFriends(ctx, userID, target.ID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, ErrAlreadyFriends
	}
	pending, err := s.friends.HasPendingRequest(ctx, userID, target.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrRequestPending
	}
	req := &domain.FriendRequest{
		FromUserID: userID,
		ToUserID:   target.ID,
		Status:     domain.FriendRequestPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.friends.CreateFriendRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create friend request: %w", err)
	}
	if sender, err := s.users.GetUserByID(ctx, userID); err == nil {
		pub := sender.Public()
		req.From = &pub
	}
	s.notify(target.ID, domain.EventFriendRequest, req)
	return req, nil
}

// IncomingRequests lists pending requests addressed to the caller.
func (s Service) IncomingRequests(ctx context.Context, userID int64) ([]domain.FriendRequest, error) {
	return s.friends.ListIncomingRequests(ctx, userID)
}

// Respond accepts or declines a pending request addressed to the caller.
func (s Service) Respond(ctx context.Context, userID, requestID int64, accept bool) (*domain.FriendRequest, error) {
	req, err := s.friends.GetFriendRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if req.ToUserID != userID || req.Status != domain.FriendRequestPending {
		return nil, ErrRequestNotFound
	}
	now := s.now().UTC()
	status := domain.FriendRequestDeclined
	if accept {
		status = domain.FriendRequestAccepted
	}
	if err := s.friends.RespondFriendRequest(ctx, requestID, status, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	req.Status = status
	req.RespondedAt = &now
	if accept {
		if _, err := s.friends.CreateFriendship(ctx, domain.NewFriendship(req.FromUserID, req.ToUserID, now)); err != nil {
			return nil, fmt.Errorf("create friendship: %w", err)
		}
		s.notifyAccepted(ctx, req.FromUserID, userID)
	}
	s.logger.Info("friend request answered", "request_id", requestID, "status", status)
	return req, nil
}

func (s Service) notifyAccepted(ctx context.Context, recipientID, acceptedBy int64) {
	if s.notifier == nil {
		return
	}
	user, err := s.users.GetUserByID(ctx, acceptedBy)
	if err != nil {
		s.logger.Warn("friend event skipped", "user_id", acceptedBy, "error", err)
		return
	}
	s.notify(recipientID, domain.EventFriendAccepted, map[string]any{"user": user.Public()})
}

func (s Service) notify(userID int64, eventType string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(userID, domain.Event{Type: eventType, Payload: payload, At: s.now().UTC()})
}
