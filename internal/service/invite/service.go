package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

var (
	ErrInviteNotFound = errors.New("Invite not found")
	ErrInviteExpired  = errors.New("Invite expired")
	ErrInvalidKind    = errors.New("invalid invite kind")
)

const defaultTTL = 72 * time.Hour

// Service issues and resolves join tokens.
type Service struct {
	repo     repository.InviteRepository
	logger   *slog.Logger
	ttl      time.Duration
	linkBase string
	now      func() time.Time
}

// New constructs a Service. linkBase is the prefix of rendered QR links.
func New(repo repository.InviteRepository, logger *slog.Logger, ttl time.Duration, linkBase string) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	linkBase = strings.TrimRight(strings.TrimSpace(linkBase), "/")
	if linkBase == "" {
		linkBase = "splitter://invite"
	}
	return &Service{repo: repo, logger: logger, ttl: ttl, linkBase: linkBase, now: time.Now}
}

// Issued is the client-facing description of a fresh invite.
type Issued struct {
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue creates an invite of the given kind. groupID is required for group invites.
func (s *Service) Issue(ctx context.Context, kind string, inviterID int64, groupID *int64) (Issued, error) {
	if !validKind(kind) {
		return Issued{}, ErrInvalidKind
	}
	if kind == domain.InviteKindGroup && groupID == nil {
		return Issued{}, fmt.Errorf("%w: group invite without group", ErrInvalidKind)
	}
	now := s.now().UTC()
	inv := &domain.Invite{
		Token:     uuid.NewString(),
		Kind:      kind,
		InviterID: inviterID,
		GroupID:   groupID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.CreateInvite(ctx, inv); err != nil {
		return Issued{}, fmt.Errorf("store invite: %w", err)
	}
	s.logger.Info("invite issued", "kind", kind, "inviter_id", inviterID)
	return Issued{Token: inv.Token, Link: s.Link(kind, inv.Token), ExpiresAt: inv.ExpiresAt}, nil
}

// Link renders the QR payload for a token.
func (s *Service) Link(kind, token string) string {
	return s.linkBase + "/" + kind + "/" + token
}

// Resolve returns a live invite of the expected kind.
func (s *Service) Resolve(ctx context.Context, token, kind string) (*domain.Invite, error) {
	token = strings.TrimSpace(token)
	if !validToken(token) {
		return nil, ErrInviteNotFound
	}
	inv, err := s.repo.GetInvite(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	if inv.Kind != kind {
		return nil, ErrInviteNotFound
	}
	if inv.Expired(s.now()) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

// PurgeExpired deletes invites past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpiredInvites(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("expired invites purged", "count", removed)
	}
	return removed, nil
}

func validKind(kind string) bool {
	return kind == domain.InviteKindFriend || kind == domain.InviteKindGroup
}
