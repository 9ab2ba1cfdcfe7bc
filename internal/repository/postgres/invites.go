package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

const (
	inviteInsert = `INSERT INTO invites (
		token,
		kind,
		inviter_id,
		group_id,
		expires_at,
		created_at
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)`
	inviteSelect = `SELECT token, kind, inviter_id, group_id, expires_at, created_at FROM invites WHERE token = $1`
)

// CreateInvite persists a new join token.
func (r *Repository) CreateInvite(ctx context.Context, invite *domain.Invite) error {
	if invite == nil {
		return repository.ErrInvalidArgument
	}
	token := strings.TrimSpace(invite.Token)
	if token == "" {
		return repository.ErrInvalidArgument
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, inviteInsert,
		token,
		invite.Kind,
		invite.InviterID,
		invite.GroupID,
		invite.ExpiresAt.UTC(),
		invite.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return repository.ErrInvalidArgument
		}
		return err
	}
	invite.Token = token
	return nil
}

// GetInvite fetches an invite by token.
func (r *Repository) GetInvite(ctx context.Context, token string) (*domain.Invite, error) {
	var inv domain.Invite
	err := r.pool.QueryRow(ctx, inviteSelect, strings.TrimSpace(token)).
		Scan(&inv.Token, &inv.Kind, &inv.InviterID, &inv.GroupID, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// DeleteExpiredInvites removes invites that expired at or before now.
func (r *Repository) DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM invites WHERE expires_at <= $1`
	tag, err := r.pool.Exec(ctx, query, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
