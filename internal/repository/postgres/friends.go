package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

// CreateFriendship stores the pair and reports whether a new row was written.
func (r *Repository) CreateFriendship(ctx context.Context, f domain.Friendship) (bool, error) {
	const query = `INSERT INTO friendships (user_id, friend_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, friend_id) DO NOTHING`
	f = domain.NewFriendship(f.UserID, f.FriendID, f.CreatedAt)
	tag, err := r.pool.Exec(ctx, query, f.UserID, f.FriendID, f.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteFriendship removes the pair and reports whether it existed.
func (r *Repository) DeleteFriendship(ctx context.Context, a, b int64) (bool, error) {
	const query = `DELETE FROM friendships WHERE user_id = $1 AND friend_id = $2`
	f := domain.NewFriendship(a, b, time.Time{})
	tag, err := r.pool.Exec(ctx, query, f.UserID, f.FriendID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AreFriends reports whether the pair is linked.
func (r *Repository) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)`
	f := domain.NewFriendship(a, b, time.Time{})
	var exists bool
	if err := r.pool.QueryRow(ctx, query, f.UserID, f.FriendID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListFriends returns the public profiles of a user's friends ordered by username.
func (r *Repository) ListFriends(ctx context.Context, userID int64) ([]domain.PublicUser, error) {
	const query = `SELECT u.id, u.username, u.unique_id, u.avatar_url
		FROM friendships f
		INNER JOIN users u ON u.id = CASE WHEN f.user_id = $1 THEN f.friend_id ELSE f.user_id END
		WHERE f.user_id = $1 OR f.friend_id = $1
		ORDER BY u.username, u.id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friends := make([]domain.PublicUser, 0)
	for rows.Next() {
		var u domain.PublicUser
		if err := rows.Scan(&u.ID, &u.Username, &u.UniqueID, &u.AvatarURL); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

// CreateFriendRequest inserts a pending request.
func (r *Repository) CreateFriendRequest(ctx context.Context, req *domain.FriendRequest) error {
	const query = `INSERT INTO friend_requests (from_user_id, to_user_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if req.Status == "" {
		req.Status = domain.FriendRequestPending
	}
	return r.pool.QueryRow(ctx, query, req.FromUserID, req.ToUserID, req.Status, req.CreatedAt).Scan(&req.ID)
}

// GetFriendRequest fetches a request by id.
func (r *Repository) GetFriendRequest(ctx context.Context, id int64) (*domain.FriendRequest, error) {
	const query = `SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		FROM friend_requests WHERE id = $1`
	var req domain.FriendRequest
	err := r.pool.QueryRow(ctx, query, id).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt, &req.RespondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// HasPendingRequest reports whether either user has a pending request to the other.
func (r *Repository) HasPendingRequest(ctx context.Context, a, b int64) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM friend_requests
		WHERE status = 'pending'
		  AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)))`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, a, b).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListIncomingRequests returns pending requests addressed to the user, newest first.
func (r *Repository) ListIncomingRequests(ctx context.Context, userID int64) ([]domain.FriendRequest, error) {
	const query = `SELECT fr.id, fr.from_user_id, fr.to_user_id, fr.status, fr.created_at, fr.responded_at,
			u.id, u.username, u.unique_id, u.avatar_url
		FROM friend_requests fr
		INNER JOIN users u ON u.id = fr.from_user_id
		WHERE fr.to_user_id = $1 AND fr.status = 'pending'
		ORDER BY fr.created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.FriendRequest, 0)
	for rows.Next() {
		var req domain.FriendRequest
		var from domain.PublicUser
		if err := rows.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &req.CreatedAt, &req.RespondedAt,
			&from.ID, &from.Username, &from.UniqueID, &from.AvatarURL); err != nil {
			return nil, err
		}
		req.From = &from
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// RespondFriendRequest moves a pending request to its final status.
func (r *Repository) RespondFriendRequest(ctx context.Context, id int64, status string, at time.Time) error {
	const query = `UPDATE friend_requests SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
