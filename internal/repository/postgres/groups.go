package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

// CreateGroup creates a group record and its owner membership in one transaction.
func (r *Repository) CreateGroup(ctx context.Context, group *domain.Group, owner *domain.GroupMember) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin group tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertGroup = `INSERT INTO groups (name, owner_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := tx.QueryRow(ctx, insertGroup, group.Name, group.OwnerID, group.CreatedAt).Scan(&group.ID); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	owner.GroupID = group.ID
	const insertOwner = `INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertOwner, owner.GroupID, owner.UserID, owner.Role, owner.JoinedAt); err != nil {
		return fmt.Errorf("insert group owner: %w", err)
	}
	return tx.Commit(ctx)
}

// GetGroupByID returns a group by identifier.
func (r *Repository) GetGroupByID(ctx context.Context, groupID int64) (*domain.Group, error) {
	const query = `SELECT id, name, owner_id, created_at FROM groups WHERE id = $1`
	var group domain.Group
	if err := r.pool.QueryRow(ctx, query, groupID).Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// ListGroupsByUser returns groups the user belongs to.
func (r *Repository) ListGroupsByUser(ctx context.Context, userID int64) ([]domain.Group, error) {
	const query = `SELECT g.id, g.name, g.owner_id, g.created_at
		FROM groups g
		INNER JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.Group, 0)
	for rows.Next() {
		var group domain.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// AddMember inserts a membership and reports whether the user was newly added.
func (r *Repository) AddMember(ctx context.Context, member *domain.GroupMember) (bool, error) {
	const query = `INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, member.GroupID, member.UserID, member.Role, member.JoinedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveMember deletes a membership.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID int64) error {
	const query = `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, groupID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetMember fetches a single membership.
func (r *Repository) GetMember(ctx context.Context, groupID, userID int64) (*domain.GroupMember, error) {
	const query = `SELECT gm.group_id, gm.user_id, gm.role, gm.joined_at, u.id, u.username, u.unique_id, u.avatar_url
		FROM group_members gm
		INNER JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1 AND gm.user_id = $2`
	m, err := scanMember(r.pool.QueryRow(ctx, query, groupID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListMembers returns all members of a group ordered by user id.
func (r *Repository) ListMembers(ctx context.Context, groupID int64) ([]domain.GroupMember, error) {
	const query = `SELECT gm.group_id, gm.user_id, gm.role, gm.joined_at, u.id, u.username, u.unique_id, u.avatar_url
		FROM group_members gm
		INNER JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.user_id`
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.GroupMember, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func scanMember(row pgx.Row) (*domain.GroupMember, error) {
	var m domain.GroupMember
	if err := row.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt, &m.User.ID, &m.User.Username, &m.User.UniqueID, &m.User.AvatarURL); err != nil {
		return nil, err
	}
	return &m, nil
}
