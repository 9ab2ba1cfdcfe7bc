package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/splax/splitter/internal/domain"
)

// CreateExpense stores the expense and its shares in one transaction.
func (r *Repository) CreateExpense(ctx context.Context, expense *domain.Expense) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin expense tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertExpense = `INSERT INTO expenses (group_id, paid_by, description, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRow(ctx, insertExpense, expense.GroupID, expense.PaidBy, expense.Description, expense.AmountCents, expense.CreatedAt).Scan(&expense.ID); err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	batch := &pgx.Batch{}
	const insertShare = `INSERT INTO expense_shares (expense_id, user_id, amount_cents) VALUES ($1, $2, $3)`
	for _, share := range expense.Shares {
		batch.Queue(insertShare, expense.ID, share.UserID, share.AmountCents)
	}
	results := tx.SendBatch(ctx, batch)
	for range expense.Shares {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert expense share: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close share batch: %w", err)
	}
	return tx.Commit(ctx)
}

// ListExpensesByGroup returns expenses newest first with their shares. limit <= 0 returns all.
func (r *Repository) ListExpensesByGroup(ctx context.Context, groupID int64, limit int) ([]domain.Expense, error) {
	query := `SELECT id, group_id, paid_by, description, amount_cents, created_at
		FROM expenses WHERE group_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{groupID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	expenses := make([]domain.Expense, 0)
	index := make(map[int64]int)
	ids := make([]int64, 0)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PaidBy, &e.Description, &e.AmountCents, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Shares = make([]domain.ExpenseShare, 0)
		index[e.ID] = len(expenses)
		ids = append(ids, e.ID)
		expenses = append(expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return expenses, nil
	}

	const sharesQuery = `SELECT expense_id, user_id, amount_cents
		FROM expense_shares WHERE expense_id = ANY($1)
		ORDER BY expense_id, user_id`
	shareRows, err := r.pool.Query(ctx, sharesQuery, ids)
	if err != nil {
		return nil, err
	}
	defer shareRows.Close()
	for shareRows.Next() {
		var expenseID int64
		var share domain.ExpenseShare
		if err := shareRows.Scan(&expenseID, &share.UserID, &share.AmountCents); err != nil {
			return nil, err
		}
		if i, ok := index[expenseID]; ok {
			expenses[i].Shares = append(expenses[i].Shares, share)
		}
	}
	return expenses, shareRows.Err()
}
