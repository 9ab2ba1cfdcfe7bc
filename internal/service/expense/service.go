package expense

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

const maxDescriptionLength = 200

// MaxAmountCents bounds a single expense. Balances are summed in int64.
const MaxAmountCents int64 = 1_000_000_000_000

var (
	ErrInvalidAmount      = errors.New("amountCents must be a positive integer")
	ErrAmountTooLarge     = errors.New("amountCents must not exceed 1000000000000")
	ErrInvalidDescription = errors.New("description is required")
	ErrPayerNotMember     = errors.New("paidBy must be a group member")
	ErrSplitNotMember     = errors.New("splitAmong must only contain group members")
)

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrAmountTooLarge),
		errors.Is(err, ErrInvalidDescription),
		errors.Is(err, ErrPayerNotMember),
		errors.Is(err, ErrSplitNotMember):
		return true
	}
	return false
}

// Membership exposes the group membership checks the ledger relies on.
type Membership interface {
	Members(ctx context.Context, userID, groupID int64) ([]domain.GroupMember, error)
}

// Service records expenses and derives balances.
type Service struct {
	repo    repository.ExpenseRepository
	members Membership
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Service.
func New(repo repository.ExpenseRepository, members Membership, logger *slog.Logger) Service {
	return Service{repo: repo, members: members, logger: logger, now: time.Now}
}

// CreateInput describes a new expense. Zero PaidBy means the caller; empty SplitAmong means every member.
type CreateInput struct {
	Description string  `json:"description"`
	AmountCents int64   `json:"amountCents"`
	PaidBy      int64   `json:"paidBy,omitempty"`
	SplitAmong  []int64 `json:"splitAmong,omitempty"`
}

// Summary is the balance sheet of a group.
type Summary struct {
	Balances    []domain.Balance    `json:"balances"`
	Settlements []domain.Settlement `json:"settlements"`
}

// Create validates and stores an expense split equally among participants.
func (s Service) Create(ctx context.Context, userID, groupID int64, input CreateInput) (*domain.Expense, error) {
	desc := strings.TrimSpace(input.Description)
	if desc == "" || len([]rune(desc)) > maxDescriptionLength {
		return nil, ErrInvalidDescription
	}
	if input.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if input.AmountCents > MaxAmountCents {
		return nil, ErrAmountTooLarge
	}
	members, err := s.members.Members(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	isMember := make(map[int64]bool, len(members))
	for _, m := range members {
		isMember[m.UserID] = true
	}

	payer := input.PaidBy
	if payer == 0 {
		payer = userID
	}
	if !isMember[payer] {
		return nil, ErrPayerNotMember
	}

	var participants []int64
	if len(input.SplitAmong) == 0 {
		for _, m := range members {
			participants = append(participants, m.UserID)
		}
	} else {
		seen := make(map[int64]bool, len(input.SplitAmong))
		for _, id := range input.SplitAmong {
			if !isMember[id] {
				return nil, ErrSplitNotMember
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			participants = append(participants, id)
		}
	}

	exp := &domain.Expense{
		GroupID:     groupID,
		PaidBy:      payer,
		Description: desc,
		AmountCents: input.AmountCents,
		CreatedAt:   s.now().UTC(),
		Shares:      SplitEqually(input.AmountCents, participants),
	}
	if err := s.repo.CreateExpense(ctx, exp); err != nil {
		return nil, fmt.Errorf("store expense: %w", err)
	}
	s.logger.Info("expense recorded", "group_id", groupID, "expense_id", exp.ID, "amount_cents", exp.AmountCents, "participants", len(exp.Shares))
	return exp, nil
}

// List returns a group's expenses, newest first.
func (s Service) List(ctx context.Context, userID, groupID int64) ([]domain.Expense, error) {
	if _, err := s.members.Members(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListExpensesByGroup(ctx, groupID, 0)
}

// Balances computes net positions for every current member and a settlement plan.
func (s Service) Balances(ctx context.Context, userID, groupID int64) (Summary, error) {
	members, err := s.members.Members(ctx, userID, groupID)
	if err != nil {
		return Summary{}, err
	}
	expenses, err := s.repo.ListExpensesByGroup(ctx, groupID, 0)
	if err != nil {
		return Summary{}, err
	}
	balances := NetBalances(expenses)
	// members with no expenses still appear with zero
	present := make(map[int64]bool, len(balances))
	for _, b := range balances {
		present[b.UserID] = true
	}
	for _, m := range members {
		if !present[m.UserID] {
			balances = append(balances, domain.Balance{UserID: m.UserID})
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].UserID < balances[j].UserID })
	return Summary{Balances: balances, Settlements: Settle(balances)}, nil
}

// SplitEqually divides amount among participants in integer cents. Leftover
// cents go one at a time to the lowest user ids.
func SplitEqually(amount int64, participants []int64) []domain.ExpenseShare {
	if len(participants) == 0 {
		return nil
	}
	ids := append([]int64(nil), participants...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	n := int64(len(ids))
	base, remainder := amount/n, amount%n
	shares := make([]domain.ExpenseShare, len(ids))
	for i, id := range ids {
		share := base
		if int64(i) < remainder {
			share++
		}
		shares[i] = domain.ExpenseShare{UserID: id, AmountCents: share}
	}
	return shares
}

// NetBalances returns paid minus owed per user, ordered by user id.
func NetBalances(expenses []domain.Expense) []domain.Balance {
	net := make(map[int64]int64)
	for _, e := range expenses {
		net[e.PaidBy] += e.AmountCents
		for _, sh := range e.Shares {
			net[sh.UserID] -= sh.AmountCents
		}
	}
	out := make([]domain.Balance, 0, len(net))
	for id, cents := range net {
		out = append(out, domain.Balance{UserID: id, NetCents: cents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Settle pairs the largest debtor with the largest creditor until all
// balances are cleared. Ties break on the lower user id.
func Settle(balances []domain.Balance) []domain.Settlement {
	var debtors, creditors []domain.Balance
	for _, b := range balances {
		switch {
		case b.NetCents < 0:
			debtors = append(debtors, domain.Balance{UserID: b.UserID, NetCents: -b.NetCents})
		case b.NetCents > 0:
			creditors = append(creditors, b)
		}
	}
	byAmount := func(list []domain.Balance) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].NetCents != list[j].NetCents {
				return list[i].NetCents > list[j].NetCents
			}
			return list[i].UserID < list[j].UserID
		})
	}

	settlements := []domain.Settlement{}
	for len(debtors) > 0 && len(creditors) > 0 {
		byAmount(debtors)
		byAmount(creditors)
		d, c := &debtors[0], &creditors[0]
		amount := min(d.NetCents, c.NetCents)
		settlements = append(settlements, domain.Settlement{From: d.UserID, To: c.UserID, AmountCents: amount})
		d.NetCents -= amount
		c.NetCents -= amount
		if d.NetCents == 0 {
			debtors = debtors[1:]
		}
		if c.NetCents == 0 {
			creditors = creditors[1:]
		}
	}
	return settlements
}
