package domain

import "time"

// Expense is a payment made by one member on behalf of some participants.
type Expense struct {
	ID          int64          `json:"id"`
	GroupID     int64          `json:"groupId"`
	PaidBy      int64          `json:"paidBy"`
	Description string         `json:"description"`
	AmountCents int64          `json:"amountCents"`
	CreatedAt   time.Time      `json:"createdAt"`
	Shares      []ExpenseShare `json:"shares"`
}

// ExpenseShare is the amount a participant owes for an expense.
type ExpenseShare struct {
	UserID      int64 `json:"userId"`
	AmountCents int64 `json:"amountCents"`
}

// Balance is a member's net position in a group: positive means they are owed money.
type Balance struct {
	UserID   int64 `json:"userId"`
	NetCents int64 `json:"netCents"`
}

// Settlement is a suggested transfer that clears debts.
type Settlement struct {
	From        int64 `json:"from"`
	To          int64 `json:"to"`
	AmountCents int64 `json:"amountCents"`
}
