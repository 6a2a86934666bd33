package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account types. Current accounts hold a non-negative balance. Credit and
// confirming accounts track used credit as a balance <= 0 against a
// credit limit; confirming accounts can only emit, never receive transfers.
const (
	AccountCurrent    = "current"
	AccountCredit     = "credit"
	AccountConfirming = "confirming"
)

type Account struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CompanyID   uuid.UUID       `json:"company_id" db:"company_id"`
	Name        string          `json:"name" db:"name"`
	IBAN        *string         `json:"iban,omitempty" db:"iban"`
	Type        string          `json:"account_type" db:"account_type"`
	Currency    string          `json:"currency" db:"currency"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Available returns the funds the account can still move. It is a derived
// read and is never stored: current accounts expose the balance itself,
// credit and confirming accounts expose limit + balance (balance <= 0).
func (a *Account) Available() decimal.Decimal {
	switch a.Type {
	case AccountCredit, AccountConfirming:
		return a.CreditLimit.Add(a.Balance)
	default:
		return a.Balance
	}
}

func ValidAccountType(t string) bool {
	switch t {
	case AccountCurrent, AccountCredit, AccountConfirming:
		return true
	}
	return false
}

type AccountPermission struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	AccountID   uuid.UUID  `json:"account_id" db:"account_id"`
	CanView     bool       `json:"can_view" db:"can_view"`
	CanTransfer bool       `json:"can_transfer" db:"can_transfer"`
	GrantedBy   *uuid.UUID `json:"granted_by,omitempty" db:"granted_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
