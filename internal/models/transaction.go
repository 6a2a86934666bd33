package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TxTransfer             = "transfer"
	TxDeposit              = "deposit"
	TxWithdrawal           = "withdrawal"
	TxConfirmingSettlement = "confirming_settlement"
)

// Transaction is an immutable money movement. The only mutable fields after
// creation are the operation tag (attach/detach while the operation is open)
// and the business date; balances and snapshots never change.
type Transaction struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	FromAccountID    *uuid.UUID       `json:"from_account_id,omitempty" db:"from_account_id"`
	ToAccountID      *uuid.UUID       `json:"to_account_id,omitempty" db:"to_account_id"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	Description      string           `json:"description" db:"description"`
	Type             string           `json:"transaction_type" db:"transaction_type"`
	Status           string           `json:"status" db:"status"`
	OperationID      *uuid.UUID       `json:"operation_id,omitempty" db:"operation_id"`
	FromBalanceAfter *decimal.Decimal `json:"from_balance_after,omitempty" db:"from_balance_after"`
	ToBalanceAfter   *decimal.Decimal `json:"to_balance_after,omitempty" db:"to_balance_after"`
	TransactionDate  time.Time        `json:"transaction_date" db:"transaction_date"`
	CreatedBy        *uuid.UUID       `json:"created_by,omitempty" db:"created_by"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`

	// Resolved for list/detail responses, not stored on the row.
	FromAccountName string `json:"from_account_name,omitempty" db:"-"`
	ToAccountName   string `json:"to_account_name,omitempty" db:"-"`
	FromCompanyName string `json:"from_company_name,omitempty" db:"-"`
	ToCompanyName   string `json:"to_company_name,omitempty" db:"-"`
}

type Attachment struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TransactionID uuid.UUID  `json:"transaction_id" db:"transaction_id"`
	Filename      string     `json:"filename" db:"filename"`
	ContentType   string     `json:"content_type" db:"content_type"`
	FileSize      int64      `json:"file_size" db:"file_size"`
	UploadedBy    *uuid.UUID `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
