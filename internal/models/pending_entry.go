package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PendingEntryPending = "pending"
	PendingEntrySettled = "settled"
)

// PendingEntry is a non-bank debt between two groups: FromGroup owes
// ToGroup. It exists outside account balances and feeds the group summaries
// until settled.
type PendingEntry struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	FromGroupID          uuid.UUID       `json:"from_group_id" db:"from_group_id"`
	ToGroupID            uuid.UUID       `json:"to_group_id" db:"to_group_id"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Description          string          `json:"description" db:"description"`
	OperationID          *uuid.UUID      `json:"operation_id,omitempty" db:"operation_id"`
	SettledInOperationID *uuid.UUID      `json:"settled_in_operation_id,omitempty" db:"settled_in_operation_id"`
	Status               string          `json:"status" db:"status"`
	CreatedBy            *uuid.UUID      `json:"created_by,omitempty" db:"created_by"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	SettledAt            *time.Time      `json:"settled_at,omitempty" db:"settled_at"`

	FromGroupName string `json:"from_group_name,omitempty" db:"-"`
	ToGroupName   string `json:"to_group_name,omitempty" db:"-"`
}
