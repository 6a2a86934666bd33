package models

import (
	"time"

	"github.com/google/uuid"
)

// Operation statuses. Only open operations accept transaction attachments.
const (
	OperationOpen      = "open"
	OperationCompleted = "completed"
	OperationCancelled = "cancelled"
)

type Operation struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Notes       string     `json:"notes" db:"notes"`
	Status      string     `json:"status" db:"status"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

func ValidOperationStatus(s string) bool {
	switch s {
	case OperationOpen, OperationCompleted, OperationCancelled:
		return true
	}
	return false
}
