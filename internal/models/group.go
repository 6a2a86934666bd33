package models

import (
	"time"

	"github.com/google/uuid"
)

// Group is a holding that owns one or more companies. Pending entries are
// debts between groups, and the flow summaries roll companies up to them.
type Group struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

type Company struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	GroupID     *uuid.UUID `json:"group_id,omitempty" db:"group_id"`
	GroupName   string     `json:"group_name,omitempty" db:"-"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
