package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Supervisor is the only elevated role: it bypasses the
// per-account permission table entirely.
const (
	RoleSupervisor = "supervisor"
	RoleUser       = "user"
	RoleDemo       = "demo"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FullName     string    `json:"full_name" db:"full_name"`
	Role         string    `json:"role" db:"role"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Actor is the authenticated caller attached to the request context by the
// auth middleware.
type Actor struct {
	ID       uuid.UUID
	Role     string
	IsActive bool
}

func (a Actor) IsSupervisor() bool {
	return a.Role == RoleSupervisor
}
