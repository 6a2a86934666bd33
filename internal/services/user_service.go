package services

import (
	"database/sql"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

type UserService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewUserService(db *sql.DB) *UserService {
	return &UserService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required,min=2,max=255"`
	Role     string `json:"role" validate:"omitempty,oneof=supervisor user demo"`
}

type UpdateUserRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,min=2,max=255"`
	Role     *string `json:"role" validate:"omitempty,oneof=supervisor user demo"`
}

// Create registers a user. Only supervisors create accounts for others;
// there is no self-registration.
func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreateUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[USER] Password hashing failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	user := models.User{
		ID:       uuid.New(),
		Email:    strings.ToLower(req.Email),
		FullName: req.FullName,
		Role:     role,
		IsActive: true,
	}
	err = s.db.QueryRow(`
		INSERT INTO users (id, email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, passwordHash, user.FullName, user.Role).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[USER] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[USER] Created %s (%s, role %s)", user.ID, user.Email, user.Role)
	SendJSON(w, http.StatusCreated, user)
}

// List returns every user.
func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, email, full_name, role, is_active, created_at, updated_at
		FROM users ORDER BY created_at DESC
	`)
	if err != nil {
		log.Printf("[USER] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.Role,
			&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, users)
}

// Get returns one user. Users may read themselves.
func (s *UserService) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}
	if userID != actor.ID {
		if err := requireSupervisor(actor); err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	var user models.User
	err = s.db.QueryRow(`
		SELECT id, email, full_name, role, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.FullName, &user.Role,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("user"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, user)
}

// Update patches name and role.
func (s *UserService) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	err = s.db.QueryRow(`
		UPDATE users
		SET full_name = COALESCE($1, full_name), role = COALESCE($2, role), updated_at = NOW()
		WHERE id = $3
		RETURNING id, email, full_name, role, is_active, created_at, updated_at
	`, req.FullName, req.Role, userID).Scan(&user.ID, &user.Email, &user.FullName, &user.Role,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("user"))
		return
	}
	if err != nil {
		log.Printf("[USER] Update %s failed: %v", userID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, user)
}

// Deactivate soft-deletes a user. Supervisors cannot lock themselves out.
func (s *UserService) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}
	if userID == actor.ID {
		WriteServiceError(w, ErrSelfDeactivation)
		return
	}

	result, err := s.db.Exec(`UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		log.Printf("[USER] Deactivate %s failed: %v", userID, err)
		WriteServiceError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		WriteServiceError(w, notFound("user"))
		return
	}

	log.Printf("[USER] Deactivated %s", userID)
	w.WriteHeader(http.StatusNoContent)
}
