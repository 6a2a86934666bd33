package services

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

type PermissionService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPermissionService(db *sql.DB) *PermissionService {
	return &PermissionService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CheckAccountAccess reports whether the actor may access the account.
// Supervisors always may; everyone else needs a permission row, and the
// row's can_transfer (or can_view) flag decides. An absent row denies.
func CheckAccountAccess(q queryRower, actor models.Actor, accountID uuid.UUID, requireTransfer bool) (bool, error) {
	if actor.IsSupervisor() {
		return true, nil
	}

	var canView, canTransfer bool
	err := q.QueryRow(`
		SELECT can_view, can_transfer FROM account_permissions
		WHERE user_id = $1 AND account_id = $2
	`, actor.ID, accountID).Scan(&canView, &canTransfer)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if requireTransfer {
		return canTransfer, nil
	}
	return canView, nil
}

type GrantPermissionRequest struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	AccountID   uuid.UUID `json:"account_id" validate:"required"`
	CanView     bool      `json:"can_view"`
	CanTransfer bool      `json:"can_transfer"`
}

type UpdatePermissionRequest struct {
	CanView     *bool `json:"can_view"`
	CanTransfer *bool `json:"can_transfer"`
}

// Grant creates or replaces the permission row for a (user, account) pair.
func (s *PermissionService) Grant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req GrantPermissionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, req.UserID).Scan(&exists)
	if err != nil {
		log.Printf("[PERMISSION] User lookup failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	if !exists {
		WriteServiceError(w, notFound("user"))
		return
	}

	err = s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1 AND is_active = TRUE)`, req.AccountID).Scan(&exists)
	if err != nil {
		log.Printf("[PERMISSION] Account lookup failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	if !exists {
		WriteServiceError(w, notFound("account"))
		return
	}

	perm := models.AccountPermission{
		ID:          uuid.New(),
		UserID:      req.UserID,
		AccountID:   req.AccountID,
		CanView:     req.CanView,
		CanTransfer: req.CanTransfer,
		GrantedBy:   &actor.ID,
		CreatedAt:   time.Now(),
	}

	// One row per (user, account): re-granting overwrites the flags.
	err = s.db.QueryRow(`
		INSERT INTO account_permissions (id, user_id, account_id, can_view, can_transfer, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, account_id)
		DO UPDATE SET can_view = EXCLUDED.can_view, can_transfer = EXCLUDED.can_transfer, granted_by = EXCLUDED.granted_by
		RETURNING id, created_at
	`, perm.ID, perm.UserID, perm.AccountID, perm.CanView, perm.CanTransfer, actor.ID, perm.CreatedAt).Scan(&perm.ID, &perm.CreatedAt)
	if err != nil {
		log.Printf("[PERMISSION] Grant failed for user %s account %s: %v", req.UserID, req.AccountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[PERMISSION] Granted user %s on account %s (view=%t transfer=%t)", perm.UserID, perm.AccountID, perm.CanView, perm.CanTransfer)
	SendJSON(w, http.StatusCreated, perm)
}

// List returns every permission row.
func (s *PermissionService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, account_id, can_view, can_transfer, granted_by, created_at
		FROM account_permissions
		ORDER BY created_at DESC
	`)
	if err != nil {
		log.Printf("[PERMISSION] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	permissions, err := scanPermissions(rows)
	if err != nil {
		log.Printf("[PERMISSION] Scan failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, permissions)
}

// ListForUser returns the permission rows of one user.
func (s *PermissionService) ListForUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	// Users may read their own grants; anything else is supervisor only.
	if userID != actor.ID {
		if err := requireSupervisor(actor); err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, account_id, can_view, can_transfer, granted_by, created_at
		FROM account_permissions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		log.Printf("[PERMISSION] List for user %s failed: %v", userID, err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	permissions, err := scanPermissions(rows)
	if err != nil {
		log.Printf("[PERMISSION] Scan failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, permissions)
}

// Update patches the capability flags of one permission row.
func (s *PermissionService) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	permissionID, err := uuid.Parse(chi.URLParam(r, "permissionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid permission id", http.StatusBadRequest, nil)
		return
	}

	var req UpdatePermissionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	perm := models.AccountPermission{}
	var grantedBy uuid.NullUUID
	err = s.db.QueryRow(`
		UPDATE account_permissions
		SET can_view = COALESCE($1, can_view), can_transfer = COALESCE($2, can_transfer)
		WHERE id = $3
		RETURNING id, user_id, account_id, can_view, can_transfer, granted_by, created_at
	`, req.CanView, req.CanTransfer, permissionID).Scan(
		&perm.ID, &perm.UserID, &perm.AccountID, &perm.CanView, &perm.CanTransfer, &grantedBy, &perm.CreatedAt,
	)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("permission"))
		return
	}
	if err != nil {
		log.Printf("[PERMISSION] Update %s failed: %v", permissionID, err)
		WriteServiceError(w, err)
		return
	}
	perm.GrantedBy = uuidPtr(grantedBy)

	SendJSON(w, http.StatusOK, perm)
}

// Revoke removes a permission row.
func (s *PermissionService) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	permissionID, err := uuid.Parse(chi.URLParam(r, "permissionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid permission id", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`DELETE FROM account_permissions WHERE id = $1`, permissionID)
	if err != nil {
		log.Printf("[PERMISSION] Revoke %s failed: %v", permissionID, err)
		WriteServiceError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		WriteServiceError(w, notFound("permission"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func scanPermissions(rows *sql.Rows) ([]models.AccountPermission, error) {
	permissions := []models.AccountPermission{}
	for rows.Next() {
		var perm models.AccountPermission
		var grantedBy uuid.NullUUID
		err := rows.Scan(&perm.ID, &perm.UserID, &perm.AccountID, &perm.CanView, &perm.CanTransfer, &grantedBy, &perm.CreatedAt)
		if err != nil {
			return nil, err
		}
		perm.GrantedBy = uuidPtr(grantedBy)
		permissions = append(permissions, perm)
	}
	return permissions, rows.Err()
}
