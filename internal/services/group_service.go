package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

type GroupService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewGroupService(db *sql.DB) *GroupService {
	return &GroupService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

type UpdateGroupRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (s *GroupService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreateGroupRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	group := models.Group{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   &actor.ID,
		IsActive:    true,
	}
	err := s.db.QueryRow(`
		INSERT INTO groups (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, group.ID, group.Name, group.Description, actor.ID).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		log.Printf("[GROUP] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[GROUP] Created %s (%s)", group.ID, group.Name)
	SendJSON(w, http.StatusCreated, group)
}

func (s *GroupService) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	rows, err := s.db.Query(`
		SELECT id, name, description, created_by, is_active, created_at, updated_at
		FROM groups WHERE is_active = TRUE ORDER BY name
	`)
	if err != nil {
		log.Printf("[GROUP] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		groups = append(groups, *group)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, groups)
}

func (s *GroupService) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	row := s.db.QueryRow(`
		SELECT id, name, description, created_by, is_active, created_at, updated_at
		FROM groups WHERE id = $1 AND is_active = TRUE
	`, groupID)
	group, err := scanGroup(row)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("group"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, group)
}

func (s *GroupService) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateGroupRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	row := s.db.QueryRow(`
		UPDATE groups
		SET name = COALESCE($1, name), description = COALESCE($2, description), updated_at = NOW()
		WHERE id = $3 AND is_active = TRUE
		RETURNING id, name, description, created_by, is_active, created_at, updated_at
	`, req.Name, req.Description, groupID)

	group, err := scanGroup(row)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("group"))
		return
	}
	if err != nil {
		log.Printf("[GROUP] Update %s failed: %v", groupID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, group)
}

// Deactivate soft-deletes a group. Its companies keep their reference but
// stop rolling up once the group no longer lists as active.
func (s *GroupService) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`UPDATE groups SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`, groupID)
	if err != nil {
		log.Printf("[GROUP] Deactivate %s failed: %v", groupID, err)
		WriteServiceError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		WriteServiceError(w, notFound("group"))
		return
	}

	log.Printf("[GROUP] Deactivated %s", groupID)
	w.WriteHeader(http.StatusNoContent)
}

func scanGroup(row rowScanner) (*models.Group, error) {
	var group models.Group
	var createdBy uuid.NullUUID
	err := row.Scan(&group.ID, &group.Name, &group.Description, &createdBy,
		&group.IsActive, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, err
	}
	group.CreatedBy = uuidPtr(createdBy)
	return &group, nil
}
