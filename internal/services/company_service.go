package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

type CompanyService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCompanyService(db *sql.DB) *CompanyService {
	return &CompanyService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateCompanyRequest struct {
	Name        string     `json:"name" validate:"required,min=1,max=255"`
	Description string     `json:"description" validate:"max=2000"`
	GroupID     *uuid.UUID `json:"group_id"`
}

// UpdateCompanyRequest distinguishes "field absent" from "set to null" for
// the group: ClearGroup detaches, GroupID reassigns.
type UpdateCompanyRequest struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	GroupID     *uuid.UUID `json:"group_id"`
	ClearGroup  bool       `json:"clear_group"`
}

func (s *CompanyService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreateCompanyRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.GroupID != nil {
		if err := s.requireGroup(*req.GroupID); err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	company := models.Company{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
		CreatedBy:   &actor.ID,
		IsActive:    true,
	}
	err := s.db.QueryRow(`
		INSERT INTO companies (id, name, description, group_id, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, company.ID, company.Name, company.Description, nullUUID(company.GroupID), actor.ID).
		Scan(&company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		log.Printf("[COMPANY] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[COMPANY] Created %s (%s)", company.ID, company.Name)
	SendJSON(w, http.StatusCreated, company)
}

func (s *CompanyService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	query := `
		SELECT c.id, c.name, c.description, c.group_id, COALESCE(g.name, ''),
		       c.created_by, c.is_active, c.created_at, c.updated_at
		FROM companies c
		LEFT JOIN groups g ON g.id = c.group_id
	`
	args := []any{}
	where := []string{"c.is_active = TRUE"}

	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		where = append(where, placeholder(`EXISTS (
			SELECT 1 FROM accounts a
			JOIN account_permissions ap ON ap.account_id = a.id
			WHERE a.company_id = c.id AND ap.user_id = $%d AND ap.can_view = TRUE
		)`, len(args)))
	}
	if raw := r.URL.Query().Get("group_id"); raw != "" {
		groupID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
			return
		}
		args = append(args, groupID)
		where = append(where, placeholder("c.group_id = $%d", len(args)))
	}
	query += whereClause(where) + ` ORDER BY c.name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[COMPANY] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	companies := []models.Company{}
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		companies = append(companies, *company)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, companies)
}

func (s *CompanyService) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
		return
	}

	row := s.db.QueryRow(`
		SELECT c.id, c.name, c.description, c.group_id, COALESCE(g.name, ''),
		       c.created_by, c.is_active, c.created_at, c.updated_at
		FROM companies c
		LEFT JOIN groups g ON g.id = c.group_id
		WHERE c.id = $1 AND c.is_active = TRUE
	`, companyID)
	company, err := scanCompany(row)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("company"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	if !actor.IsSupervisor() {
		var visible bool
		err = s.db.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM accounts a
				JOIN account_permissions ap ON ap.account_id = a.id
				WHERE a.company_id = $1 AND ap.user_id = $2 AND ap.can_view = TRUE
			)
		`, companyID, actor.ID).Scan(&visible)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if !visible {
			WriteServiceError(w, notFound("company"))
			return
		}
	}

	SendJSON(w, http.StatusOK, company)
}

func (s *CompanyService) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateCompanyRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.GroupID != nil {
		if err := s.requireGroup(*req.GroupID); err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	query := `
		UPDATE companies
		SET name = COALESCE($1, name), description = COALESCE($2, description), updated_at = NOW()
	`
	args := []any{req.Name, req.Description}
	switch {
	case req.ClearGroup:
		query += `, group_id = NULL`
	case req.GroupID != nil:
		args = append(args, *req.GroupID)
		query += placeholder(`, group_id = $%d`, len(args))
	}
	args = append(args, companyID)
	query += placeholder(` WHERE id = $%d AND is_active = TRUE RETURNING id`, len(args))

	var returned uuid.UUID
	err = s.db.QueryRow(query, args...).Scan(&returned)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("company"))
		return
	}
	if err != nil {
		log.Printf("[COMPANY] Update %s failed: %v", companyID, err)
		WriteServiceError(w, err)
		return
	}

	row := s.db.QueryRow(`
		SELECT c.id, c.name, c.description, c.group_id, COALESCE(g.name, ''),
		       c.created_by, c.is_active, c.created_at, c.updated_at
		FROM companies c
		LEFT JOIN groups g ON g.id = c.group_id
		WHERE c.id = $1
	`, companyID)
	company, err := scanCompany(row)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, company)
}

// Deactivate soft-deletes a company. Accounts under it stay, but the
// account list filter hides inactive companies' accounts indirectly via
// their own flags.
func (s *CompanyService) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`UPDATE companies SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`, companyID)
	if err != nil {
		log.Printf("[COMPANY] Deactivate %s failed: %v", companyID, err)
		WriteServiceError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		WriteServiceError(w, notFound("company"))
		return
	}

	log.Printf("[COMPANY] Deactivated %s", companyID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *CompanyService) requireGroup(groupID uuid.UUID) error {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1 AND is_active = TRUE)`, groupID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return notFound("group")
	}
	return nil
}

func scanCompany(row rowScanner) (*models.Company, error) {
	var company models.Company
	var groupID, createdBy uuid.NullUUID
	err := row.Scan(&company.ID, &company.Name, &company.Description, &groupID, &company.GroupName,
		&createdBy, &company.IsActive, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		return nil, err
	}
	company.GroupID = uuidPtr(groupID)
	company.CreatedBy = uuidPtr(createdBy)
	return &company, nil
}
