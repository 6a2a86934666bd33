package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/kirgkr-rg/finance-app/internal/flows"
	"github.com/kirgkr-rg/finance-app/internal/models"
)

// OperationService manages operation containers and serves the read-side
// aggregations built from their transactions.
type OperationService struct {
	db        *sql.DB
	cache     *redis.Client
	validator *ValidationHelper
}

const dashboardCacheTTL = 60 * time.Second

func NewOperationService(db *sql.DB, cache *redis.Client) *OperationService {
	return &OperationService{
		db:        db,
		cache:     cache,
		validator: NewValidationHelper(),
	}
}

type CreateOperationRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Notes       string `json:"notes" validate:"max=2000"`
}

type UpdateOperationRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

type UpdateOperationStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Create opens a new operation.
func (s *OperationService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreateOperationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	operation := models.Operation{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Notes:       req.Notes,
		Status:      models.OperationOpen,
		CreatedBy:   &actor.ID,
	}
	err := s.db.QueryRow(`
		INSERT INTO operations (id, name, description, notes, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, operation.ID, operation.Name, operation.Description, operation.Notes, operation.Status, actor.ID).
		Scan(&operation.CreatedAt, &operation.UpdatedAt)
	if err != nil {
		log.Printf("[OPERATION] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[OPERATION] Created %s (%s)", operation.ID, operation.Name)
	SendJSON(w, http.StatusCreated, operation)
}

// List returns operations, optionally filtered by status, newest first.
func (s *OperationService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	query := `
		SELECT id, name, description, notes, status, created_by, created_at, updated_at, closed_at
		FROM operations
	`
	args := []any{}
	where := []string{}

	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		where = append(where, placeholder(`EXISTS (
			SELECT 1 FROM transactions t
			JOIN account_permissions ap ON ap.user_id = $%d AND ap.can_view = TRUE
			  AND (ap.account_id = t.from_account_id OR ap.account_id = t.to_account_id)
			WHERE t.operation_id = operations.id
		)`, len(args)))
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !models.ValidOperationStatus(status) {
			SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
			return
		}
		args = append(args, status)
		where = append(where, placeholder("status = $%d", len(args)))
	}
	query += whereClause(where) + ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[OPERATION] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	operations := []models.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		operations = append(operations, *op)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, operations)
}

type operationDetail struct {
	models.Operation
	Transactions []models.Transaction `json:"transactions"`
}

// Get returns one operation with its transactions. Non-supervisors only see
// the transactions touching their permitted accounts.
func (s *OperationService) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
		return
	}

	operation, err := s.load(operationID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	query := `
		SELECT t.id, t.from_account_id, t.to_account_id, t.amount, t.description,
		       t.transaction_type, t.status, t.operation_id,
		       t.from_balance_after, t.to_balance_after,
		       t.transaction_date, t.created_by, t.created_at,
		       COALESCE(fa.name, ''), COALESCE(ta.name, ''),
		       COALESCE(fc.name, ''), COALESCE(tc.name, '')
		FROM transactions t
		LEFT JOIN accounts fa ON fa.id = t.from_account_id
		LEFT JOIN accounts ta ON ta.id = t.to_account_id
		LEFT JOIN companies fc ON fc.id = fa.company_id
		LEFT JOIN companies tc ON tc.id = ta.company_id
		WHERE t.operation_id = $1
	`
	args := []any{operationID}
	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		query += placeholder(` AND EXISTS (
			SELECT 1 FROM account_permissions ap
			WHERE ap.user_id = $%d AND ap.can_view = TRUE
			  AND (ap.account_id = t.from_account_id OR ap.account_id = t.to_account_id)
		)`, len(args))
	}
	query += ` ORDER BY t.transaction_date DESC, t.created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[OPERATION] Loading transactions failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, operationDetail{Operation: *operation, Transactions: transactions})
}

// Update patches the descriptive fields. Status changes go through
// UpdateStatus only.
func (s *OperationService) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateOperationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	row := s.db.QueryRow(`
		UPDATE operations
		SET name = COALESCE($1, name),
		    description = COALESCE($2, description),
		    notes = COALESCE($3, notes),
		    updated_at = NOW()
		WHERE id = $4
		RETURNING id, name, description, notes, status, created_by, created_at, updated_at, closed_at
	`, req.Name, req.Description, req.Notes, operationID)

	operation, err := scanOperation(row)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("operation"))
		return
	}
	if err != nil {
		log.Printf("[OPERATION] Update %s failed: %v", operationID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, operation)
}

// UpdateStatus drives the lifecycle. Open operations close to completed or
// cancelled; closed operations reopen. Cancelling detaches every attached
// transaction in the same database transaction as the status flip.
func (s *OperationService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateOperationStatusRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if !models.ValidOperationStatus(req.Status) {
		SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
		return
	}

	operation, err := s.transition(operationID, req.Status)
	if err != nil {
		log.Printf("[OPERATION] Transition of %s to %s failed: %v", operationID, req.Status, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[OPERATION] %s transitioned to %s", operationID, req.Status)
	SendJSON(w, http.StatusOK, operation)
}

func (s *OperationService) transition(operationID uuid.UUID, target string) (*models.Operation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM operations WHERE id = $1 FOR UPDATE`, operationID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, notFound("operation")
	}
	if err != nil {
		return nil, err
	}

	// Allowed: open -> completed/cancelled, completed/cancelled -> open.
	// completed <-> cancelled requires passing through open.
	switch {
	case current == models.OperationOpen && target != models.OperationOpen:
	case current != models.OperationOpen && target == models.OperationOpen:
	default:
		return nil, ErrInvalidTransition
	}

	if target == models.OperationCancelled {
		result, err := tx.Exec(`UPDATE transactions SET operation_id = NULL WHERE operation_id = $1`, operationID)
		if err != nil {
			return nil, err
		}
		detached, _ := result.RowsAffected()
		if detached > 0 {
			log.Printf("[OPERATION] Cancelling %s detached %d transactions", operationID, detached)
		}
	}

	var closedAt any
	if target == models.OperationOpen {
		closedAt = nil
	} else {
		closedAt = time.Now()
	}

	row := tx.QueryRow(`
		UPDATE operations SET status = $1, closed_at = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, name, description, notes, status, created_by, created_at, updated_at, closed_at
	`, target, closedAt, operationID)

	operation, err := scanOperation(row)
	if err != nil {
		return nil, err
	}

	return operation, tx.Commit()
}

// Delete removes an operation. Blocked while any transaction still
// references it, so the audit trail cannot be orphaned silently.
func (s *OperationService) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer tx.Rollback()

	var attached int
	err = tx.QueryRow(`SELECT COUNT(*) FROM transactions WHERE operation_id = $1`, operationID).Scan(&attached)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if attached > 0 {
		WriteServiceError(w, ErrOperationInUse)
		return
	}

	result, err := tx.Exec(`DELETE FROM operations WHERE id = $1`, operationID)
	if err != nil {
		log.Printf("[OPERATION] Delete %s failed: %v", operationID, err)
		WriteServiceError(w, err)
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		WriteServiceError(w, notFound("operation"))
		return
	}
	if err := tx.Commit(); err != nil {
		WriteServiceError(w, err)
		return
	}

	log.Printf("[OPERATION] Deleted %s", operationID)
	w.WriteHeader(http.StatusNoContent)
}

// Flow returns the company and group flow graph of one operation, merged
// with pending entries created or settled in it.
func (s *OperationService) Flow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.load(operationID); err != nil {
		WriteServiceError(w, err)
		return
	}

	transfers, err := s.transferRecords(actor, &operationID)
	if err != nil {
		log.Printf("[OPERATION] Flow transfers for %s failed: %v", operationID, err)
		WriteServiceError(w, err)
		return
	}
	pending, err := s.pendingRecords(&operationID, false)
	if err != nil {
		log.Printf("[OPERATION] Flow pending entries for %s failed: %v", operationID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, flows.BuildOperationFlow(transfers, pending))
}

// GroupsBalance returns the cross-operation net balance per group over all
// transfers plus currently pending entries.
func (s *OperationService) GroupsBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	transfers, err := s.transferRecords(actor, nil)
	if err != nil {
		log.Printf("[OPERATION] Groups balance transfers failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	pending, err := s.pendingRecords(nil, true)
	if err != nil {
		log.Printf("[OPERATION] Groups balance pending entries failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, flows.GroupsBalance(transfers, pending))
}

// DashboardSummary is the cached aggregate served to the landing view.
type DashboardSummary struct {
	GroupsBalance  []flows.GroupBalance        `json:"groups_balance"`
	PendingSummary []flows.GroupPendingSummary `json:"pending_summary"`
	Totals         DashboardTotals             `json:"totals"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

type DashboardTotals struct {
	Accounts       int `json:"accounts"`
	Companies      int `json:"companies"`
	OpenOperations int `json:"open_operations"`
	PendingEntries int `json:"pending_entries"`
}

// Dashboard serves the aggregate summary, cached per actor because visible
// totals depend on the actor's permissions.
func (s *OperationService) Dashboard(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("dashboard:%s:%s", actor.ID, actor.Role)
	if s.cache != nil {
		if cached, err := s.cache.Get(r.Context(), cacheKey).Result(); err == nil {
			var summary DashboardSummary
			if json.Unmarshal([]byte(cached), &summary) == nil {
				SendJSON(w, http.StatusOK, summary)
				return
			}
		}
	}

	summary, err := s.buildDashboard(actor)
	if err != nil {
		log.Printf("[OPERATION] Dashboard build failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	if s.cache != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(r.Context(), cacheKey, payload, dashboardCacheTTL).Err(); err != nil {
				log.Printf("[OPERATION] Dashboard cache write failed: %v", err)
			}
		}
	}

	SendJSON(w, http.StatusOK, summary)
}

func (s *OperationService) buildDashboard(actor models.Actor) (*DashboardSummary, error) {
	transfers, err := s.transferRecords(actor, nil)
	if err != nil {
		return nil, err
	}
	pending, err := s.pendingRecords(nil, true)
	if err != nil {
		return nil, err
	}

	var totals DashboardTotals
	err = s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM accounts WHERE is_active = TRUE),
			(SELECT COUNT(*) FROM companies WHERE is_active = TRUE),
			(SELECT COUNT(*) FROM operations WHERE status = 'open'),
			(SELECT COUNT(*) FROM pending_entries WHERE status = 'pending')
	`).Scan(&totals.Accounts, &totals.Companies, &totals.OpenOperations, &totals.PendingEntries)
	if err != nil {
		return nil, err
	}

	return &DashboardSummary{
		GroupsBalance:  flows.GroupsBalance(transfers, pending),
		PendingSummary: flows.PendingSummary(pending),
		Totals:         totals,
		GeneratedAt:    time.Now(),
	}, nil
}

// transferRecords loads transfer transactions with company and group
// resolution, scoped to one operation when operationID is set. Non-
// supervisors only see transfers touching an account they can view.
func (s *OperationService) transferRecords(actor models.Actor, operationID *uuid.UUID) ([]flows.TransferRecord, error) {
	query := `
		SELECT t.id, t.amount, t.created_at,
		       fc.id, fc.name, fc.group_id, COALESCE(fg.name, ''),
		       tc.id, tc.name, tc.group_id, COALESCE(tg.name, '')
		FROM transactions t
		JOIN accounts fa ON fa.id = t.from_account_id
		JOIN accounts ta ON ta.id = t.to_account_id
		JOIN companies fc ON fc.id = fa.company_id
		JOIN companies tc ON tc.id = ta.company_id
		LEFT JOIN groups fg ON fg.id = fc.group_id
		LEFT JOIN groups tg ON tg.id = tc.group_id
		WHERE t.transaction_type = 'transfer'
	`
	args := []any{}
	if operationID != nil {
		args = append(args, *operationID)
		query += placeholder(" AND t.operation_id = $%d", len(args))
	}
	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		query += placeholder(` AND EXISTS (
			SELECT 1 FROM account_permissions ap
			WHERE ap.user_id = $%d AND ap.can_view = TRUE
			  AND (ap.account_id = t.from_account_id OR ap.account_id = t.to_account_id)
		)`, len(args))
	}
	query += ` ORDER BY t.created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []flows.TransferRecord{}
	for rows.Next() {
		var rec flows.TransferRecord
		var fromGroup, toGroup uuid.NullUUID
		err := rows.Scan(
			&rec.TransactionID, &rec.Amount, &rec.CreatedAt,
			&rec.FromCompanyID, &rec.FromCompanyName, &fromGroup, &rec.FromGroupName,
			&rec.ToCompanyID, &rec.ToCompanyName, &toGroup, &rec.ToGroupName,
		)
		if err != nil {
			return nil, err
		}
		rec.FromGroupID = uuidPtr(fromGroup)
		rec.ToGroupID = uuidPtr(toGroup)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// pendingRecords loads pending entries with group names resolved. With an
// operationID, entries created in or settled in that operation qualify;
// with onlyPending, settled entries are excluded.
func (s *OperationService) pendingRecords(operationID *uuid.UUID, onlyPending bool) ([]flows.PendingRecord, error) {
	query := `
		SELECT p.id, p.from_group_id, fg.name, p.to_group_id, tg.name,
		       p.amount, p.description, p.status, p.created_at
		FROM pending_entries p
		JOIN groups fg ON fg.id = p.from_group_id
		JOIN groups tg ON tg.id = p.to_group_id
	`
	args := []any{}
	where := []string{}
	if operationID != nil {
		args = append(args, *operationID)
		where = append(where, placeholderPair("(p.operation_id = $%d OR p.settled_in_operation_id = $%d)", len(args)))
	}
	if onlyPending {
		where = append(where, "p.status = 'pending'")
	}
	query += whereClause(where) + ` ORDER BY p.created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []flows.PendingRecord{}
	for rows.Next() {
		var rec flows.PendingRecord
		err := rows.Scan(
			&rec.EntryID, &rec.FromGroupID, &rec.FromGroupName, &rec.ToGroupID, &rec.ToGroupName,
			&rec.Amount, &rec.Description, &rec.Status, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *OperationService) load(operationID uuid.UUID) (*models.Operation, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, notes, status, created_by, created_at, updated_at, closed_at
		FROM operations WHERE id = $1
	`, operationID)
	operation, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, notFound("operation")
	}
	return operation, err
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var op models.Operation
	var createdBy uuid.NullUUID
	var closedAt sql.NullTime
	err := row.Scan(&op.ID, &op.Name, &op.Description, &op.Notes, &op.Status,
		&createdBy, &op.CreatedAt, &op.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	op.CreatedBy = uuidPtr(createdBy)
	if closedAt.Valid {
		t := closedAt.Time
		op.ClosedAt = &t
	}
	return &op, nil
}
