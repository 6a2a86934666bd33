package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirgkr-rg/finance-app/internal/flows"
	"github.com/kirgkr-rg/finance-app/internal/models"
)

// PendingEntryService tracks inter-group debts that live outside account
// balances until settled.
type PendingEntryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPendingEntryService(db *sql.DB) *PendingEntryService {
	return &PendingEntryService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreatePendingEntryRequest struct {
	FromGroupID uuid.UUID       `json:"from_group_id" validate:"required"`
	ToGroupID   uuid.UUID       `json:"to_group_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
	OperationID *uuid.UUID      `json:"operation_id"`
}

type SettlePendingEntryRequest struct {
	OperationID *uuid.UUID `json:"operation_id"`
}

// Create records a debt from one group to another.
func (s *PendingEntryService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreatePendingEntryRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := ValidateAmount(req.Amount); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if req.FromGroupID == req.ToGroupID {
		WriteServiceError(w, ErrSameGroup)
		return
	}

	for _, groupID := range []uuid.UUID{req.FromGroupID, req.ToGroupID} {
		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1 AND is_active = TRUE)`, groupID).Scan(&exists)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if !exists {
			WriteServiceError(w, notFound("group"))
			return
		}
	}
	if req.OperationID != nil {
		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM operations WHERE id = $1)`, *req.OperationID).Scan(&exists)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if !exists {
			WriteServiceError(w, notFound("operation"))
			return
		}
	}

	entry := models.PendingEntry{
		ID:          uuid.New(),
		FromGroupID: req.FromGroupID,
		ToGroupID:   req.ToGroupID,
		Amount:      req.Amount,
		Description: req.Description,
		OperationID: req.OperationID,
		Status:      models.PendingEntryPending,
		CreatedBy:   &actor.ID,
	}
	err := s.db.QueryRow(`
		INSERT INTO pending_entries (id, from_group_id, to_group_id, amount, description, operation_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, entry.ID, entry.FromGroupID, entry.ToGroupID, entry.Amount, entry.Description,
		nullUUID(entry.OperationID), entry.Status, actor.ID).Scan(&entry.CreatedAt)
	if err != nil {
		log.Printf("[PENDING] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[PENDING] Created %s: group %s owes group %s amount %s",
		entry.ID, entry.FromGroupID, entry.ToGroupID, entry.Amount)
	SendJSON(w, http.StatusCreated, entry)
}

// List returns entries, optionally filtered by status or group.
func (s *PendingEntryService) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	query := `
		SELECT p.id, p.from_group_id, p.to_group_id, p.amount, p.description,
		       p.operation_id, p.settled_in_operation_id, p.status,
		       p.created_by, p.created_at, p.settled_at,
		       fg.name, tg.name
		FROM pending_entries p
		JOIN groups fg ON fg.id = p.from_group_id
		JOIN groups tg ON tg.id = p.to_group_id
	`
	args := []any{}
	where := []string{}
	if status := r.URL.Query().Get("status"); status != "" {
		if status != models.PendingEntryPending && status != models.PendingEntrySettled {
			SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
			return
		}
		args = append(args, status)
		where = append(where, placeholder("p.status = $%d", len(args)))
	}
	if raw := r.URL.Query().Get("group_id"); raw != "" {
		groupID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
			return
		}
		args = append(args, groupID)
		where = append(where, placeholderPair("(p.from_group_id = $%d OR p.to_group_id = $%d)", len(args)))
	}
	query += whereClause(where) + ` ORDER BY p.created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[PENDING] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	entries := []models.PendingEntry{}
	for rows.Next() {
		entry, err := scanPendingEntry(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, entries)
}

// Settle marks an entry as paid, optionally recording the operation that
// settled it.
func (s *PendingEntryService) Settle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	var req SettlePendingEntryRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	entry, err := s.settle(entryID, req.OperationID)
	if err != nil {
		log.Printf("[PENDING] Settle %s failed: %v", entryID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[PENDING] Settled %s", entryID)
	SendJSON(w, http.StatusOK, entry)
}

func (s *PendingEntryService) settle(entryID uuid.UUID, operationID *uuid.UUID) (*models.PendingEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM pending_entries WHERE id = $1 FOR UPDATE`, entryID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, notFound("pending entry")
	}
	if err != nil {
		return nil, err
	}
	if status == models.PendingEntrySettled {
		return nil, ErrAlreadySettled
	}

	if operationID != nil {
		var exists bool
		err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM operations WHERE id = $1)`, *operationID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, notFound("operation")
		}
	}

	row := tx.QueryRow(`
		UPDATE pending_entries
		SET status = $1, settled_at = NOW(), settled_in_operation_id = $2
		WHERE id = $3
		RETURNING id, from_group_id, to_group_id, amount, description,
		          operation_id, settled_in_operation_id, status,
		          created_by, created_at, settled_at,
		          (SELECT name FROM groups WHERE id = from_group_id),
		          (SELECT name FROM groups WHERE id = to_group_id)
	`, models.PendingEntrySettled, nullUUID(operationID), entryID)

	entry, err := scanPendingEntry(row)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit()
}

// Unsettle reverts a settled entry to pending.
func (s *PendingEntryService) Unsettle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	entry, err := s.unsettle(entryID)
	if err != nil {
		log.Printf("[PENDING] Unsettle %s failed: %v", entryID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[PENDING] Unsettled %s", entryID)
	SendJSON(w, http.StatusOK, entry)
}

func (s *PendingEntryService) unsettle(entryID uuid.UUID) (*models.PendingEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM pending_entries WHERE id = $1 FOR UPDATE`, entryID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, notFound("pending entry")
	}
	if err != nil {
		return nil, err
	}
	if status != models.PendingEntrySettled {
		return nil, ErrNotSettled
	}

	row := tx.QueryRow(`
		UPDATE pending_entries
		SET status = $1, settled_at = NULL, settled_in_operation_id = NULL
		WHERE id = $2
		RETURNING id, from_group_id, to_group_id, amount, description,
		          operation_id, settled_in_operation_id, status,
		          created_by, created_at, settled_at,
		          (SELECT name FROM groups WHERE id = from_group_id),
		          (SELECT name FROM groups WHERE id = to_group_id)
	`, models.PendingEntryPending, entryID)

	entry, err := scanPendingEntry(row)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit()
}

// Delete removes an entry outright. Settled entries are deleted too; the
// warning keeps a trace of vanished history in the logs.
func (s *PendingEntryService) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	var status string
	err = s.db.QueryRow(`SELECT status FROM pending_entries WHERE id = $1`, entryID).Scan(&status)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("pending entry"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if status == models.PendingEntrySettled {
		log.Printf("[PENDING] Deleting settled entry %s", entryID)
	}

	if _, err := s.db.Exec(`DELETE FROM pending_entries WHERE id = $1`, entryID); err != nil {
		log.Printf("[PENDING] Delete %s failed: %v", entryID, err)
		WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Summary returns the per-group owes/owed/net roll-up over currently
// pending entries.
func (s *PendingEntryService) Summary(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	rows, err := s.db.Query(`
		SELECT p.id, p.from_group_id, fg.name, p.to_group_id, tg.name,
		       p.amount, p.description, p.status, p.created_at
		FROM pending_entries p
		JOIN groups fg ON fg.id = p.from_group_id
		JOIN groups tg ON tg.id = p.to_group_id
		WHERE p.status = 'pending'
		ORDER BY p.created_at
	`)
	if err != nil {
		log.Printf("[PENDING] Summary failed: %v", err)
		WriteServiceError(w, err)
		return
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
			WriteServiceError(w, err)
			return
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, flows.PendingSummary(records))
}

func scanPendingEntry(row rowScanner) (*models.PendingEntry, error) {
	var entry models.PendingEntry
	var operationID, settledIn, createdBy uuid.NullUUID
	var settledAt sql.NullTime
	err := row.Scan(
		&entry.ID, &entry.FromGroupID, &entry.ToGroupID, &entry.Amount, &entry.Description,
		&operationID, &settledIn, &entry.Status,
		&createdBy, &entry.CreatedAt, &settledAt,
		&entry.FromGroupName, &entry.ToGroupName,
	)
	if err != nil {
		return nil, err
	}
	entry.OperationID = uuidPtr(operationID)
	entry.SettledInOperationID = uuidPtr(settledIn)
	entry.CreatedBy = uuidPtr(createdBy)
	if settledAt.Valid {
		t := settledAt.Time
		entry.SettledAt = &t
	}
	return &entry, nil
}
