package services

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

// AttachmentService binds uploaded documents (invoices, receipts) to
// transactions. Access follows the view permission of the transaction's
// accounts.
type AttachmentService struct {
	db *sql.DB
}

const maxAttachmentSize = 10 << 20 // 10 MB

func NewAttachmentService(db *sql.DB) *AttachmentService {
	return &AttachmentService{db: db}
}

// Upload stores a multipart file against a transaction.
func (s *AttachmentService) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireMutator(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.loadTransactionRefs(transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := requireTransactionAccess(s.db, actor, transaction, false); err != nil {
		WriteServiceError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize)
	if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
		SendErrorResponse(w, "File too large or malformed form", http.StatusBadRequest, nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		SendErrorResponse(w, "Missing file field", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("[ATTACHMENT] Read failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment := models.Attachment{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Filename:      header.Filename,
		ContentType:   contentType,
		FileSize:      int64(len(data)),
		UploadedBy:    &actor.ID,
	}
	err = s.db.QueryRow(`
		INSERT INTO attachments (id, transaction_id, filename, content_type, file_data, file_size, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, attachment.ID, attachment.TransactionID, attachment.Filename, attachment.ContentType,
		data, attachment.FileSize, actor.ID).Scan(&attachment.CreatedAt)
	if err != nil {
		log.Printf("[ATTACHMENT] Upload for transaction %s failed: %v", transactionID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ATTACHMENT] Uploaded %s (%s, %d bytes) to transaction %s",
		attachment.ID, attachment.Filename, attachment.FileSize, transactionID)
	SendJSON(w, http.StatusCreated, attachment)
}

// List returns attachment metadata for a transaction, never the blobs.
func (s *AttachmentService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.loadTransactionRefs(transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := requireTransactionAccess(s.db, actor, transaction, false); err != nil {
		WriteServiceError(w, err)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, transaction_id, filename, content_type, file_size, uploaded_by, created_at
		FROM attachments WHERE transaction_id = $1 ORDER BY created_at
	`, transactionID)
	if err != nil {
		log.Printf("[ATTACHMENT] List for transaction %s failed: %v", transactionID, err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		var attachment models.Attachment
		var uploadedBy uuid.NullUUID
		err := rows.Scan(&attachment.ID, &attachment.TransactionID, &attachment.Filename,
			&attachment.ContentType, &attachment.FileSize, &uploadedBy, &attachment.CreatedAt)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		attachment.UploadedBy = uuidPtr(uploadedBy)
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, attachments)
}

// Download streams one attachment's content.
func (s *AttachmentService) Download(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	attachmentID, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		SendErrorResponse(w, "Invalid attachment id", http.StatusBadRequest, nil)
		return
	}

	var transactionID uuid.UUID
	var filename, contentType string
	var data []byte
	err = s.db.QueryRow(`
		SELECT transaction_id, filename, content_type, file_data
		FROM attachments WHERE id = $1
	`, attachmentID).Scan(&transactionID, &filename, &contentType, &data)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("attachment"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	transaction, err := s.loadTransactionRefs(transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := requireTransactionAccess(s.db, actor, transaction, false); err != nil {
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// Delete removes an attachment.
func (s *AttachmentService) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireMutator(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	attachmentID, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		SendErrorResponse(w, "Invalid attachment id", http.StatusBadRequest, nil)
		return
	}

	var transactionID uuid.UUID
	err = s.db.QueryRow(`SELECT transaction_id FROM attachments WHERE id = $1`, attachmentID).Scan(&transactionID)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("attachment"))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	transaction, err := s.loadTransactionRefs(transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := requireTransactionAccess(s.db, actor, transaction, true); err != nil {
		WriteServiceError(w, err)
		return
	}

	if _, err := s.db.Exec(`DELETE FROM attachments WHERE id = $1`, attachmentID); err != nil {
		log.Printf("[ATTACHMENT] Delete %s failed: %v", attachmentID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ATTACHMENT] Deleted %s", attachmentID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AttachmentService) loadTransactionRefs(transactionID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	var fromID, toID uuid.NullUUID
	err := s.db.QueryRow(`
		SELECT id, from_account_id, to_account_id FROM transactions WHERE id = $1
	`, transactionID).Scan(&t.ID, &fromID, &toID)
	if err == sql.ErrNoRows {
		return nil, notFound("transaction")
	}
	if err != nil {
		return nil, err
	}
	t.FromAccountID = uuidPtr(fromID)
	t.ToAccountID = uuidPtr(toID)
	return &t, nil
}
