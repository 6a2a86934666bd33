package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

func pendingEntryRouter(service *PendingEntryService) http.Handler {
	r := chi.NewRouter()
	r.Post("/pending-entries", service.Create)
	r.Post("/pending-entries/{entryID}/settle", service.Settle)
	r.Post("/pending-entries/{entryID}/unsettle", service.Unsettle)
	r.Delete("/pending-entries/{entryID}", service.Delete)
	return r
}

func pendingEntryRow(id uuid.UUID, status string, settledAt any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "from_group_id", "to_group_id", "amount", "description",
		"operation_id", "settled_in_operation_id", "status",
		"created_by", "created_at", "settled_at", "from_name", "to_name",
	}).AddRow(id, uuid.New(), uuid.New(), "150", "invoice", nil, nil, status,
		uuid.New(), time.Now(), settledAt, "Alpha Holding", "Beta Holding")
}

func TestPendingEntryCreate(t *testing.T) {
	t.Run("rejects identical debtor and creditor", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPendingEntryService(db)

		groupID := uuid.New()
		req := authedRequest(t, "POST", "/pending-entries", map[string]any{
			"from_group_id": groupID,
			"to_group_id":   groupID,
			"amount":        "100",
		}, supervisorActor())
		w := httptest.NewRecorder()

		pendingEntryRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing group", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPendingEntryService(db)

		fromGroup := uuid.New()
		toGroup := uuid.New()
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM groups`).
			WithArgs(fromGroup).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		req := authedRequest(t, "POST", "/pending-entries", map[string]any{
			"from_group_id": fromGroup,
			"to_group_id":   toGroup,
			"amount":        "100",
		}, supervisorActor())
		w := httptest.NewRecorder()

		pendingEntryRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPendingEntrySettle(t *testing.T) {
	entryID := uuid.New()

	t.Run("marks a pending entry settled", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPendingEntryService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM pending_entries WHERE id = \$1 FOR UPDATE`).
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.PendingEntryPending))
		mock.ExpectQuery(`UPDATE pending_entries`).
			WillReturnRows(pendingEntryRow(entryID, models.PendingEntrySettled, time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "POST", "/pending-entries/"+entryID.String()+"/settle", map[string]any{}, supervisorActor())
		w := httptest.NewRecorder()

		pendingEntryRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects settling twice", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPendingEntryService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM pending_entries WHERE id = \$1 FOR UPDATE`).
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.PendingEntrySettled))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/pending-entries/"+entryID.String()+"/settle", map[string]any{}, supervisorActor())
		w := httptest.NewRecorder()

		pendingEntryRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unsettling a pending entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewPendingEntryService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM pending_entries WHERE id = \$1 FOR UPDATE`).
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.PendingEntryPending))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/pending-entries/"+entryID.String()+"/unsettle", nil, supervisorActor())
		w := httptest.NewRecorder()

		pendingEntryRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPendingEntryDelete(t *testing.T) {
	entryID := uuid.New()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewPendingEntryService(db)

	mock.ExpectQuery(`SELECT status FROM pending_entries WHERE id = \$1`).
		WithArgs(entryID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.PendingEntrySettled))
	mock.ExpectExec(`DELETE FROM pending_entries WHERE id = \$1`).
		WithArgs(entryID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := authedRequest(t, "DELETE", "/pending-entries/"+entryID.String(), nil, supervisorActor())
	w := httptest.NewRecorder()

	pendingEntryRouter(service).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingEntryWritesRequireSupervisor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewPendingEntryService(db)

	entryID := uuid.New()
	cases := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"create", "POST", "/pending-entries", map[string]any{
			"from_group_id": uuid.New().String(),
			"to_group_id":   uuid.New().String(),
			"amount":        "100.00",
		}},
		{"settle", "POST", "/pending-entries/" + entryID.String() + "/settle", map[string]any{}},
		{"unsettle", "POST", "/pending-entries/" + entryID.String() + "/unsettle", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := authedRequest(t, tc.method, tc.target, tc.body, userActor())
			w := httptest.NewRecorder()

			pendingEntryRouter(service).ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
