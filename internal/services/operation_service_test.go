package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

func operationRow(id uuid.UUID, status string, closedAt any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "description", "notes", "status", "created_by", "created_at", "updated_at", "closed_at"}).
		AddRow(id, "Deal 42", "", "", status, uuid.New(), time.Now(), time.Now(), closedAt)
}

func operationRouter(service *OperationService) http.Handler {
	r := chi.NewRouter()
	r.Patch("/operations/{operationID}/status", service.UpdateStatus)
	r.Delete("/operations/{operationID}", service.Delete)
	r.Get("/operations/{operationID}/flow", service.Flow)
	r.Get("/dashboard", service.Dashboard)
	return r
}

func TestOperationTransitions(t *testing.T) {
	operationID := uuid.New()

	t.Run("cancelling detaches attached transactions", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM operations WHERE id = \$1 FOR UPDATE`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OperationOpen))
		mock.ExpectExec(`UPDATE transactions SET operation_id = NULL WHERE operation_id = \$1`).
			WithArgs(operationID).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery(`UPDATE operations SET status = \$1, closed_at = \$2`).
			WithArgs(models.OperationCancelled, sqlmock.AnyArg(), operationID).
			WillReturnRows(operationRow(operationID, models.OperationCancelled, time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "PATCH", "/operations/"+operationID.String()+"/status", map[string]any{
			"status": "cancelled",
		}, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "cancelled", response["status"])
		assert.NotNil(t, response["closed_at"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completing does not touch transactions", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM operations WHERE id = \$1 FOR UPDATE`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OperationOpen))
		mock.ExpectQuery(`UPDATE operations SET status = \$1, closed_at = \$2`).
			WithArgs(models.OperationCompleted, sqlmock.AnyArg(), operationID).
			WillReturnRows(operationRow(operationID, models.OperationCompleted, time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "PATCH", "/operations/"+operationID.String()+"/status", map[string]any{
			"status": "completed",
		}, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reopening clears closed_at", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM operations WHERE id = \$1 FOR UPDATE`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OperationCompleted))
		mock.ExpectQuery(`UPDATE operations SET status = \$1, closed_at = \$2`).
			WithArgs(models.OperationOpen, nil, operationID).
			WillReturnRows(operationRow(operationID, models.OperationOpen, nil))
		mock.ExpectCommit()

		req := authedRequest(t, "PATCH", "/operations/"+operationID.String()+"/status", map[string]any{
			"status": "open",
		}, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Nil(t, response["closed_at"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed to cancelled is not a direct transition", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM operations WHERE id = \$1 FOR UPDATE`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.OperationCompleted))
		mock.ExpectRollback()

		req := authedRequest(t, "PATCH", "/operations/"+operationID.String()+"/status", map[string]any{
			"status": "cancelled",
		}, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOperationDelete(t *testing.T) {
	operationID := uuid.New()

	t.Run("blocked while transactions reference it", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE operation_id = \$1`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		req := authedRequest(t, "DELETE", "/operations/"+operationID.String(), nil, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removes an unreferenced operation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewOperationService(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE operation_id = \$1`).
			WithArgs(operationID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM operations WHERE id = \$1`).
			WithArgs(operationID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := authedRequest(t, "DELETE", "/operations/"+operationID.String(), nil, supervisorActor())
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDashboardCache(t *testing.T) {
	t.Run("serves the cached summary without hitting the database", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewOperationService(db, redisClient)

		actor := supervisorActor()
		cached, err := json.Marshal(DashboardSummary{GeneratedAt: time.Now()})
		assert.NoError(t, err)
		redisMock.ExpectGet("dashboard:" + actor.ID.String() + ":supervisor").SetVal(string(cached))

		req := authedRequest(t, "GET", "/dashboard", nil, actor)
		w := httptest.NewRecorder()

		operationRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestTransferRecordsPermissionScope(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewOperationService(db, nil)

	actor := userActor()
	mock.ExpectQuery(`WHERE t\.transaction_type = 'transfer' AND EXISTS \( SELECT 1 FROM account_permissions ap WHERE ap\.user_id = \$1 AND ap\.can_view = TRUE AND \(ap\.account_id = t\.from_account_id OR ap\.account_id = t\.to_account_id\) \) ORDER BY t\.created_at`).
		WithArgs(actor.ID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "amount", "created_at",
			"from_company_id", "from_company_name", "from_group_id", "from_group_name",
			"to_company_id", "to_company_name", "to_group_id", "to_group_name",
		}))

	records, err := service.transferRecords(actor, nil)
	assert.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationStatusRequiresSupervisor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewOperationService(db, nil)

	req := authedRequest(t, "PATCH", "/operations/"+uuid.New().String()+"/status", map[string]any{
		"status": "cancelled",
	}, userActor())
	w := httptest.NewRecorder()

	operationRouter(service).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
