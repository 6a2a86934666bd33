package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kirgkr-rg/finance-app/internal/middleware"
	"github.com/kirgkr-rg/finance-app/internal/models"
)

var (
	// Fixed ids with ascending byte order so the lock sequence in
	// lockAccountPair is predictable in expectations.
	accountA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	accountB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func supervisorActor() models.Actor {
	return models.Actor{ID: uuid.New(), Role: models.RoleSupervisor, IsActive: true}
}

func userActor() models.Actor {
	return models.Actor{ID: uuid.New(), Role: models.RoleUser, IsActive: true}
}

func authedRequest(t *testing.T, method, target string, body any, actor models.Actor) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	assert.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func accountRow(id uuid.UUID, accountType, balance, creditLimit string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "company_id", "name", "account_type", "currency", "balance", "credit_limit", "is_active"}).
		AddRow(id, uuid.New(), "Test Account", accountType, "EUR", balance, creditLimit, true)
}

const lockAccountQuery = `SELECT id, company_id, name, account_type, currency, balance, credit_limit, is_active FROM accounts WHERE id = \$1 FOR UPDATE`

func TestTransfer(t *testing.T) {
	t.Run("moves funds and records both snapshots", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "100", "0"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "0", "0"))
		mock.ExpectExec(`UPDATE accounts SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), accountA).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE accounts SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), accountB).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "30",
			"description":     "test transfer",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "transfer", response["transaction_type"])
		assert.Equal(t, "70", response["from_balance_after"])
		assert.Equal(t, "30", response["to_balance_after"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects when amount exceeds available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "50", "0"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "0", "0"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "80.50",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "insufficient available: 50.00 EUR", response.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit account taps its limit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		// Credit account: balance -200, limit 1000, available 800.
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCredit, "-200", "1000"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "0", "0"))
		mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountA).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountB).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "500",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "-700", response["from_balance_after"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects confirming destination", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "100", "0"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountConfirming, "0", "500"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "10",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects same account", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountA,
			"amount":          "10",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("forbidden without transfer permission", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		actor := userActor()
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT can_view, can_transfer FROM account_permissions`).
			WithArgs(actor.ID, accountA).
			WillReturnRows(sqlmock.NewRows([]string{"can_view", "can_transfer"}).AddRow(true, false))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "10",
		}, actor)
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects sub-cent amounts", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		req := authedRequest(t, "POST", "/transactions/transfer", map[string]any{
			"from_account_id": accountA,
			"to_account_id":   accountB,
			"amount":          "10.001",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Transfer(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("ignores credit limit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		// Balance 50, limit 1000. A transfer could move 1050 but a
		// withdrawal is capped at the stored balance.
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCredit, "50", "1000"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/withdrawal", map[string]any{
			"from_account_id": accountA,
			"amount":          "60",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.Withdraw(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "insufficient balance: 50.00 EUR", response.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires supervisor", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		req := authedRequest(t, "POST", "/transactions/withdrawal", map[string]any{
			"from_account_id": accountA,
			"amount":          "10",
		}, userActor())
		w := httptest.NewRecorder()

		service.Withdraw(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestDeposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewTransactionService(db)

	mock.ExpectBegin()
	mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
		WillReturnRows(accountRow(accountA, models.AccountCurrent, "10", "0"))
	mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountA).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	req := authedRequest(t, "POST", "/transactions/deposit", map[string]any{
		"to_account_id": accountA,
		"amount":        "90",
	}, supervisorActor())
	w := httptest.NewRecorder()

	service.Deposit(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var response map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "deposit", response["transaction_type"])
	assert.Equal(t, "100", response["to_balance_after"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmingSettlement(t *testing.T) {
	t.Run("collects from charge account and regenerates confirming balance", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		// Confirming: limit 1000, balance -400 (emitted 400). Charge: 500.
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountConfirming, "-400", "1000"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "500", "0"))
		mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountB).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountA).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "POST", "/transactions/confirming-settlement", map[string]any{
			"confirming_account_id": accountA,
			"charge_account_id":     accountB,
			"amount":                "150",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.ConfirmingSettlement(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "confirming_settlement", response["transaction_type"])
		assert.Equal(t, "350", response["from_balance_after"])
		assert.Equal(t, "-250", response["to_balance_after"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cannot settle more than emitted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountConfirming, "-400", "1000"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "500", "0"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/confirming-settlement", map[string]any{
			"confirming_account_id": accountA,
			"charge_account_id":     accountB,
			"amount":                "450",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.ConfirmingSettlement(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "insufficient emitted: 400.00 EUR", response.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("charge account must cover the amount", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountConfirming, "-400", "1000"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "100", "0"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/confirming-settlement", map[string]any{
			"confirming_account_id": accountA,
			"charge_account_id":     accountB,
			"amount":                "150",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.ConfirmingSettlement(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects wrong account types", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "100", "0"))
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountB).
			WillReturnRows(accountRow(accountB, models.AccountCurrent, "500", "0"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/transactions/confirming-settlement", map[string]any{
			"confirming_account_id": accountA,
			"charge_account_id":     accountB,
			"amount":                "50",
		}, supervisorActor())
		w := httptest.NewRecorder()

		service.ConfirmingSettlement(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdjustBalance(t *testing.T) {
	newRouter := func(service *TransactionService) http.Handler {
		r := chi.NewRouter()
		r.Post("/accounts/{accountID}/adjust-balance", service.AdjustBalance)
		return r
	}

	t.Run("emits a synthetic withdrawal down to the target", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "100", "0"))
		mock.ExpectExec(`UPDATE accounts SET balance`).WithArgs(sqlmock.AnyArg(), accountA).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		req := authedRequest(t, "POST", "/accounts/"+accountA.String()+"/adjust-balance", map[string]any{
			"target_balance": "40.50",
		}, supervisorActor())
		w := httptest.NewRecorder()

		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "withdrawal", response["transaction_type"])
		assert.Equal(t, "59.5", response["amount"])
		assert.Equal(t, "40.5", response["from_balance_after"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects zero delta", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).WithArgs(accountA).
			WillReturnRows(accountRow(accountA, models.AccountCurrent, "100", "0"))
		mock.ExpectRollback()

		req := authedRequest(t, "POST", "/accounts/"+accountA.String()+"/adjust-balance", map[string]any{
			"target_balance": "100",
		}, supervisorActor())
		w := httptest.NewRecorder()

		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("permission gates do not apply to roles", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewTransactionService(db)

		req := authedRequest(t, "POST", "/accounts/"+accountA.String()+"/adjust-balance", map[string]any{
			"target_balance": "40",
		}, userActor())
		w := httptest.NewRecorder()

		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestUpdateDateRequiresSupervisor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewTransactionService(db)

	r := chi.NewRouter()
	r.Patch("/transactions/{transactionID}/date", service.UpdateDate)

	req := authedRequest(t, "PATCH", "/transactions/"+uuid.New().String()+"/date", map[string]any{
		"transaction_date": "2026-01-15T00:00:00Z",
	}, userActor())
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
