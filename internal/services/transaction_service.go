package services

import (
	"bytes"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

// TransactionService is the ledger engine. Every balance mutation runs in a
// single database transaction with the touched account rows locked
// (SELECT ... FOR UPDATE), so concurrent movements against the same account
// serialize instead of losing updates.
type TransactionService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type TransferRequest struct {
	FromAccountID   uuid.UUID       `json:"from_account_id" validate:"required"`
	ToAccountID     uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	OperationID     *uuid.UUID      `json:"operation_id"`
	TransactionDate *time.Time      `json:"transaction_date"`
}

type DepositRequest struct {
	ToAccountID     uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
}

type WithdrawalRequest struct {
	FromAccountID   uuid.UUID       `json:"from_account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
}

type ConfirmingSettlementRequest struct {
	ConfirmingAccountID uuid.UUID       `json:"confirming_account_id" validate:"required"`
	ChargeAccountID     uuid.UUID       `json:"charge_account_id" validate:"required"`
	Amount              decimal.Decimal `json:"amount" validate:"required"`
	Description         string          `json:"description" validate:"max=500"`
	TransactionDate     *time.Time      `json:"transaction_date"`
}

type AdjustBalanceRequest struct {
	TargetBalance decimal.Decimal `json:"target_balance"`
	Description   string          `json:"description" validate:"max=500"`
}

type AssignOperationRequest struct {
	OperationID *uuid.UUID `json:"operation_id"`
}

type UpdateTransactionDateRequest struct {
	TransactionDate time.Time `json:"transaction_date" validate:"required"`
}

// lockAccount loads an account row under FOR UPDATE so its balance cannot
// change until the surrounding transaction commits. Inactive accounts are
// treated as missing.
func lockAccount(tx *sql.Tx, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, company_id, name, account_type, currency, balance, credit_limit, is_active
		FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(
		&account.ID, &account.CompanyID, &account.Name, &account.Type,
		&account.Currency, &account.Balance, &account.CreditLimit, &account.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, notFound("account")
	}
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, notFound("account")
	}
	return &account, nil
}

// lockAccountPair locks two accounts in ascending id order. Taking locks in
// a fixed order prevents deadlock between two transfers moving money in
// opposite directions.
func lockAccountPair(tx *sql.Tx, a, b uuid.UUID) (*models.Account, *models.Account, error) {
	first, second := a, b
	if bytes.Compare(b[:], a[:]) < 0 {
		first, second = b, a
	}

	firstAcc, err := lockAccount(tx, first)
	if err != nil {
		return nil, nil, err
	}
	secondAcc, err := lockAccount(tx, second)
	if err != nil {
		return nil, nil, err
	}

	if firstAcc.ID == a {
		return firstAcc, secondAcc, nil
	}
	return secondAcc, firstAcc, nil
}

// requireOpenOperation verifies the operation exists and still accepts
// attachments.
func requireOpenOperation(tx *sql.Tx, operationID uuid.UUID) error {
	var status string
	err := tx.QueryRow(`SELECT status FROM operations WHERE id = $1`, operationID).Scan(&status)
	if err == sql.ErrNoRows {
		return notFound("operation")
	}
	if err != nil {
		return err
	}
	if status != models.OperationOpen {
		return ErrOperationNotOpen
	}
	return nil
}

func updateBalance(tx *sql.Tx, accountID uuid.UUID, balance decimal.Decimal) error {
	_, err := tx.Exec(`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, balance, accountID)
	return err
}

func insertTransaction(tx *sql.Tx, t *models.Transaction) error {
	return tx.QueryRow(`
		INSERT INTO transactions
			(id, from_account_id, to_account_id, amount, description, transaction_type, status,
			 operation_id, from_balance_after, to_balance_after, transaction_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`,
		t.ID, nullUUID(t.FromAccountID), nullUUID(t.ToAccountID), t.Amount, t.Description,
		t.Type, t.Status, nullUUID(t.OperationID),
		nullDecimal(t.FromBalanceAfter), nullDecimal(t.ToBalanceAfter),
		t.TransactionDate, nullUUID(t.CreatedBy),
	).Scan(&t.CreatedAt)
}

func txDate(given *time.Time) time.Time {
	if given != nil {
		return *given
	}
	return time.Now()
}

// requireMutator rejects demo users, which are read-only across the API.
func requireMutator(actor models.Actor) error {
	if actor.Role == models.RoleDemo {
		return ErrForbidden
	}
	return nil
}

// Transfer moves money between two accounts atomically.
func (s *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireMutator(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req TransferRequest
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
	if req.FromAccountID == req.ToAccountID {
		WriteServiceError(w, ErrSameAccount)
		return
	}

	transaction, err := s.transfer(actor, &req)
	if err != nil {
		log.Printf("[TRANSACTION] Transfer %s -> %s of %s failed: %v",
			req.FromAccountID, req.ToAccountID, req.Amount, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Transfer %s completed: %s -> %s amount %s",
		transaction.ID, req.FromAccountID, req.ToAccountID, req.Amount)
	SendJSON(w, http.StatusCreated, transaction)
}

func (s *TransactionService) transfer(actor models.Actor, req *TransferRequest) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	allowed, err := CheckAccountAccess(tx, actor, req.FromAccountID, true)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}

	if req.OperationID != nil {
		if err := requireOpenOperation(tx, *req.OperationID); err != nil {
			return nil, err
		}
	}

	from, to, err := lockAccountPair(tx, req.FromAccountID, req.ToAccountID)
	if err != nil {
		return nil, err
	}

	if to.Type == models.AccountConfirming {
		return nil, ErrConfirmingReceive
	}

	available := from.Available()
	if req.Amount.GreaterThan(available) {
		return nil, &InsufficientFundsError{Kind: "available", Available: available, Currency: from.Currency}
	}

	from.Balance = from.Balance.Sub(req.Amount)
	to.Balance = to.Balance.Add(req.Amount)

	if err := updateBalance(tx, from.ID, from.Balance); err != nil {
		return nil, err
	}
	if err := updateBalance(tx, to.ID, to.Balance); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		ID:               uuid.New(),
		FromAccountID:    &from.ID,
		ToAccountID:      &to.ID,
		Amount:           req.Amount,
		Description:      req.Description,
		Type:             models.TxTransfer,
		Status:           "completed",
		OperationID:      req.OperationID,
		FromBalanceAfter: &from.Balance,
		ToBalanceAfter:   &to.Balance,
		TransactionDate:  txDate(req.TransactionDate),
		CreatedBy:        &actor.ID,
	}
	if err := insertTransaction(tx, transaction); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// Deposit credits an account outside any counter-account.
func (s *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req DepositRequest
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

	transaction, err := s.deposit(actor, req.ToAccountID, req.Amount, req.Description, req.TransactionDate)
	if err != nil {
		log.Printf("[TRANSACTION] Deposit to %s of %s failed: %v", req.ToAccountID, req.Amount, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Deposit %s completed: account %s amount %s", transaction.ID, req.ToAccountID, req.Amount)
	SendJSON(w, http.StatusCreated, transaction)
}

func (s *TransactionService) deposit(actor models.Actor, accountID uuid.UUID, amount decimal.Decimal, description string, date *time.Time) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	account.Balance = account.Balance.Add(amount)
	if err := updateBalance(tx, account.ID, account.Balance); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		ID:              uuid.New(),
		ToAccountID:     &account.ID,
		Amount:          amount,
		Description:     description,
		Type:            models.TxDeposit,
		Status:          "completed",
		ToBalanceAfter:  &account.Balance,
		TransactionDate: txDate(date),
		CreatedBy:       &actor.ID,
	}
	if err := insertTransaction(tx, transaction); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// Withdraw debits an account. Unlike transfers it never taps the credit
// limit: the stored balance itself must cover the amount.
func (s *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req WithdrawalRequest
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

	transaction, err := s.withdraw(actor, req.FromAccountID, req.Amount, req.Description, req.TransactionDate)
	if err != nil {
		log.Printf("[TRANSACTION] Withdrawal from %s of %s failed: %v", req.FromAccountID, req.Amount, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Withdrawal %s completed: account %s amount %s", transaction.ID, req.FromAccountID, req.Amount)
	SendJSON(w, http.StatusCreated, transaction)
}

func (s *TransactionService) withdraw(actor models.Actor, accountID uuid.UUID, amount decimal.Decimal, description string, date *time.Time) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(account.Balance) {
		return nil, &InsufficientFundsError{Kind: "balance", Available: account.Balance, Currency: account.Currency}
	}

	account.Balance = account.Balance.Sub(amount)
	if err := updateBalance(tx, account.ID, account.Balance); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		ID:               uuid.New(),
		FromAccountID:    &account.ID,
		Amount:           amount,
		Description:      description,
		Type:             models.TxWithdrawal,
		Status:           "completed",
		FromBalanceAfter: &account.Balance,
		TransactionDate:  txDate(date),
		CreatedBy:        &actor.ID,
	}
	if err := insertTransaction(tx, transaction); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// ConfirmingSettlement pays down emitted confirming credit: the bank
// collects from a current account and the confirming balance regenerates
// toward zero.
func (s *TransactionService) ConfirmingSettlement(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req ConfirmingSettlementRequest
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

	transaction, err := s.confirmingSettlement(actor, &req)
	if err != nil {
		log.Printf("[TRANSACTION] Settlement of %s on confirming %s failed: %v",
			req.Amount, req.ConfirmingAccountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Settlement %s completed: confirming %s charged %s for %s",
		transaction.ID, req.ConfirmingAccountID, req.ChargeAccountID, req.Amount)
	SendJSON(w, http.StatusCreated, transaction)
}

func (s *TransactionService) confirmingSettlement(actor models.Actor, req *ConfirmingSettlementRequest) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	confirming, charge, err := lockAccountPair(tx, req.ConfirmingAccountID, req.ChargeAccountID)
	if err != nil {
		return nil, err
	}

	if confirming.Type != models.AccountConfirming || charge.Type != models.AccountCurrent {
		return nil, ErrAccountTypeRole
	}

	if req.Amount.GreaterThan(charge.Balance) {
		return nil, &InsufficientFundsError{Kind: "balance", Available: charge.Balance, Currency: charge.Currency}
	}

	emitted := confirming.Balance.Abs()
	if req.Amount.GreaterThan(emitted) {
		return nil, &InsufficientFundsError{Kind: "emitted", Available: emitted, Currency: confirming.Currency}
	}

	charge.Balance = charge.Balance.Sub(req.Amount)
	confirming.Balance = confirming.Balance.Add(req.Amount)

	if err := updateBalance(tx, charge.ID, charge.Balance); err != nil {
		return nil, err
	}
	if err := updateBalance(tx, confirming.ID, confirming.Balance); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		ID:               uuid.New(),
		FromAccountID:    &charge.ID,
		ToAccountID:      &confirming.ID,
		Amount:           req.Amount,
		Description:      req.Description,
		Type:             models.TxConfirmingSettlement,
		Status:           "completed",
		FromBalanceAfter: &charge.Balance,
		ToBalanceAfter:   &confirming.Balance,
		TransactionDate:  txDate(req.TransactionDate),
		CreatedBy:        &actor.ID,
	}
	if err := insertTransaction(tx, transaction); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// AdjustBalance forces an account balance to an exact target through a
// synthetic deposit or withdrawal, so drift corrections land on the target
// instead of compounding rounding.
func (s *TransactionService) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req AdjustBalanceRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if req.TargetBalance.Exponent() < -2 {
		SendErrorResponse(w, "target balance cannot have more than two decimal places", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.adjustBalance(actor, accountID, req.TargetBalance, req.Description)
	if err != nil {
		log.Printf("[TRANSACTION] Adjustment of account %s to %s failed: %v", accountID, req.TargetBalance, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Adjustment %s completed: account %s set to %s", transaction.ID, accountID, req.TargetBalance)
	SendJSON(w, http.StatusCreated, transaction)
}

func (s *TransactionService) adjustBalance(actor models.Actor, accountID uuid.UUID, target decimal.Decimal, description string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	difference := target.Sub(account.Balance)
	if difference.IsZero() {
		return nil, ErrZeroAdjustment
	}

	if description == "" {
		description = "Balance adjustment"
	}

	// Write the target directly rather than applying the delta.
	account.Balance = target
	if err := updateBalance(tx, account.ID, account.Balance); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		ID:              uuid.New(),
		Amount:          difference.Abs(),
		Description:     description,
		Status:          "completed",
		TransactionDate: time.Now(),
		CreatedBy:       &actor.ID,
	}
	if difference.IsPositive() {
		transaction.Type = models.TxDeposit
		transaction.ToAccountID = &account.ID
		transaction.ToBalanceAfter = &account.Balance
	} else {
		transaction.Type = models.TxWithdrawal
		transaction.FromAccountID = &account.ID
		transaction.FromBalanceAfter = &account.Balance
	}
	if err := insertTransaction(tx, transaction); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// AssignOperation attaches or detaches a transaction's operation tag.
// Attaching requires the target operation to be open; detaching is always
// allowed.
func (s *TransactionService) AssignOperation(w http.ResponseWriter, r *http.Request) {
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

	var req AssignOperationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.assignOperation(actor, transactionID, req.OperationID)
	if err != nil {
		log.Printf("[TRANSACTION] Operation assignment on %s failed: %v", transactionID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, transaction)
}

func (s *TransactionService) assignOperation(actor models.Actor, transactionID uuid.UUID, operationID *uuid.UUID) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	transaction, err := loadTransaction(tx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := requireTransactionAccess(tx, actor, transaction, true); err != nil {
		return nil, err
	}

	if operationID != nil {
		if err := requireOpenOperation(tx, *operationID); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(`UPDATE transactions SET operation_id = $1 WHERE id = $2`, nullUUID(operationID), transactionID)
	if err != nil {
		return nil, err
	}
	transaction.OperationID = operationID

	return transaction, tx.Commit()
}

// UpdateDate edits the business date of a transaction. The audit timestamp
// is never touched.
func (s *TransactionService) UpdateDate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateTransactionDateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer tx.Rollback()

	transaction, err := loadTransaction(tx, transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := requireTransactionAccess(tx, actor, transaction, true); err != nil {
		WriteServiceError(w, err)
		return
	}

	_, err = tx.Exec(`UPDATE transactions SET transaction_date = $1 WHERE id = $2`, req.TransactionDate, transactionID)
	if err != nil {
		log.Printf("[TRANSACTION] Date update on %s failed: %v", transactionID, err)
		WriteServiceError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		WriteServiceError(w, err)
		return
	}
	transaction.TransactionDate = req.TransactionDate

	SendJSON(w, http.StatusOK, transaction)
}

// List returns transactions visible to the actor, newest first. Optional
// account_id and operation_id query filters narrow the set.
func (s *TransactionService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
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
	`
	args := []any{}
	where := []string{}

	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		where = append(where, `EXISTS (
			SELECT 1 FROM account_permissions ap
			WHERE ap.user_id = $1 AND ap.can_view = TRUE
			  AND (ap.account_id = t.from_account_id OR ap.account_id = t.to_account_id)
		)`)
	}
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
			return
		}
		args = append(args, accountID)
		where = append(where, placeholderPair("(t.from_account_id = $%d OR t.to_account_id = $%d)", len(args)))
	}
	if raw := r.URL.Query().Get("operation_id"); raw != "" {
		operationID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid operation id", http.StatusBadRequest, nil)
			return
		}
		args = append(args, operationID)
		where = append(where, placeholder("t.operation_id = $%d", len(args)))
	}

	query += whereClause(where) + " ORDER BY t.transaction_date DESC, t.created_at DESC"

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		args = append(args, limit)
		query += placeholder(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRANSACTION] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			log.Printf("[TRANSACTION] Scan failed: %v", err)
			WriteServiceError(w, err)
			return
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, transactions)
}

// Get returns one transaction if the actor can view either side.
func (s *TransactionService) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	transaction, err := s.getVisible(actor, transactionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, transaction)
}

func (s *TransactionService) getVisible(actor models.Actor, transactionID uuid.UUID) (*models.Transaction, error) {
	row := s.db.QueryRow(`
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
		WHERE t.id = $1
	`, transactionID)

	transaction, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, notFound("transaction")
	}
	if err != nil {
		return nil, err
	}

	if err := requireTransactionAccess(s.db, actor, transaction, false); err != nil {
		return nil, err
	}
	return transaction, nil
}

// requireTransactionAccess checks the actor against whichever accounts the
// transaction touches. Transfer-level access on either side is enough for
// mutation, view on either side for reads.
func requireTransactionAccess(q queryRower, actor models.Actor, t *models.Transaction, requireTransfer bool) error {
	if actor.IsSupervisor() {
		return nil
	}
	for _, accountID := range []*uuid.UUID{t.FromAccountID, t.ToAccountID} {
		if accountID == nil {
			continue
		}
		allowed, err := CheckAccountAccess(q, actor, *accountID, requireTransfer)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}
	return ErrForbidden
}

func loadTransaction(tx *sql.Tx, transactionID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	var fromID, toID, operationID, createdBy uuid.NullUUID
	var fromAfter, toAfter decimal.NullDecimal
	err := tx.QueryRow(`
		SELECT id, from_account_id, to_account_id, amount, description, transaction_type,
		       status, operation_id, from_balance_after, to_balance_after,
		       transaction_date, created_by, created_at
		FROM transactions WHERE id = $1
	`, transactionID).Scan(
		&t.ID, &fromID, &toID, &t.Amount, &t.Description, &t.Type,
		&t.Status, &operationID, &fromAfter, &toAfter,
		&t.TransactionDate, &createdBy, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, notFound("transaction")
	}
	if err != nil {
		return nil, err
	}
	t.FromAccountID = uuidPtr(fromID)
	t.ToAccountID = uuidPtr(toID)
	t.OperationID = uuidPtr(operationID)
	t.CreatedBy = uuidPtr(createdBy)
	t.FromBalanceAfter = decimalPtr(fromAfter)
	t.ToBalanceAfter = decimalPtr(toAfter)
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var fromID, toID, operationID, createdBy uuid.NullUUID
	var fromAfter, toAfter decimal.NullDecimal
	err := row.Scan(
		&t.ID, &fromID, &toID, &t.Amount, &t.Description, &t.Type,
		&t.Status, &operationID, &fromAfter, &toAfter,
		&t.TransactionDate, &createdBy, &t.CreatedAt,
		&t.FromAccountName, &t.ToAccountName,
		&t.FromCompanyName, &t.ToCompanyName,
	)
	if err != nil {
		return nil, err
	}
	t.FromAccountID = uuidPtr(fromID)
	t.ToAccountID = uuidPtr(toID)
	t.OperationID = uuidPtr(operationID)
	t.CreatedBy = uuidPtr(createdBy)
	t.FromBalanceAfter = decimalPtr(fromAfter)
	t.ToBalanceAfter = decimalPtr(toAfter)
	return &t, nil
}
