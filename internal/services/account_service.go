package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirgkr-rg/finance-app/internal/models"
)

type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateAccountRequest struct {
	CompanyID        uuid.UUID        `json:"company_id" validate:"required"`
	Name             string           `json:"name" validate:"required,min=1,max=255"`
	IBAN             *string          `json:"iban" validate:"omitempty,max=34"`
	Type             string           `json:"account_type" validate:"required"`
	Currency         string           `json:"currency" validate:"omitempty,len=3"`
	CreditLimit      *decimal.Decimal `json:"credit_limit"`
	InitialBalance   *decimal.Decimal `json:"initial_balance"`
	InitialAvailable *decimal.Decimal `json:"initial_available"`
}

type UpdateAccountRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=255"`
	IBAN        *string          `json:"iban" validate:"omitempty,max=34"`
	CreditLimit *decimal.Decimal `json:"credit_limit"`
}

// accountView decorates an account with its derived available funds for
// responses. Available is never stored.
type accountView struct {
	models.Account
	Available decimal.Decimal `json:"available"`
}

func viewOf(a models.Account) accountView {
	return accountView{Account: a, Available: a.Available()}
}

// Create opens an account under a company. Credit and confirming accounts
// may be seeded with an initial available, which converts to
// balance = available - credit_limit.
func (s *AccountService) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := requireSupervisor(actor); err != nil {
		WriteServiceError(w, err)
		return
	}

	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !models.ValidAccountType(req.Type) {
		SendErrorResponse(w, "Invalid account type", http.StatusBadRequest, nil)
		return
	}

	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM companies WHERE id = $1 AND is_active = TRUE)`, req.CompanyID).Scan(&exists)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !exists {
		WriteServiceError(w, notFound("company"))
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}
	creditLimit := decimal.Zero
	if req.CreditLimit != nil {
		creditLimit = *req.CreditLimit
	}
	if creditLimit.IsNegative() {
		SendErrorResponse(w, "credit limit cannot be negative", http.StatusBadRequest, nil)
		return
	}

	balance := decimal.Zero
	switch {
	case req.InitialAvailable != nil:
		if req.Type == models.AccountCurrent {
			balance = *req.InitialAvailable
		} else {
			if req.InitialAvailable.GreaterThan(creditLimit) {
				WriteServiceError(w, ErrAvailableOverLimit)
				return
			}
			balance = req.InitialAvailable.Sub(creditLimit)
		}
	case req.InitialBalance != nil:
		balance = *req.InitialBalance
	}

	account := models.Account{
		ID:          uuid.New(),
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		IBAN:        req.IBAN,
		Type:        req.Type,
		Currency:    currency,
		Balance:     balance,
		CreditLimit: creditLimit,
		IsActive:    true,
	}
	err = s.db.QueryRow(`
		INSERT INTO accounts (id, company_id, name, iban, account_type, currency, balance, credit_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		RETURNING created_at, updated_at
	`, account.ID, account.CompanyID, account.Name, account.IBAN, account.Type,
		account.Currency, account.Balance, account.CreditLimit).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Create failed: %v", err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ACCOUNT] Created %s (%s, %s) balance %s", account.ID, account.Name, account.Type, account.Balance)
	SendJSON(w, http.StatusCreated, viewOf(account))
}

// List returns active accounts the actor can view.
func (s *AccountService) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	query := `
		SELECT id, company_id, name, iban, account_type, currency, balance, credit_limit, is_active, created_at, updated_at
		FROM accounts
	`
	args := []any{}
	where := []string{"is_active = TRUE"}

	if !actor.IsSupervisor() {
		args = append(args, actor.ID)
		where = append(where, placeholder(`EXISTS (
			SELECT 1 FROM account_permissions ap
			WHERE ap.user_id = $%d AND ap.account_id = accounts.id AND ap.can_view = TRUE
		)`, len(args)))
	}
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		companyID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
			return
		}
		args = append(args, companyID)
		where = append(where, placeholder("company_id = $%d", len(args)))
	}
	query += whereClause(where) + ` ORDER BY name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[ACCOUNT] List failed: %v", err)
		WriteServiceError(w, err)
		return
	}
	defer rows.Close()

	accounts := []accountView{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		accounts = append(accounts, viewOf(*account))
	}
	if err := rows.Err(); err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, accounts)
}

// Get returns one account if the actor can view it.
func (s *AccountService) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	allowed, err := CheckAccountAccess(s.db, actor, accountID, false)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !allowed {
		WriteServiceError(w, ErrForbidden)
		return
	}

	account, err := s.load(accountID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, viewOf(*account))
}

// Update patches the mutable account fields. Balance is never patchable
// here; it only moves through the ledger engine.
func (s *AccountService) Update(w http.ResponseWriter, r *http.Request) {
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

	var req UpdateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.CreditLimit != nil && req.CreditLimit.IsNegative() {
		SendErrorResponse(w, "credit limit cannot be negative", http.StatusBadRequest, nil)
		return
	}

	row := s.db.QueryRow(`
		UPDATE accounts
		SET name = COALESCE($1, name),
		    iban = COALESCE($2, iban),
		    credit_limit = COALESCE($3, credit_limit),
		    updated_at = NOW()
		WHERE id = $4 AND is_active = TRUE
		RETURNING id, company_id, name, iban, account_type, currency, balance, credit_limit, is_active, created_at, updated_at
	`, req.Name, req.IBAN, nullDecimal(req.CreditLimit), accountID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		WriteServiceError(w, notFound("account"))
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Update %s failed: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, viewOf(*account))
}

// Deactivate soft-deletes an account. Blocked while the balance is
// positive: drain it through the engine first.
func (s *AccountService) Deactivate(w http.ResponseWriter, r *http.Request) {
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

	tx, err := s.db.Begin()
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, accountID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if account.Balance.IsPositive() {
		WriteServiceError(w, ErrBalanceRemaining)
		return
	}

	if _, err := tx.Exec(`UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, accountID); err != nil {
		log.Printf("[ACCOUNT] Deactivate %s failed: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ACCOUNT] Deactivated %s", accountID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AccountService) load(accountID uuid.UUID) (*models.Account, error) {
	row := s.db.QueryRow(`
		SELECT id, company_id, name, iban, account_type, currency, balance, credit_limit, is_active, created_at, updated_at
		FROM accounts WHERE id = $1 AND is_active = TRUE
	`, accountID)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, notFound("account")
	}
	return account, err
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var iban sql.NullString
	err := row.Scan(
		&account.ID, &account.CompanyID, &account.Name, &iban, &account.Type,
		&account.Currency, &account.Balance, &account.CreditLimit, &account.IsActive,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if iban.Valid {
		v := iban.String
		account.IBAN = &v
	}
	return &account, nil
}
