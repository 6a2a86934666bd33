package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Domain errors shared by the services. Handlers translate them to HTTP
// status codes in one place (WriteServiceError) so the API surface stays
// consistent.
var (
	ErrForbidden         = errors.New("forbidden")
	ErrSameAccount       = errors.New("cannot transfer to the same account")
	ErrConfirmingReceive = errors.New("confirming accounts cannot receive transfers")
	ErrOperationNotOpen  = errors.New("operation is not open")
	ErrInvalidTransition = errors.New("invalid operation status transition")
	ErrOperationInUse    = errors.New("operation has transactions assigned")
	ErrAlreadySettled    = errors.New("entry is already settled")
	ErrNotSettled        = errors.New("entry is not settled")
	ErrZeroAdjustment    = errors.New("balance already matches the target")
	ErrBalanceRemaining  = errors.New("cannot deactivate an account with a positive balance")
	ErrSelfDeactivation  = errors.New("cannot deactivate your own user")
	ErrSameGroup         = errors.New("debtor and creditor groups must differ")
	ErrAccountTypeRole   = errors.New("account type not valid for this operation")
	ErrAvailableOverLimit = errors.New("available cannot exceed the credit limit")
)

// NotFoundError names the missing resource so the handler message stays
// specific without per-call strings.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func notFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// InsufficientFundsError carries the computed ceiling (balance, available or
// emitted amount, depending on the operation) so callers can display it.
type InsufficientFundsError struct {
	Kind      string // "balance", "available" or "emitted"
	Available decimal.Decimal
	Currency  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: %s %s", e.Kind, e.Available.StringFixed(2), e.Currency)
}

// WriteServiceError maps a domain error to an HTTP response.
func WriteServiceError(w http.ResponseWriter, err error) {
	var nf *NotFoundError
	var funds *InsufficientFundsError

	switch {
	case errors.As(err, &nf):
		SendErrorResponse(w, nf.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrForbidden):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrSelfDeactivation):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.As(err, &funds):
		SendErrorResponse(w, funds.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrOperationInUse):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrConfirmingReceive),
		errors.Is(err, ErrOperationNotOpen),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrNotSettled),
		errors.Is(err, ErrZeroAdjustment),
		errors.Is(err, ErrBalanceRemaining),
		errors.Is(err, ErrSameGroup),
		errors.Is(err, ErrAccountTypeRole),
		errors.Is(err, ErrAvailableOverLimit):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
