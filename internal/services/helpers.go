package services

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirgkr-rg/finance-app/internal/middleware"
	"github.com/kirgkr-rg/finance-app/internal/models"
)

// queryRower is satisfied by both *sql.DB and *sql.Tx so permission checks
// can run standalone or inside an engine transaction.
type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

// actorFrom pulls the authenticated actor from the request context, writing
// a 401 if the auth middleware did not run.
func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return models.Actor{}, false
	}
	return actor, true
}

func requireSupervisor(actor models.Actor) error {
	if !actor.IsSupervisor() {
		return ErrForbidden
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

// placeholder and placeholderPair number positional $n arguments in
// dynamically assembled filter clauses.
func placeholder(format string, n int) string {
	return fmt.Sprintf(format, n)
}

func placeholderPair(format string, n int) string {
	return fmt.Sprintf(format, n, n)
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
