package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCheckAccountAccess(t *testing.T) {
	accountID := uuid.New()

	t.Run("supervisor bypasses the permission table", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		allowed, err := CheckAccountAccess(db, supervisorActor(), accountID, true)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent row denies", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		actor := userActor()
		mock.ExpectQuery(`SELECT can_view, can_transfer FROM account_permissions`).
			WithArgs(actor.ID, accountID).
			WillReturnRows(sqlmock.NewRows([]string{"can_view", "can_transfer"}))

		allowed, err := CheckAccountAccess(db, actor, accountID, false)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("view permission does not grant transfer", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		actor := userActor()
		mock.ExpectQuery(`SELECT can_view, can_transfer FROM account_permissions`).
			WithArgs(actor.ID, accountID).
			WillReturnRows(sqlmock.NewRows([]string{"can_view", "can_transfer"}).AddRow(true, false))

		allowed, err := CheckAccountAccess(db, actor, accountID, true)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transfer permission grants transfer", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		actor := userActor()
		mock.ExpectQuery(`SELECT can_view, can_transfer FROM account_permissions`).
			WithArgs(actor.ID, accountID).
			WillReturnRows(sqlmock.NewRows([]string{"can_view", "can_transfer"}).AddRow(true, true))

		allowed, err := CheckAccountAccess(db, actor, accountID, true)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
