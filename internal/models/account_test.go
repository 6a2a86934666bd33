package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestAccountAvailable(t *testing.T) {
	tests := []struct {
		name        string
		accountType string
		balance     string
		creditLimit string
		want        string
	}{
		{"current uses the balance", AccountCurrent, "150.25", "0", "150.25"},
		{"current can be zero", AccountCurrent, "0", "0", "0"},
		{"credit adds limit to used credit", AccountCredit, "-400", "1000", "600"},
		{"credit fully drawn", AccountCredit, "-1000", "1000", "0"},
		{"credit untouched", AccountCredit, "0", "1000", "1000"},
		{"confirming adds limit to emitted", AccountConfirming, "-250.50", "500", "249.5"},
		{"confirming untouched", AccountConfirming, "0", "500", "500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := Account{
				Type:        tt.accountType,
				Balance:     dec(tt.balance),
				CreditLimit: dec(tt.creditLimit),
			}
			assert.True(t, account.Available().Equal(dec(tt.want)),
				"available = %s, want %s", account.Available(), tt.want)
		})
	}
}

func TestValidAccountType(t *testing.T) {
	assert.True(t, ValidAccountType(AccountCurrent))
	assert.True(t, ValidAccountType(AccountCredit))
	assert.True(t, ValidAccountType(AccountConfirming))
	assert.False(t, ValidAccountType("savings"))
	assert.False(t, ValidAccountType(""))
}
