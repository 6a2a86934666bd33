package flows

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupBalance is one group's net position across all operations.
// TransfersBalance is received minus sent over inter-group transfers;
// PendingBalance counts debts the group holds (as debtor, positive) minus
// debts it is owed (as creditor, negative): the debtor still has the money.
type GroupBalance struct {
	GroupID          uuid.UUID       `json:"group_id"`
	GroupName        string          `json:"group_name"`
	TransfersBalance decimal.Decimal `json:"transfers_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	Total            decimal.Decimal `json:"balance"`
}

// GroupsBalance nets all transfer transactions against all currently-pending
// entries, per group. Transfers inside a single group cancel out and are
// skipped; companies without a group contribute nothing to group balances.
// Groups with a zero total and no pending amounts are omitted. Sorted by
// total, descending.
func GroupsBalance(transfers []TransferRecord, pending []PendingRecord) []GroupBalance {
	type accum struct {
		name      string
		transfers decimal.Decimal
		pend      decimal.Decimal
		hasPend   bool
	}
	balances := map[uuid.UUID]*accum{}

	get := func(id uuid.UUID, name string) *accum {
		a, ok := balances[id]
		if !ok {
			a = &accum{transfers: decimal.Zero, pend: decimal.Zero}
			balances[id] = a
		}
		if name != "" {
			a.name = name
		}
		return a
	}

	for _, t := range transfers {
		if sameGroup(t.FromGroupID, t.ToGroupID) {
			continue
		}
		if t.FromGroupID != nil {
			a := get(*t.FromGroupID, t.FromGroupName)
			a.transfers = a.transfers.Sub(t.Amount)
		}
		if t.ToGroupID != nil {
			a := get(*t.ToGroupID, t.ToGroupName)
			a.transfers = a.transfers.Add(t.Amount)
		}
	}

	for _, p := range pending {
		debtor := get(p.FromGroupID, p.FromGroupName)
		debtor.pend = debtor.pend.Add(p.Amount)
		debtor.hasPend = true

		creditor := get(p.ToGroupID, p.ToGroupName)
		creditor.pend = creditor.pend.Sub(p.Amount)
		creditor.hasPend = true
	}

	result := []GroupBalance{}
	for id, a := range balances {
		total := a.transfers.Add(a.pend)
		if total.IsZero() && !a.hasPend {
			continue
		}
		result = append(result, GroupBalance{
			GroupID:          id,
			GroupName:        a.name,
			TransfersBalance: a.transfers,
			PendingBalance:   a.pend,
			Total:            total,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Total.Equal(result[j].Total) {
			return result[i].Total.GreaterThan(result[j].Total)
		}
		return result[i].GroupID.String() < result[j].GroupID.String()
	})
	return result
}

// GroupPendingSummary is one group's position over pending entries only.
type GroupPendingSummary struct {
	GroupID   uuid.UUID       `json:"group_id"`
	GroupName string          `json:"group_name"`
	Owes      decimal.Decimal `json:"owes"`
	Owed      decimal.Decimal `json:"owed"`
	Net       decimal.Decimal `json:"net"`
}

// PendingSummary sums, per group, what it owes (as debtor) and is owed (as
// creditor) across the given pending entries. Net = owed - owes. Sorted by
// net, descending.
func PendingSummary(pending []PendingRecord) []GroupPendingSummary {
	type accum struct {
		name string
		owes decimal.Decimal
		owed decimal.Decimal
	}
	groups := map[uuid.UUID]*accum{}

	get := func(id uuid.UUID, name string) *accum {
		a, ok := groups[id]
		if !ok {
			a = &accum{owes: decimal.Zero, owed: decimal.Zero}
			groups[id] = a
		}
		if name != "" {
			a.name = name
		}
		return a
	}

	for _, p := range pending {
		debtor := get(p.FromGroupID, p.FromGroupName)
		debtor.owes = debtor.owes.Add(p.Amount)

		creditor := get(p.ToGroupID, p.ToGroupName)
		creditor.owed = creditor.owed.Add(p.Amount)
	}

	result := []GroupPendingSummary{}
	for id, a := range groups {
		result = append(result, GroupPendingSummary{
			GroupID:   id,
			GroupName: a.name,
			Owes:      a.owes,
			Owed:      a.owed,
			Net:       a.owed.Sub(a.owes),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Net.Equal(result[j].Net) {
			return result[i].Net.GreaterThan(result[j].Net)
		}
		return result[i].GroupID.String() < result[j].GroupID.String()
	})
	return result
}

func sameGroup(a, b *uuid.UUID) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
