package flows

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func transfer(from, to company, amount string) TransferRecord {
	return TransferRecord{
		TransactionID:   uuid.New(),
		Amount:          dec(amount),
		CreatedAt:       time.Now(),
		FromCompanyID:   from.id,
		FromCompanyName: from.name,
		FromGroupID:     from.groupID,
		FromGroupName:   from.groupName,
		ToCompanyID:     to.id,
		ToCompanyName:   to.name,
		ToGroupID:       to.groupID,
		ToGroupName:     to.groupName,
	}
}

type company struct {
	id        uuid.UUID
	name      string
	groupID   *uuid.UUID
	groupName string
}

func newCompany(name string, groupID *uuid.UUID, groupName string) company {
	return company{id: uuid.New(), name: name, groupID: groupID, groupName: groupName}
}

func TestBuildOperationFlow(t *testing.T) {
	alphaID := uuid.New()
	betaID := uuid.New()

	acme := newCompany("Acme", &alphaID, "Alpha")
	bolt := newCompany("Bolt", &alphaID, "Alpha")
	crux := newCompany("Crux", &betaID, "Beta")
	drift := newCompany("Drift", nil, "")

	transfers := []TransferRecord{
		transfer(acme, crux, "100.00"),
		transfer(acme, crux, "50.00"),
		transfer(bolt, drift, "25.00"),
	}

	flow := BuildOperationFlow(transfers, nil)

	// One edge per transaction, never merged.
	assert.Len(t, flow.Edges, 3)

	require.Len(t, flow.Nodes, 4)
	byName := map[string]CompanyNode{}
	for _, n := range flow.Nodes {
		byName[n.CompanyName] = n
	}
	assert.True(t, byName["Acme"].TotalOut.Equal(dec("150.00")))
	assert.True(t, byName["Acme"].TotalIn.IsZero())
	assert.True(t, byName["Crux"].TotalIn.Equal(dec("150.00")))
	assert.True(t, byName["Drift"].TotalIn.Equal(dec("25.00")))
	assert.Equal(t, NoGroupName, byName["Drift"].GroupName)

	require.Len(t, flow.GroupNodes, 3)
	groupsByName := map[string]GroupNode{}
	for _, g := range flow.GroupNodes {
		groupsByName[g.GroupName] = g
	}
	assert.True(t, groupsByName["Alpha"].TotalOut.Equal(dec("175.00")))
	assert.True(t, groupsByName["Beta"].TotalIn.Equal(dec("150.00")))
	assert.True(t, groupsByName[NoGroupName].TotalIn.Equal(dec("25.00")))
	assert.Nil(t, groupsByName[NoGroupName].GroupID)
}

func TestBuildOperationFlowMergesPendingEntries(t *testing.T) {
	alphaID := uuid.New()
	betaID := uuid.New()
	gammaID := uuid.New()

	acme := newCompany("Acme", &alphaID, "Alpha")
	crux := newCompany("Crux", &betaID, "Beta")

	transfers := []TransferRecord{transfer(acme, crux, "100.00")}
	pending := []PendingRecord{
		{
			EntryID:       uuid.New(),
			FromGroupID:   betaID,
			FromGroupName: "Beta",
			ToGroupID:     gammaID,
			ToGroupName:   "Gamma",
			Amount:        dec("40.00"),
			Status:        "pending",
		},
	}

	flow := BuildOperationFlow(transfers, pending)

	require.Len(t, flow.PendingEdges, 1)
	assert.Equal(t, "Beta", flow.PendingEdges[0].FromGroupName)

	groupsByName := map[string]GroupNode{}
	for _, g := range flow.GroupNodes {
		groupsByName[g.GroupName] = g
	}

	// Debtor holds the money it owes: pending_in on Beta.
	beta := groupsByName["Beta"]
	assert.True(t, beta.TotalIn.Equal(dec("100.00")))
	assert.True(t, beta.PendingIn.Equal(dec("40.00")))
	assert.True(t, beta.PendingOut.IsZero())

	// Gamma has no transaction flow but still appears via the entry.
	gamma, ok := groupsByName["Gamma"]
	require.True(t, ok)
	assert.True(t, gamma.TotalIn.IsZero())
	assert.True(t, gamma.TotalOut.IsZero())
	assert.True(t, gamma.PendingOut.Equal(dec("40.00")))
}

func TestBuildOperationFlowEmpty(t *testing.T) {
	flow := BuildOperationFlow(nil, nil)
	assert.Empty(t, flow.Nodes)
	assert.Empty(t, flow.Edges)
	assert.Empty(t, flow.GroupNodes)
	assert.Empty(t, flow.PendingEdges)
}
