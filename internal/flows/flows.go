// Package flows derives read-only money-flow views from committed
// transactions and pending entries. Everything here is pure computation:
// callers load the rows, flows does the math.
package flows

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NoGroupName labels companies that do not belong to any group in the
// group-level roll-ups.
const NoGroupName = "No group"

// TransferRecord is one committed transfer with both endpoints resolved to
// their companies and (optional) groups.
type TransferRecord struct {
	TransactionID   uuid.UUID
	Amount          decimal.Decimal
	CreatedAt       time.Time
	FromCompanyID   uuid.UUID
	FromCompanyName string
	FromGroupID     *uuid.UUID
	FromGroupName   string
	ToCompanyID     uuid.UUID
	ToCompanyName   string
	ToGroupID       *uuid.UUID
	ToGroupName     string
}

// PendingRecord is one inter-group pending entry with group names resolved.
type PendingRecord struct {
	EntryID       uuid.UUID
	FromGroupID   uuid.UUID
	FromGroupName string
	ToGroupID     uuid.UUID
	ToGroupName   string
	Amount        decimal.Decimal
	Description   string
	Status        string
	CreatedAt     time.Time
}

// CompanyNode aggregates per-company totals inside one operation.
type CompanyNode struct {
	CompanyID   uuid.UUID       `json:"company_id"`
	CompanyName string          `json:"company_name"`
	GroupID     *uuid.UUID      `json:"group_id,omitempty"`
	GroupName   string          `json:"group_name"`
	TotalIn     decimal.Decimal `json:"total_in"`
	TotalOut    decimal.Decimal `json:"total_out"`
}

// FlowEdge is one transfer. Edges are never merged: one edge per transaction.
type FlowEdge struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	FromCompanyID   uuid.UUID       `json:"from_company_id"`
	FromCompanyName string          `json:"from_company_name"`
	ToCompanyID     uuid.UUID       `json:"to_company_id"`
	ToCompanyName   string          `json:"to_company_name"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

// GroupNode rolls company totals up to the owning group and merges in the
// pending-entry amounts scoped to the operation. Companies without a group
// share a single nil-ID bucket.
type GroupNode struct {
	GroupID    *uuid.UUID      `json:"group_id,omitempty"`
	GroupName  string          `json:"group_name"`
	TotalIn    decimal.Decimal `json:"total_in"`
	TotalOut   decimal.Decimal `json:"total_out"`
	PendingIn  decimal.Decimal `json:"pending_in"`
	PendingOut decimal.Decimal `json:"pending_out"`
}

// PendingEdge is one pending entry rendered into the flow map.
type PendingEdge struct {
	EntryID       uuid.UUID       `json:"entry_id"`
	FromGroupID   uuid.UUID       `json:"from_group_id"`
	FromGroupName string          `json:"from_group_name"`
	ToGroupID     uuid.UUID       `json:"to_group_id"`
	ToGroupName   string          `json:"to_group_name"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OperationFlow is the full flow map of one operation.
type OperationFlow struct {
	Nodes        []CompanyNode `json:"nodes"`
	Edges        []FlowEdge    `json:"edges"`
	GroupNodes   []GroupNode   `json:"group_nodes"`
	PendingEdges []PendingEdge `json:"pending_edges"`
}

type companyAccum struct {
	node CompanyNode
}

type groupKey struct {
	id    uuid.UUID
	valid bool // false = the "no group" bucket
}

// BuildOperationFlow computes the directed flow graph of an operation from
// its transfer transactions and the pending entries created or settled in
// it. The debtor group of a pending entry accumulates pending_in (it holds
// money it owes), the creditor accumulates pending_out.
func BuildOperationFlow(transfers []TransferRecord, pending []PendingRecord) *OperationFlow {
	flow := &OperationFlow{
		Nodes:        []CompanyNode{},
		Edges:        []FlowEdge{},
		GroupNodes:   []GroupNode{},
		PendingEdges: []PendingEdge{},
	}

	companies := map[uuid.UUID]*companyAccum{}

	for _, t := range transfers {
		from := companyFor(companies, t.FromCompanyID, t.FromCompanyName, t.FromGroupID, t.FromGroupName)
		from.node.TotalOut = from.node.TotalOut.Add(t.Amount)

		to := companyFor(companies, t.ToCompanyID, t.ToCompanyName, t.ToGroupID, t.ToGroupName)
		to.node.TotalIn = to.node.TotalIn.Add(t.Amount)

		flow.Edges = append(flow.Edges, FlowEdge{
			TransactionID:   t.TransactionID,
			FromCompanyID:   t.FromCompanyID,
			FromCompanyName: t.FromCompanyName,
			ToCompanyID:     t.ToCompanyID,
			ToCompanyName:   t.ToCompanyName,
			Amount:          t.Amount,
			CreatedAt:       t.CreatedAt,
		})
	}

	groups := map[groupKey]*GroupNode{}
	for _, c := range companies {
		flow.Nodes = append(flow.Nodes, c.node)

		g := groupNodeFor(groups, c.node.GroupID, c.node.GroupName)
		g.TotalIn = g.TotalIn.Add(c.node.TotalIn)
		g.TotalOut = g.TotalOut.Add(c.node.TotalOut)
	}

	for _, p := range pending {
		flow.PendingEdges = append(flow.PendingEdges, PendingEdge{
			EntryID:       p.EntryID,
			FromGroupID:   p.FromGroupID,
			FromGroupName: p.FromGroupName,
			ToGroupID:     p.ToGroupID,
			ToGroupName:   p.ToGroupName,
			Amount:        p.Amount,
			Description:   p.Description,
			Status:        p.Status,
			CreatedAt:     p.CreatedAt,
		})

		fromID, toID := p.FromGroupID, p.ToGroupID
		debtor := groupNodeFor(groups, &fromID, p.FromGroupName)
		debtor.PendingIn = debtor.PendingIn.Add(p.Amount)

		creditor := groupNodeFor(groups, &toID, p.ToGroupName)
		creditor.PendingOut = creditor.PendingOut.Add(p.Amount)
	}

	for _, g := range groups {
		flow.GroupNodes = append(flow.GroupNodes, *g)
	}

	sort.Slice(flow.Nodes, func(i, j int) bool {
		if flow.Nodes[i].CompanyName != flow.Nodes[j].CompanyName {
			return flow.Nodes[i].CompanyName < flow.Nodes[j].CompanyName
		}
		return flow.Nodes[i].CompanyID.String() < flow.Nodes[j].CompanyID.String()
	})
	sort.Slice(flow.GroupNodes, func(i, j int) bool {
		return flow.GroupNodes[i].GroupName < flow.GroupNodes[j].GroupName
	})

	return flow
}

func companyFor(m map[uuid.UUID]*companyAccum, id uuid.UUID, name string, groupID *uuid.UUID, groupName string) *companyAccum {
	if c, ok := m[id]; ok {
		return c
	}
	if groupID == nil {
		groupName = NoGroupName
	}
	c := &companyAccum{node: CompanyNode{
		CompanyID:   id,
		CompanyName: name,
		GroupID:     groupID,
		GroupName:   groupName,
		TotalIn:     decimal.Zero,
		TotalOut:    decimal.Zero,
	}}
	m[id] = c
	return c
}

func groupNodeFor(m map[groupKey]*GroupNode, id *uuid.UUID, name string) *GroupNode {
	key := groupKey{}
	if id != nil {
		key = groupKey{id: *id, valid: true}
	}
	if g, ok := m[key]; ok {
		return g
	}
	if id == nil {
		name = NoGroupName
	}
	g := &GroupNode{
		GroupID:    id,
		GroupName:  name,
		TotalIn:    decimal.Zero,
		TotalOut:   decimal.Zero,
		PendingIn:  decimal.Zero,
		PendingOut: decimal.Zero,
	}
	m[key] = g
	return g
}
