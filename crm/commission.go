/*
commission.go - Commission aggregation

PURPOSE:
  Read-only derivations over a snapshot of agents, clients, policies and
  chargebacks. Nothing here writes to the store.

FORMULAS (per agent):
  activePremium   = sum(annualPremium) over Active policies of the agent's clients
  grossCommission = activePremium * commissionRate
  override        = activePremium * (1 - commissionRate)
  unpaidDebt      = sum(debtAmount) over the agent's Unpaid chargebacks
  netCommission   = grossCommission - unpaidDebt   (may be negative)

RANKING:
  Leaderboard: Active agents, activePremium desc, then approved-underwriting
  policy count desc, otherwise original order.
  RecommendAgent: Active agent with the fewest assigned clients, first wins ties.

SEE ALSO:
  - lifecycle.go: Where chargebacks come from
*/
package crm

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/agency-crm/generic"
)

// Book is the snapshot the aggregator works on.
type Book struct {
	Agents      []Agent
	Clients     []Client
	Policies    []Policy
	Chargebacks []Chargeback
}

// TypeBreakdown is the commission earned on one policy type.
type TypeBreakdown struct {
	Type       PolicyType      `json:"type"`
	Premium    decimal.Decimal `json:"premium"`
	Commission decimal.Decimal `json:"commission"`
	Policies   int             `json:"policies"`
}

type CommissionSummary struct {
	AgentID         generic.ID      `json:"agentId"`
	AgentName       string          `json:"agentName"`
	CommissionRate  decimal.Decimal `json:"commissionRate"`
	ActivePremium   decimal.Decimal `json:"activePremium"`
	GrossCommission decimal.Decimal `json:"grossCommission"`
	Override        decimal.Decimal `json:"override"`
	UnpaidDebt      decimal.Decimal `json:"unpaidDebt"`
	NetCommission   decimal.Decimal `json:"netCommission"`
	ActivePolicies  int             `json:"activePolicies"`
	ApprovedCount   int             `json:"approvedCount"`
	Clients         int             `json:"clients"`
	Breakdown       []TypeBreakdown `json:"breakdown"`
}

type AgencyTotals struct {
	ActivePremium   decimal.Decimal     `json:"activePremium"`
	GrossCommission decimal.Decimal     `json:"grossCommission"`
	Override        decimal.Decimal     `json:"override"`
	UnpaidDebt      decimal.Decimal     `json:"unpaidDebt"`
	NetCommission   decimal.Decimal     `json:"netCommission"`
	Agents          []CommissionSummary `json:"agents"`
}

type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	AgentID       generic.ID      `json:"agentId"`
	AgentName     string          `json:"agentName"`
	ActivePremium decimal.Decimal `json:"activePremium"`
	ApprovedCount int             `json:"approvedCount"`
	Policies      int             `json:"policies"`
}

// =============================================================================
// AGGREGATION
// =============================================================================

// AgentCommission summarizes one agent. An unknown agent yields a zero summary
// with a zero rate, so only chargebacks count against it.
func AgentCommission(book Book, agentID generic.ID) CommissionSummary {
	agent := Agent{ID: agentID}
	for _, a := range book.Agents {
		if a.ID == agentID {
			agent = a
			break
		}
	}
	return summarize(book, agent)
}

func summarize(book Book, agent Agent) CommissionSummary {
	sum := CommissionSummary{
		AgentID:         agent.ID,
		AgentName:       agent.Name,
		CommissionRate:  agent.CommissionRate,
		ActivePremium:   decimal.Zero,
		GrossCommission: decimal.Zero,
		Override:        decimal.Zero,
		UnpaidDebt:      decimal.Zero,
		Breakdown:       []TypeBreakdown{},
	}

	owned := make(map[generic.ID]bool)
	for _, c := range book.Clients {
		if c.AssignedTo(agent.ID) {
			owned[c.ID] = true
		}
	}
	sum.Clients = len(owned)

	byType := make(map[PolicyType]int)
	for _, p := range book.Policies {
		if !owned[p.ClientID] {
			continue
		}
		if p.UnderwritingStatus == UnderwritingApproved {
			sum.ApprovedCount++
		}
		if p.Status != PolicyActive {
			continue
		}

		commission := p.AnnualPremium.Mul(agent.CommissionRate)
		sum.ActivePolicies++
		sum.ActivePremium = sum.ActivePremium.Add(p.AnnualPremium)
		sum.GrossCommission = sum.GrossCommission.Add(commission)

		i, seen := byType[p.Type]
		if !seen {
			i = len(sum.Breakdown)
			byType[p.Type] = i
			sum.Breakdown = append(sum.Breakdown, TypeBreakdown{Type: p.Type, Premium: decimal.Zero, Commission: decimal.Zero})
		}
		b := &sum.Breakdown[i]
		b.Premium = b.Premium.Add(p.AnnualPremium)
		b.Commission = b.Commission.Add(commission)
		b.Policies++
	}

	for _, cb := range book.Chargebacks {
		if cb.AgentID == agent.ID && cb.Status == ChargebackUnpaid {
			sum.UnpaidDebt = sum.UnpaidDebt.Add(cb.DebtAmount)
		}
	}

	sum.Override = sum.ActivePremium.Mul(decimal.NewFromInt(1).Sub(agent.CommissionRate))
	sum.NetCommission = sum.GrossCommission.Sub(sum.UnpaidDebt)
	return sum
}

// AgencyCommission sums every agent's figures regardless of status or visibility.
func AgencyCommission(book Book) AgencyTotals {
	totals := AgencyTotals{
		ActivePremium:   decimal.Zero,
		GrossCommission: decimal.Zero,
		Override:        decimal.Zero,
		UnpaidDebt:      decimal.Zero,
		NetCommission:   decimal.Zero,
		Agents:          make([]CommissionSummary, 0, len(book.Agents)),
	}
	for _, a := range book.Agents {
		sum := summarize(book, a)
		totals.ActivePremium = totals.ActivePremium.Add(sum.ActivePremium)
		totals.GrossCommission = totals.GrossCommission.Add(sum.GrossCommission)
		totals.Override = totals.Override.Add(sum.Override)
		totals.UnpaidDebt = totals.UnpaidDebt.Add(sum.UnpaidDebt)
		totals.NetCommission = totals.NetCommission.Add(sum.NetCommission)
		totals.Agents = append(totals.Agents, sum)
	}
	return totals
}

// Leaderboard ranks Active agents by active premium, then approved policies.
func Leaderboard(book Book) []LeaderboardEntry {
	entries := []LeaderboardEntry{}
	for _, a := range book.Agents {
		if a.Status != AgentActive {
			continue
		}
		sum := summarize(book, a)
		entries = append(entries, LeaderboardEntry{
			AgentID:       a.ID,
			AgentName:     a.Name,
			ActivePremium: sum.ActivePremium,
			ApprovedCount: sum.ApprovedCount,
			Policies:      sum.ActivePolicies,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].ActivePremium.Cmp(entries[j].ActivePremium); c != 0 {
			return c > 0
		}
		return entries[i].ApprovedCount > entries[j].ApprovedCount
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// RecommendAgent picks the Active agent with the lightest client load.
func RecommendAgent(book Book) (Agent, bool) {
	load := make(map[generic.ID]int)
	for _, c := range book.Clients {
		if c.AgentID != nil {
			load[*c.AgentID]++
		}
	}

	var (
		best  Agent
		found bool
	)
	for _, a := range book.Agents {
		if a.Status != AgentActive {
			continue
		}
		if !found || load[a.ID] < load[best.ID] {
			best, found = a, true
		}
	}
	return best, found
}

// =============================================================================
// SERVICE ACCESS
// =============================================================================

// LoadBook reads the collections the aggregator needs.
func (s *Service) LoadBook(ctx context.Context) (Book, error) {
	return loadBook(ctx, recordsOf(s.Store))
}

func loadBook(ctx context.Context, r records) (Book, error) {
	var (
		b   Book
		err error
	)
	if b.Agents, err = r.agents.List(ctx); err != nil {
		return b, err
	}
	if b.Clients, err = r.clients.List(ctx); err != nil {
		return b, err
	}
	if b.Policies, err = r.policies.List(ctx); err != nil {
		return b, err
	}
	if b.Chargebacks, err = r.chargebacks.List(ctx); err != nil {
		return b, err
	}
	return b, nil
}

// CommissionFor loads the book and summarizes one agent.
func (s *Service) CommissionFor(ctx context.Context, agentID generic.ID) (CommissionSummary, error) {
	book, err := s.LoadBook(ctx)
	if err != nil {
		return CommissionSummary{}, err
	}
	if _, err := recordsOf(s.Store).agents.Get(ctx, agentID); err != nil {
		return CommissionSummary{}, err
	}
	return AgentCommission(book, agentID), nil
}

// AgencyReport loads the book and totals the agency.
func (s *Service) AgencyReport(ctx context.Context) (AgencyTotals, error) {
	book, err := s.LoadBook(ctx)
	if err != nil {
		return AgencyTotals{}, err
	}
	return AgencyCommission(book), nil
}

// Leaderboard loads the book and ranks the agents.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	book, err := s.LoadBook(ctx)
	if err != nil {
		return nil, err
	}
	return Leaderboard(book), nil
}

// RecommendedAgent loads the book and picks an agent for a new client.
func (s *Service) RecommendedAgent(ctx context.Context) (Agent, error) {
	book, err := s.LoadBook(ctx)
	if err != nil {
		return Agent{}, err
	}
	agent, ok := RecommendAgent(book)
	if !ok {
		return Agent{}, &generic.NotFoundError{Collection: generic.Agents, ID: "active"}
	}
	return agent, nil
}
