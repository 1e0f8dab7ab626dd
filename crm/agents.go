package crm

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// AGENT ADMINISTRATION
// =============================================================================

func (s *Service) GetAgent(ctx context.Context, id generic.ID) (Agent, error) {
	return recordsOf(s.Store).agents.Get(ctx, id)
}

func (s *Service) ListAgents(ctx context.Context) ([]Agent, error) {
	return recordsOf(s.Store).agents.List(ctx)
}

// ApproveAgent activates a pending agent and tells them. Admin/Manager only.
func (s *Service) ApproveAgent(ctx context.Context, actor User, agentID generic.ID) (Agent, error) {
	if err := requireRole(actor, "approve agents", RoleAdmin, RoleManager); err != nil {
		return Agent{}, err
	}

	var agent Agent
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		var err error
		if agent, err = r.agents.Update(ctx, agentID, map[string]any{"status": AgentActive}); err != nil {
			return err
		}
		_, err = s.notify(ctx, r, agent.ID, NotifyAgentApproved,
			"Your agent account has been approved. Welcome aboard!", "/dashboard")
		return err
	})
	if err != nil {
		return Agent{}, err
	}

	s.Log.Info("agent approved",
		zap.String("agent_id", string(agentID)),
		zap.String("actor_id", string(actor.ID)))
	return agent, nil
}

// UpdateAgentStatus moves an agent to any valid status. Admin/Manager only.
func (s *Service) UpdateAgentStatus(ctx context.Context, actor User, agentID generic.ID, status AgentStatus) (Agent, error) {
	if err := requireRole(actor, "change agent status", RoleAdmin, RoleManager); err != nil {
		return Agent{}, err
	}
	if !status.Valid() {
		return Agent{}, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	var agent Agent
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		var err error
		if agent, err = r.agents.Update(ctx, agentID, map[string]any{"status": status}); err != nil {
			return err
		}
		_, err = s.notify(ctx, r, agent.ID, NotifyAgentStatusChanged,
			fmt.Sprintf("Your agent status is now %s", status), "/profile")
		return err
	})
	if err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// UpdateAgent edits an agent profile. Only Admin/Manager may edit profiles.
func (s *Service) UpdateAgent(ctx context.Context, actor User, agentID generic.ID, patch AgentPatch) (Agent, error) {
	if err := requireRole(actor, "edit agent profiles", RoleAdmin, RoleManager); err != nil {
		return Agent{}, err
	}
	if patch.CommissionRate != nil {
		if err := validateRate(*patch.CommissionRate); err != nil {
			return Agent{}, err
		}
	}
	return recordsOf(s.Store).agents.Update(ctx, agentID, patch)
}

// DeleteAgent unassigns the agent's clients, then removes the agent profile
// and its login record. Admin only.
func (s *Service) DeleteAgent(ctx context.Context, actor User, agentID generic.ID) error {
	if err := requireRole(actor, "delete agents", RoleAdmin); err != nil {
		return err
	}

	unassigned := 0
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		if _, err := r.agents.Get(ctx, agentID); err != nil {
			return err
		}

		owned, err := r.clients.Filter(ctx, func(c Client) bool { return c.AssignedTo(agentID) })
		if err != nil {
			return err
		}
		for _, c := range owned {
			next := UnassignClient(c)
			if _, err := r.clients.Update(ctx, c.ID, map[string]any{"agentId": next.AgentID}); err != nil {
				return err
			}
			unassigned++
		}

		if err := r.agents.Delete(ctx, agentID); err != nil {
			return err
		}
		err = r.users.Delete(ctx, agentID)
		if generic.IsNotFound(err) {
			s.Log.Warn("agent had no login record", zap.String("agent_id", string(agentID)))
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	s.Log.Info("agent deleted",
		zap.String("agent_id", string(agentID)),
		zap.Int("clients_unassigned", unassigned),
		zap.String("actor_id", string(actor.ID)))
	return nil
}

// =============================================================================
// CLIENT ASSIGNMENT
// =============================================================================

// AssignClient points clientID at agentID; the agent must exist.
func (s *Service) AssignClient(ctx context.Context, clientID, agentID generic.ID) (Client, error) {
	var client Client
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		if _, err := r.agents.Get(ctx, agentID); err != nil {
			return err
		}
		var err error
		client, err = r.clients.Update(ctx, clientID, map[string]any{"agentId": agentID})
		return err
	})
	return client, err
}

// AutoAssignClient assigns clientID to the recommended agent.
func (s *Service) AutoAssignClient(ctx context.Context, clientID generic.ID) (Client, error) {
	agent, err := s.RecommendedAgent(ctx)
	if err != nil {
		return Client{}, err
	}
	return s.AssignClient(ctx, clientID, agent.ID)
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return &generic.ValidationError{Field: "commissionRate", Message: "must be between 0 and 1"}
	}
	return nil
}
