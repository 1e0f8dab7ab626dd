/*
lifecycle.go - Policy lifecycle rules

PURPOSE:
  Reacts to policy creation and updates by producing follow-up tasks,
  underwriting notifications and chargebacks.

RULES (UpdatePolicy):
  1. The original policy must exist (NotFound otherwise).
  2. A changed underwritingStatus notifies the client's agent with
     UNDERWRITING_REVIEWED and suppresses the follow-up task.
  3. A transition into Cancelled within a year of the start date claws back
     the unearned commission: a Chargeback plus CHARGEBACK_ISSUED.
  4. Any other update schedules a 3-day follow-up task for the agent.
  5. The patch is applied and the updated policy returned.

  Missing client, unassigned client or missing agent skips the side effect.
  Everything runs in one store transaction: either every record is written
  or none is.

CHARGEBACK FORMULA:
  monthsPaid       = whole months from startDate to the cancellation date
  monthsToClawback = max(0, 12 - monthsPaid)
  debtAmount       = monthlyPremium * commissionRate * monthsToClawback

  Only when cancellationDate < startDate + 1 year and monthsToClawback > 0.
  The debt is computed from the policy as it stood before the patch and is
  never recomputed.

SEE ALSO:
  - commission.go: Unpaid chargebacks reduce net commission
*/
package crm

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

const (
	// FollowUpDays is how far out automatic follow-up tasks are due.
	FollowUpDays = 3

	// ClawbackMonths is the window in which a cancellation claws back commission.
	ClawbackMonths = 12
)

// =============================================================================
// CHARGEBACK COMPUTATION
// =============================================================================

// ComputeChargeback derives the chargeback for cancelling policy on cancelledOn.
// ok is false when no chargeback is owed.
func ComputeChargeback(policy Policy, agent Agent, cancelledOn generic.Date) (Chargeback, bool) {
	oneYearLater := policy.StartDate.AddYears(1)
	if !cancelledOn.Before(oneYearLater) {
		return Chargeback{}, false
	}

	monthsPaid := generic.MonthsBetween(policy.StartDate, cancelledOn)
	monthsToClawback := ClawbackMonths - monthsPaid
	if monthsToClawback <= 0 {
		return Chargeback{}, false
	}

	debt := policy.MonthlyPremium.
		Mul(agent.CommissionRate).
		Mul(decimal.NewFromInt(int64(monthsToClawback)))
	if debt.IsNegative() {
		debt = decimal.Zero
	}

	return Chargeback{
		AgentID:          agent.ID,
		ClientID:         policy.ClientID,
		PolicyID:         policy.ID,
		PolicyStartDate:  policy.StartDate,
		CancellationDate: cancelledOn,
		MonthsPaid:       monthsPaid,
		MonthlyPremium:   policy.MonthlyPremium,
		DebtAmount:       debt,
		Status:           ChargebackUnpaid,
	}, true
}

// =============================================================================
// CREATE / UPDATE
// =============================================================================

// CreatePolicy stores the policy and schedules a follow-up for the client's agent.
func (s *Service) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if err := validatePolicy(p); err != nil {
		return Policy{}, err
	}
	if p.Status == "" {
		p.Status = PolicyActive
	}
	if p.UnderwritingStatus == "" {
		p.UnderwritingStatus = UnderwritingPending
	}

	var created Policy
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		var err error
		if created, err = r.policies.Create(ctx, p); err != nil {
			return err
		}
		return s.scheduleFollowUp(ctx, r, created)
	})
	if err != nil {
		return Policy{}, err
	}

	s.Log.Info("policy created",
		zap.String("policy_id", string(created.ID)),
		zap.String("client_id", string(created.ClientID)))
	return created, nil
}

// UpdatePolicy applies patch and derives notifications, chargebacks and tasks.
func (s *Service) UpdatePolicy(ctx context.Context, id generic.ID, patch PolicyPatch) (Policy, error) {
	if err := validatePolicyPatch(patch); err != nil {
		return Policy{}, err
	}

	var updated Policy
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)

		original, err := r.policies.Get(ctx, id)
		if err != nil {
			return err
		}
		if original.Status == PolicyCancelled && patch.Status != nil && *patch.Status != PolicyCancelled {
			return &generic.ValidationError{Field: "status", Message: "a cancelled policy cannot be reinstated"}
		}

		underwritingChanged := patch.UnderwritingStatus != nil && *patch.UnderwritingStatus != original.UnderwritingStatus
		cancelled := patch.Status != nil && *patch.Status == PolicyCancelled && original.Status != PolicyCancelled

		if updated, err = r.policies.Update(ctx, id, patch); err != nil {
			return err
		}

		if underwritingChanged {
			if err := s.notifyUnderwriting(ctx, r, updated); err != nil {
				return err
			}
		}
		if cancelled {
			if err := s.issueChargeback(ctx, r, original); err != nil {
				return err
			}
		}
		if !underwritingChanged {
			return s.scheduleFollowUp(ctx, r, updated)
		}
		return nil
	})
	if err != nil {
		return Policy{}, err
	}

	s.Log.Info("policy updated", zap.String("policy_id", string(id)))
	return updated, nil
}

func (s *Service) GetPolicy(ctx context.Context, id generic.ID) (Policy, error) {
	return recordsOf(s.Store).policies.Get(ctx, id)
}

func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return recordsOf(s.Store).policies.List(ctx)
}

func (s *Service) DeletePolicy(ctx context.Context, id generic.ID) error {
	return recordsOf(s.Store).policies.Delete(ctx, id)
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

func (s *Service) scheduleFollowUp(ctx context.Context, r records, p Policy) error {
	client, agent, ok, err := s.agentForClient(ctx, r, p.ClientID)
	if err != nil || !ok {
		return err
	}
	_, err = r.tasks.Create(ctx, Task{
		Title:     fmt.Sprintf("Follow up with %s on policy %s", client.Name(), p.PolicyNumber),
		DueDate:   s.today().AddDays(FollowUpDays),
		ClientID:  generic.IDPtr(client.ID),
		AgentID:   generic.IDPtr(agent.ID),
		CreatedAt: s.now(),
	})
	return err
}

func (s *Service) notifyUnderwriting(ctx context.Context, r records, p Policy) error {
	_, agent, ok, err := s.agentForClient(ctx, r, p.ClientID)
	if err != nil || !ok {
		return err
	}
	_, err = s.notify(ctx, r, agent.ID, NotifyUnderwritingReviewed,
		fmt.Sprintf("Policy %s underwriting status updated to %s", p.PolicyNumber, p.UnderwritingStatus),
		"/clients/"+string(p.ClientID))
	return err
}

// issueChargeback records the clawback for cancelling original today.
func (s *Service) issueChargeback(ctx context.Context, r records, original Policy) error {
	_, agent, ok, err := s.agentForClient(ctx, r, original.ClientID)
	if err != nil || !ok {
		return err
	}

	cb, owed := ComputeChargeback(original, agent, s.today())
	if !owed {
		s.Log.Debug("cancellation outside clawback window",
			zap.String("policy_id", string(original.ID)))
		return nil
	}
	cb.CreatedAt = s.now()
	if cb, err = r.chargebacks.Create(ctx, cb); err != nil {
		return err
	}

	_, err = s.notify(ctx, r, agent.ID, NotifyChargebackIssued,
		fmt.Sprintf("Policy %s was cancelled after %d months. A chargeback of %s has been issued.",
			original.PolicyNumber, cb.MonthsPaid, generic.FormatUSD(cb.DebtAmount)),
		"/chargebacks")
	if err != nil {
		return err
	}

	s.Log.Info("chargeback issued",
		zap.String("chargeback_id", string(cb.ID)),
		zap.String("agent_id", string(agent.ID)),
		zap.String("debt", cb.DebtAmount.StringFixed(2)))
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validatePolicy(p Policy) error {
	if p.ClientID == "" {
		return &generic.ValidationError{Field: "clientId", Message: "is required"}
	}
	if p.PolicyNumber == "" {
		return &generic.ValidationError{Field: "policyNumber", Message: "is required"}
	}
	if p.StartDate.IsZero() {
		return &generic.ValidationError{Field: "startDate", Message: "is required"}
	}
	if p.Status != "" && !p.Status.Valid() {
		return &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", p.Status)}
	}
	if p.UnderwritingStatus != "" && !p.UnderwritingStatus.Valid() {
		return &generic.ValidationError{Field: "underwritingStatus", Message: fmt.Sprintf("unknown status %q", p.UnderwritingStatus)}
	}
	if p.MonthlyPremium.IsNegative() || p.AnnualPremium.IsNegative() {
		return &generic.ValidationError{Field: "premium", Message: "must not be negative"}
	}
	return nil
}

func validatePolicyPatch(p PolicyPatch) error {
	if p.Status != nil && !p.Status.Valid() {
		return &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	if p.UnderwritingStatus != nil && !p.UnderwritingStatus.Valid() {
		return &generic.ValidationError{Field: "underwritingStatus", Message: fmt.Sprintf("unknown status %q", *p.UnderwritingStatus)}
	}
	if (p.MonthlyPremium != nil && p.MonthlyPremium.IsNegative()) || (p.AnnualPremium != nil && p.AnnualPremium.IsNegative()) {
		return &generic.ValidationError{Field: "premium", Message: "must not be negative"}
	}
	return nil
}
