package crm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// LEADS
// =============================================================================

// LeadInput is what a prospect submits from an agent's public profile.
type LeadInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
}

// CreateLeadFromProfile files a Lead client under agentID and notifies the agent.
func (s *Service) CreateLeadFromProfile(ctx context.Context, agentID generic.ID, in LeadInput) (Client, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return Client{}, &generic.ValidationError{Field: "firstName", Message: "is required"}
	}
	if strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.Phone) == "" {
		return Client{}, &generic.ValidationError{Field: "email", Message: "an email or phone number is required"}
	}

	var lead Client
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		agent, err := r.agents.Get(ctx, agentID)
		if err != nil {
			return err
		}

		lead, err = r.clients.Create(ctx, Client{
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Email:     strings.TrimSpace(in.Email),
			Phone:     strings.TrimSpace(in.Phone),
			Status:    ClientLead,
			AgentID:   generic.IDPtr(agent.ID),
			Source:    "profile",
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}

		if in.Message != "" {
			_, err = r.interactions.Create(ctx, Interaction{
				ClientID: lead.ID,
				AgentID:  generic.IDPtr(agent.ID),
				Type:     "Web Inquiry",
				Notes:    in.Message,
				Date:     s.today(),
			})
			if err != nil {
				return err
			}
		}

		_, err = s.notify(ctx, r, agent.ID, NotifyNewLead,
			fmt.Sprintf("New lead from your profile: %s", lead.Name()),
			"/clients/"+string(lead.ID))
		return err
	})
	if err != nil {
		return Client{}, err
	}

	s.Log.Info("lead created",
		zap.String("client_id", string(lead.ID)),
		zap.String("agent_id", string(agentID)))
	return lead, nil
}

// =============================================================================
// ONBOARDING
// =============================================================================

type OnboardingInput struct {
	Phone         string       `json:"phone"`
	Bio           string       `json:"bio"`
	LicenseState  string       `json:"licenseState"`
	LicenseNumber string       `json:"licenseNumber"`
	LicenseExpiry generic.Date `json:"licenseExpiry"`
	Carriers      []string     `json:"carriers"`
}

// SaveOnboardingData stores the user's onboarding answers, copies the profile
// fields onto their agent record and marks onboarding complete.
func (s *Service) SaveOnboardingData(ctx context.Context, userID generic.ID, in OnboardingInput) (OnboardingRecord, error) {
	if in.LicenseNumber != "" && in.LicenseState == "" {
		return OnboardingRecord{}, &generic.ValidationError{Field: "licenseState", Message: "is required with a license number"}
	}

	var saved OnboardingRecord
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		if _, err := r.users.Get(ctx, userID); err != nil {
			return err
		}

		rec := OnboardingRecord{
			ID:            userID,
			UserID:        userID,
			Phone:         in.Phone,
			Bio:           in.Bio,
			LicenseState:  in.LicenseState,
			LicenseNumber: in.LicenseNumber,
			Carriers:      in.Carriers,
			CompletedAt:   s.now(),
		}
		var err error
		if _, getErr := r.onboarding.Get(ctx, userID); generic.IsNotFound(getErr) {
			saved, err = r.onboarding.Create(ctx, rec)
		} else if getErr != nil {
			return getErr
		} else {
			saved, err = r.onboarding.Update(ctx, userID, rec)
		}
		if err != nil {
			return err
		}

		_, err = r.agents.Update(ctx, userID, AgentPatch{Phone: &in.Phone, Bio: &in.Bio})
		switch {
		case generic.IsNotFound(err):
			s.Log.Debug("onboarding user has no agent profile", zap.String("user_id", string(userID)))
		case err != nil:
			return err
		case in.LicenseNumber != "":
			_, err = r.licenses.Create(ctx, License{
				AgentID:   userID,
				State:     in.LicenseState,
				Number:    in.LicenseNumber,
				ExpiresOn: in.LicenseExpiry,
			})
			if err != nil {
				return err
			}
		}

		_, err = r.users.Update(ctx, userID, map[string]any{"onboardingComplete": true})
		return err
	})
	if err != nil {
		return OnboardingRecord{}, err
	}
	return saved, nil
}
