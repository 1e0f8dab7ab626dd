package crm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// SERVICE - Entry point for every agency operation
// =============================================================================

// Service runs agency operations against an injected record store.
// Multi-record operations run inside generic.RunInTx.
type Service struct {
	Store generic.Store
	Log   *zap.Logger
	Clock func() time.Time

	// BcryptCost is used when hashing passwords on registration.
	BcryptCost int
}

func NewService(store generic.Store, log *zap.Logger) *Service {
	return &Service{
		Store:      store,
		Log:        log,
		Clock:      time.Now,
		BcryptCost: defaultBcryptCost,
	}
}

func (s *Service) now() time.Time { return s.Clock().UTC() }

func (s *Service) today() generic.Date { return generic.DateOf(s.now()) }

// records is the set of typed repositories bound to one Store (or transaction).
type records struct {
	users          generic.Repository[User]
	agents         generic.Repository[Agent]
	clients        generic.Repository[Client]
	policies       generic.Repository[Policy]
	interactions   generic.Repository[Interaction]
	tasks          generic.Repository[Task]
	notifications  generic.Repository[Notification]
	chargebacks    generic.Repository[Chargeback]
	licenses       generic.Repository[License]
	testimonials   generic.Repository[Testimonial]
	calendarNotes  generic.Repository[CalendarNote]
	calendarEvents generic.Repository[CalendarEvent]
	dayOffs        generic.Repository[DayOff]
	onboarding     generic.Repository[OnboardingRecord]
}

func recordsOf(st generic.Store) records {
	return records{
		users:          generic.NewRepository[User](st, generic.Users),
		agents:         generic.NewRepository[Agent](st, generic.Agents),
		clients:        generic.NewRepository[Client](st, generic.Clients),
		policies:       generic.NewRepository[Policy](st, generic.Policies),
		interactions:   generic.NewRepository[Interaction](st, generic.Interactions),
		tasks:          generic.NewRepository[Task](st, generic.Tasks),
		notifications:  generic.NewRepository[Notification](st, generic.Notifications),
		chargebacks:    generic.NewRepository[Chargeback](st, generic.Chargebacks),
		licenses:       generic.NewRepository[License](st, generic.Licenses),
		testimonials:   generic.NewRepository[Testimonial](st, generic.Testimonials),
		calendarNotes:  generic.NewRepository[CalendarNote](st, generic.CalendarNotes),
		calendarEvents: generic.NewRepository[CalendarEvent](st, generic.CalendarEvents),
		dayOffs:        generic.NewRepository[DayOff](st, generic.DayOffs),
		onboarding:     generic.NewRepository[OnboardingRecord](st, generic.Onboarding),
	}
}

// =============================================================================
// OWNERSHIP LOOKUPS - Missing links are not errors
// =============================================================================

// agentForClient resolves the agent owning clientID. ok is false when the
// client, its assignment or the agent is missing; err is only set for store failures.
func (s *Service) agentForClient(ctx context.Context, r records, clientID generic.ID) (Client, Agent, bool, error) {
	client, err := r.clients.Get(ctx, clientID)
	if generic.IsNotFound(err) {
		s.Log.Debug("client missing, skipping side effect", zap.String("client_id", string(clientID)))
		return Client{}, Agent{}, false, nil
	}
	if err != nil {
		return Client{}, Agent{}, false, err
	}
	if client.AgentID == nil {
		s.Log.Debug("client unassigned, skipping side effect", zap.String("client_id", string(clientID)))
		return client, Agent{}, false, nil
	}

	agent, err := r.agents.Get(ctx, *client.AgentID)
	if generic.IsNotFound(err) {
		s.Log.Debug("agent missing, skipping side effect",
			zap.String("client_id", string(clientID)),
			zap.String("agent_id", string(*client.AgentID)))
		return client, Agent{}, false, nil
	}
	if err != nil {
		return client, Agent{}, false, err
	}
	return client, agent, true, nil
}

// notify appends a notification for userID.
func (s *Service) notify(ctx context.Context, r records, userID generic.ID, kind NotificationType, message, link string) (Notification, error) {
	n, err := r.notifications.Create(ctx, Notification{
		UserID:    userID,
		Type:      kind,
		Message:   message,
		Timestamp: s.now(),
		Link:      link,
	})
	if err != nil {
		return Notification{}, err
	}
	s.Log.Debug("notification created",
		zap.String("user_id", string(userID)),
		zap.String("type", string(kind)))
	return n, nil
}

// Notify appends a notification outside any other operation.
func (s *Service) Notify(ctx context.Context, userID generic.ID, kind NotificationType, message, link string) (Notification, error) {
	return s.notify(ctx, recordsOf(s.Store), userID, kind, message, link)
}

// requireRole returns a ForbiddenError unless actor has one of roles.
func requireRole(actor User, action string, roles ...Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return &generic.ForbiddenError{Role: string(actor.Role), Action: action}
}
