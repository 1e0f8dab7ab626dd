package crm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
)

var (
	admin   = crm.User{ID: "admin", Role: crm.RoleAdmin}
	manager = crm.User{ID: "mgr", Role: crm.RoleManager}
)

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegister_AgentGetsPendingProfile(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	ctx := context.Background()

	u, err := svc.Register(ctx, crm.RegisterInput{
		Email:    " Sam@Agency.test ",
		Password: "correct-horse",
		Name:     "Sam Seller",
	})
	require.NoError(t, err)
	assert.Equal(t, "sam@agency.test", u.Email)
	assert.Equal(t, crm.RoleAgent, u.Role)
	assert.Equal(t, "Insurance Agent", u.Title)
	assert.Empty(t, u.PasswordHash)

	agent, err := generic.NewRepository[crm.Agent](st, generic.Agents).Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.AgentPending, agent.Status)
	assertMoney(t, "0.5", agent.CommissionRate)

	got, err := svc.Authenticate(ctx, "sam@agency.test", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestRegister_DuplicateEmail_Conflict(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	in := crm.RegisterInput{Email: "dup@agency.test", Password: "password1", Name: "Dup", Role: crm.RoleManager}

	_, err := svc.Register(ctx, in)
	require.NoError(t, err)

	_, err = svc.Register(ctx, in)
	require.ErrorIs(t, err, generic.ErrConflict)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")

	tests := map[string]crm.RegisterInput{
		"bad email":      {Email: "nope", Password: "password1", Name: "X"},
		"short password": {Email: "x@agency.test", Password: "short", Name: "X"},
		"missing name":   {Email: "x@agency.test", Password: "password1"},
		"unknown role":   {Email: "x@agency.test", Password: "password1", Name: "X", Role: "Janitor"},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestAuthenticate_WrongPassword_Unauthorized(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	_, err := svc.Register(ctx, crm.RegisterInput{Email: "a@agency.test", Password: "password1", Name: "A"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "a@agency.test", "password2")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "b@agency.test", "password1")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "Administrator", crm.TitleFor(crm.RoleAdmin))
	assert.Equal(t, "Agency Manager", crm.TitleFor(crm.RoleManager))
	assert.Equal(t, "Underwriter", crm.TitleFor(crm.RoleUnderwriting))
	assert.Equal(t, "Insurance Agent", crm.TitleFor(crm.RoleAgent))
	assert.Equal(t, "Team Member", crm.TitleFor("Intern"))
}

func TestChangeRole_UpdatesTitle(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	u, err := svc.Register(ctx, crm.RegisterInput{Email: "u@agency.test", Password: "password1", Name: "U", Role: crm.RoleUnderwriting})
	require.NoError(t, err)

	_, err = svc.ChangeRole(ctx, manager, u.ID, crm.RoleManager)
	require.ErrorIs(t, err, generic.ErrForbidden)

	changed, err := svc.ChangeRole(ctx, admin, u.ID, crm.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, crm.RoleManager, changed.Role)
	assert.Equal(t, "Agency Manager", changed.Title)
}

// =============================================================================
// AGENT ADMINISTRATION
// =============================================================================

func TestApproveAgent_ActivatesAndNotifies(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	seedAgent(t, st, "a1", "0.5", crm.AgentPending)
	ctx := context.Background()

	_, err := svc.ApproveAgent(ctx, crm.User{ID: "a2", Role: crm.RoleAgent}, "a1")
	require.ErrorIs(t, err, generic.ErrForbidden)

	agent, err := svc.ApproveAgent(ctx, manager, "a1")
	require.NoError(t, err)
	assert.Equal(t, crm.AgentActive, agent.Status)

	ns := listNotifications(t, st)
	require.Len(t, ns, 1)
	assert.Equal(t, crm.NotifyAgentApproved, ns[0].Type)
	assert.Equal(t, generic.ID("a1"), ns[0].UserID)
}

func TestUpdateAgentStatus_ValidatesStatus(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	seedAgent(t, st, "a1", "0.5", crm.AgentActive)
	ctx := context.Background()

	_, err := svc.UpdateAgentStatus(ctx, admin, "a1", "Retired")
	require.ErrorIs(t, err, generic.ErrValidation)

	agent, err := svc.UpdateAgentStatus(ctx, admin, "a1", crm.AgentInactive)
	require.NoError(t, err)
	assert.Equal(t, crm.AgentInactive, agent.Status)
	assert.Len(t, listNotifications(t, st), 1)
}

func TestUpdateAgent_OnlyAdminOrManager(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	seedAgent(t, st, "a1", "0.5", crm.AgentActive)
	ctx := context.Background()
	rate := money("0.65")

	_, err := svc.UpdateAgent(ctx, crm.User{ID: "a1", Role: crm.RoleAgent}, "a1", crm.AgentPatch{CommissionRate: &rate})
	require.ErrorIs(t, err, generic.ErrForbidden)

	tooHigh := money("1.5")
	_, err = svc.UpdateAgent(ctx, admin, "a1", crm.AgentPatch{CommissionRate: &tooHigh})
	require.ErrorIs(t, err, generic.ErrValidation)

	agent, err := svc.UpdateAgent(ctx, manager, "a1", crm.AgentPatch{CommissionRate: &rate, Bio: ptr("Top seller")})
	require.NoError(t, err)
	assertMoney(t, "0.65", agent.CommissionRate)
	assert.Equal(t, "Top seller", agent.Bio)
	assert.Equal(t, "Agent a1", agent.Name)
}

func TestDeleteAgent_UnassignsClientsAndRemovesLogin(t *testing.T) {
	// GIVEN: Registered agent owning two clients, plus a client of another agent
	// WHEN: Admin deletes the agent
	// THEN: Their clients become unassigned, agent and user records are gone

	for name, open := range map[string]func(*testing.T, string) (*crm.Service, generic.Store){
		"memory": newMemoryService,
		"sqlite": newSQLiteService,
	} {
		t.Run(name, func(t *testing.T) {
			svc, st := open(t, "2024-03-01")
			ctx := context.Background()

			u, err := svc.Register(ctx, crm.RegisterInput{Email: "gone@agency.test", Password: "password1", Name: "Gone"})
			require.NoError(t, err)
			seedAgent(t, st, "other", "0.5", crm.AgentActive)
			seedClient(t, st, "c1", generic.IDPtr(u.ID))
			seedClient(t, st, "c2", generic.IDPtr(u.ID))
			seedClient(t, st, "c3", generic.IDPtr("other"))

			require.ErrorIs(t, svc.DeleteAgent(ctx, manager, u.ID), generic.ErrForbidden)
			require.NoError(t, svc.DeleteAgent(ctx, admin, u.ID))

			clients, err := svc.ListClients(ctx)
			require.NoError(t, err)
			require.Len(t, clients, 3)
			assert.Nil(t, clients[0].AgentID)
			assert.Nil(t, clients[1].AgentID)
			require.NotNil(t, clients[2].AgentID)
			assert.Equal(t, generic.ID("other"), *clients[2].AgentID)

			_, err = svc.GetAgent(ctx, u.ID)
			assert.True(t, generic.IsNotFound(err))
			_, err = svc.GetUser(ctx, u.ID)
			assert.True(t, generic.IsNotFound(err))
		})
	}
}

func TestDeleteAgent_Missing_NotFound(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")

	err := svc.DeleteAgent(context.Background(), admin, "ghost")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// LEADS / ONBOARDING
// =============================================================================

func TestCreateLeadFromProfile(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	seedAgent(t, st, "a1", "0.5", crm.AgentActive)
	ctx := context.Background()

	lead, err := svc.CreateLeadFromProfile(ctx, "a1", crm.LeadInput{
		FirstName: "Pat",
		LastName:  "Prospect",
		Email:     "pat@example.com",
		Message:   "Looking for life cover",
	})
	require.NoError(t, err)
	assert.Equal(t, crm.ClientLead, lead.Status)
	require.NotNil(t, lead.AgentID)
	assert.Equal(t, generic.ID("a1"), *lead.AgentID)

	ns := listNotifications(t, st)
	require.Len(t, ns, 1)
	assert.Equal(t, crm.NotifyNewLead, ns[0].Type)
	assert.Equal(t, "New lead from your profile: Pat Prospect", ns[0].Message)

	_, err = svc.CreateLeadFromProfile(ctx, "ghost", crm.LeadInput{FirstName: "Pat", Email: "pat@example.com"})
	assert.True(t, generic.IsNotFound(err))

	_, err = svc.CreateLeadFromProfile(ctx, "a1", crm.LeadInput{FirstName: "Pat"})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSaveOnboardingData_UpsertsAndCompletes(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	u, err := svc.Register(ctx, crm.RegisterInput{Email: "new@agency.test", Password: "password1", Name: "New"})
	require.NoError(t, err)

	_, err = svc.SaveOnboardingData(ctx, u.ID, crm.OnboardingInput{
		Phone:         "555-0100",
		Bio:           "Ten years in life insurance",
		LicenseState:  "TX",
		LicenseNumber: "TX-123",
		LicenseExpiry: generic.MustParseDate("2026-01-01"),
	})
	require.NoError(t, err)

	rec, err := svc.SaveOnboardingData(ctx, u.ID, crm.OnboardingInput{Phone: "555-0199"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.ID)
	assert.Equal(t, "555-0199", rec.Phone)

	all, err := generic.NewRepository[crm.OnboardingRecord](st, generic.Onboarding).List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	agent, err := svc.GetAgent(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0199", agent.Phone)

	licenses, err := generic.NewRepository[crm.License](st, generic.Licenses).List(ctx)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, "TX-123", licenses[0].Number)

	user, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, user.OnboardingComplete)
}

// =============================================================================
// DAYS OFF
// =============================================================================

func TestToggleDayOff_MirrorsCalendarEvent(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	day := generic.MustParseDate("2024-03-15")
	events := generic.NewRepository[crm.CalendarEvent](st, generic.CalendarEvents)

	off, err := svc.ToggleDayOff(ctx, "u1", day)
	require.NoError(t, err)
	assert.True(t, off)

	dayOffs, err := svc.ListDayOffs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, dayOffs, 1)

	evs, err := events.List(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].AllDay)
	assert.Equal(t, crm.DayOffSource, evs[0].Source)
	require.NotNil(t, evs[0].DayOffID)
	assert.Equal(t, dayOffs[0].ID, *evs[0].DayOffID)

	off, err = svc.ToggleDayOff(ctx, "u1", day)
	require.NoError(t, err)
	assert.False(t, off)

	dayOffs, err = svc.ListDayOffs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, dayOffs)
	evs, err = events.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestBatchDayOff_Idempotent(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	dates := []generic.Date{
		generic.MustParseDate("2024-04-01"),
		generic.MustParseDate("2024-04-02"),
	}

	_, err := svc.ToggleDayOff(ctx, "u1", dates[0])
	require.NoError(t, err)

	changed, err := svc.BatchDayOff(ctx, "u1", dates, true)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = svc.BatchDayOff(ctx, "u1", dates, true)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	changed, err = svc.BatchDayOff(ctx, "u1", dates, false)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
}

// =============================================================================
// TASKS / NOTIFICATIONS
// =============================================================================

func TestToggleTask(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()
	agent := crm.User{ID: "a1", Role: crm.RoleAgent}

	task, err := svc.CreateTask(ctx, agent, crm.Task{Title: "Call back", DueDate: generic.MustParseDate("2024-03-02")})
	require.NoError(t, err)
	require.NotNil(t, task.AgentID)
	assert.Equal(t, generic.ID("a1"), *task.AgentID)

	task, err = svc.ToggleTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, task.Completed)

	task, err = svc.ToggleTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, task.Completed)

	require.NoError(t, svc.DeleteTask(ctx, task.ID))
	_, err = svc.ToggleTask(ctx, task.ID)
	assert.True(t, generic.IsNotFound(err))
}

func TestMarkNotifications(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")
	ctx := context.Background()

	n1, err := svc.Notify(ctx, "u1", crm.NotifyBroadcast, "one", "")
	require.NoError(t, err)
	_, err = svc.Notify(ctx, "u1", crm.NotifyBroadcast, "two", "")
	require.NoError(t, err)
	other, err := svc.Notify(ctx, "u2", crm.NotifyBroadcast, "three", "")
	require.NoError(t, err)

	_, err = svc.MarkNotificationRead(ctx, "u1", other.ID)
	assert.True(t, generic.IsNotFound(err))

	read, err := svc.MarkNotificationRead(ctx, "u1", n1.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	marked, err := svc.MarkAllNotificationsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	mine, err := svc.ListNotifications(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.False(t, mine[0].IsRead)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func TestGetAllData_AgentSeesOwnBook(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	ctx := context.Background()
	seedAgent(t, st, "a1", "0.5", crm.AgentActive)
	seedAgent(t, st, "a2", "0.5", crm.AgentActive)
	seedClient(t, st, "c1", generic.IDPtr("a1"))
	seedClient(t, st, "c2", generic.IDPtr("a2"))
	seedPolicy(t, st, activePolicy("p1", "c1", crm.PolicyLife, "1200", crm.UnderwritingApproved))
	seedPolicy(t, st, activePolicy("p2", "c2", crm.PolicyLife, "2400", crm.UnderwritingApproved))
	_, err := svc.Notify(ctx, "a1", crm.NotifyBroadcast, "for a1", "")
	require.NoError(t, err)
	_, err = svc.Notify(ctx, "a2", crm.NotifyBroadcast, "for a2", "")
	require.NoError(t, err)
	_, err = svc.ToggleDayOff(ctx, "a2", generic.MustParseDate("2024-07-01"))
	require.NoError(t, err)

	snap, err := svc.GetAllData(ctx, crm.User{ID: "a1", Role: crm.RoleAgent})
	require.NoError(t, err)

	require.Len(t, snap.Clients, 1)
	assert.Equal(t, generic.ID("c1"), snap.Clients[0].ID)
	require.Len(t, snap.Policies, 1)
	assert.Equal(t, generic.ID("p1"), snap.Policies[0].ID)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "for a1", snap.Notifications[0].Message)
	assert.Empty(t, snap.DayOffs)
	assert.Empty(t, snap.CalendarEvents)
	assert.Len(t, snap.Agents, 2)
	require.NotNil(t, snap.Commission)
	assertMoney(t, "600", snap.Commission.GrossCommission)
	assert.Nil(t, snap.Agency)

	full, err := svc.GetAllData(ctx, crm.User{ID: "uw", Role: crm.RoleUnderwriting})
	require.NoError(t, err)
	assert.Len(t, full.Clients, 2)
	assert.Len(t, full.Policies, 2)
	assert.Len(t, full.DayOffs, 1)
	assert.Empty(t, full.Notifications)
	require.NotNil(t, full.Agency)
	assertMoney(t, "1800", full.Agency.GrossCommission)
}

func TestCreateTask_AssignedByManager_Notifies(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")

	task, err := svc.CreateTask(context.Background(), manager, crm.Task{
		Title:   "Renewal call",
		AgentID: generic.IDPtr("a1"),
	})
	require.NoError(t, err)
	assert.False(t, task.Completed)

	ns := listNotifications(t, st)
	require.Len(t, ns, 1)
	assert.Equal(t, crm.NotifyTaskAssigned, ns[0].Type)
	assert.Equal(t, generic.ID("a1"), ns[0].UserID)
}
