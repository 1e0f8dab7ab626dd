package crm_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
	"github.com/warp/agency-crm/generic/store"
	"github.com/warp/agency-crm/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T, st generic.Store, today string) *crm.Service {
	t.Helper()
	clock := generic.MustParseDate(today).Time.Add(10 * time.Hour)
	svc := crm.NewService(st, zap.NewNop())
	svc.Clock = func() time.Time { return clock }
	svc.BcryptCost = bcrypt.MinCost
	return svc
}

func newMemoryService(t *testing.T, today string) (*crm.Service, generic.Store) {
	st := store.NewMemory()
	return newTestService(t, st, today), st
}

func newSQLiteService(t *testing.T, today string) (*crm.Service, generic.Store) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return newTestService(t, st, today), st
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func seedAgent(t *testing.T, st generic.Store, id generic.ID, rate string, status crm.AgentStatus) crm.Agent {
	t.Helper()
	a, err := generic.NewRepository[crm.Agent](st, generic.Agents).Create(context.Background(), crm.Agent{
		ID:             id,
		Name:           "Agent " + string(id),
		Email:          string(id) + "@agency.test",
		CommissionRate: money(rate),
		Status:         status,
	})
	require.NoError(t, err)
	return a
}

func seedClient(t *testing.T, st generic.Store, id generic.ID, agentID *generic.ID) crm.Client {
	t.Helper()
	c, err := generic.NewRepository[crm.Client](st, generic.Clients).Create(context.Background(), crm.Client{
		ID:        id,
		FirstName: "Jane",
		LastName:  "Doe " + string(id),
		Status:    crm.ClientActive,
		AgentID:   agentID,
	})
	require.NoError(t, err)
	return c
}

func seedPolicy(t *testing.T, st generic.Store, p crm.Policy) crm.Policy {
	t.Helper()
	if p.Status == "" {
		p.Status = crm.PolicyActive
	}
	if p.UnderwritingStatus == "" {
		p.UnderwritingStatus = crm.UnderwritingPending
	}
	created, err := generic.NewRepository[crm.Policy](st, generic.Policies).Create(context.Background(), p)
	require.NoError(t, err)
	return created
}

func listTasks(t *testing.T, st generic.Store) []crm.Task {
	t.Helper()
	tasks, err := generic.NewRepository[crm.Task](st, generic.Tasks).List(context.Background())
	require.NoError(t, err)
	return tasks
}

func listNotifications(t *testing.T, st generic.Store) []crm.Notification {
	t.Helper()
	ns, err := generic.NewRepository[crm.Notification](st, generic.Notifications).List(context.Background())
	require.NoError(t, err)
	return ns
}

func listChargebacks(t *testing.T, st generic.Store) []crm.Chargeback {
	t.Helper()
	cbs, err := generic.NewRepository[crm.Chargeback](st, generic.Chargebacks).List(context.Background())
	require.NoError(t, err)
	return cbs
}

func ptr[T any](v T) *T { return &v }

// standardBook seeds agent a1 (rate 0.8), client c1 owned by a1 and an active
// policy p1 started 2024-01-15 at 100/month.
func standardBook(t *testing.T, st generic.Store) crm.Policy {
	seedAgent(t, st, "a1", "0.8", crm.AgentActive)
	seedClient(t, st, "c1", generic.IDPtr("a1"))
	return seedPolicy(t, st, crm.Policy{
		ID:             "p1",
		ClientID:       "c1",
		PolicyNumber:   "POL-001",
		Type:           crm.PolicyLife,
		MonthlyPremium: money("100"),
		AnnualPremium:  money("1200"),
		StartDate:      generic.MustParseDate("2024-01-15"),
	})
}

// =============================================================================
// CHARGEBACK COMPUTATION
// =============================================================================

func TestComputeChargeback_Windows(t *testing.T) {
	policy := crm.Policy{
		ID:             "p1",
		ClientID:       "c1",
		MonthlyPremium: money("100"),
		StartDate:      generic.MustParseDate("2024-01-15"),
	}
	agent := crm.Agent{ID: "a1", CommissionRate: money("0.8")}

	tests := []struct {
		name       string
		cancelled  string
		owed       bool
		monthsPaid int
		debt       string
	}{
		{"five months in", "2024-06-20", true, 5, "560"},
		{"day before monthly anniversary", "2024-06-14", true, 4, "640"},
		{"same day as start", "2024-01-15", true, 0, "960"},
		{"last month of the first year", "2024-12-20", true, 11, "80"},
		{"day before first anniversary", "2025-01-14", true, 11, "80"},
		{"exactly one year", "2025-01-15", false, 0, ""},
		{"well after a year", "2026-03-01", false, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, owed := crm.ComputeChargeback(policy, agent, generic.MustParseDate(tt.cancelled))
			require.Equal(t, tt.owed, owed)
			if !owed {
				return
			}
			assert.Equal(t, tt.monthsPaid, cb.MonthsPaid)
			assertMoney(t, tt.debt, cb.DebtAmount)
			assert.Equal(t, crm.ChargebackUnpaid, cb.Status)
			assert.Equal(t, generic.ID("a1"), cb.AgentID)
			assert.Equal(t, generic.ID("p1"), cb.PolicyID)
		})
	}
}

// =============================================================================
// UPDATE POLICY
// =============================================================================

func TestUpdatePolicy_CancellationIssuesChargeback(t *testing.T) {
	// GIVEN: Policy started 2024-01-15, agent rate 0.8, monthly premium 100
	// WHEN: Cancelled on 2024-06-20
	// THEN: A 560 chargeback after 5 months, a notification and a follow-up task

	for name, open := range map[string]func(*testing.T, string) (*crm.Service, generic.Store){
		"memory": newMemoryService,
		"sqlite": newSQLiteService,
	} {
		t.Run(name, func(t *testing.T) {
			svc, st := open(t, "2024-06-20")
			standardBook(t, st)
			ctx := context.Background()

			updated, err := svc.UpdatePolicy(ctx, "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
			require.NoError(t, err)
			assert.Equal(t, crm.PolicyCancelled, updated.Status)

			cbs := listChargebacks(t, st)
			require.Len(t, cbs, 1)
			assert.Equal(t, 5, cbs[0].MonthsPaid)
			assertMoney(t, "560", cbs[0].DebtAmount)
			assert.Equal(t, "2024-06-20", cbs[0].CancellationDate.String())

			ns := listNotifications(t, st)
			require.Len(t, ns, 1)
			assert.Equal(t, crm.NotifyChargebackIssued, ns[0].Type)
			assert.Equal(t, generic.ID("a1"), ns[0].UserID)
			assert.Equal(t, "Policy POL-001 was cancelled after 5 months. A chargeback of $560.00 has been issued.", ns[0].Message)

			tasks := listTasks(t, st)
			require.Len(t, tasks, 1)
			assert.Equal(t, "Follow up with Jane Doe c1 on policy POL-001", tasks[0].Title)
			assert.Equal(t, "2024-06-23", tasks[0].DueDate.String())
		})
	}
}

func TestUpdatePolicy_CancellationAfterOneYear_NoChargeback(t *testing.T) {
	svc, st := newMemoryService(t, "2025-01-15")
	standardBook(t, st)

	_, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	require.NoError(t, err)

	assert.Empty(t, listChargebacks(t, st))
	assert.Empty(t, listNotifications(t, st))
	assert.Len(t, listTasks(t, st), 1)
}

func TestUpdatePolicy_UnderwritingChange_NotifiesWithoutTask(t *testing.T) {
	// GIVEN: A pending policy
	// WHEN: Underwriting approves it
	// THEN: One UNDERWRITING_REVIEWED notification and no follow-up task

	svc, st := newMemoryService(t, "2024-03-01")
	standardBook(t, st)

	_, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{
		UnderwritingStatus: ptr(crm.UnderwritingApproved),
	})
	require.NoError(t, err)

	ns := listNotifications(t, st)
	require.Len(t, ns, 1)
	assert.Equal(t, crm.NotifyUnderwritingReviewed, ns[0].Type)
	assert.Equal(t, "Policy POL-001 underwriting status updated to Approved", ns[0].Message)
	assert.Equal(t, "/clients/c1", ns[0].Link)
	assert.Empty(t, listTasks(t, st))
}

func TestUpdatePolicy_SameUnderwritingStatus_SchedulesTask(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	standardBook(t, st)

	_, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{
		UnderwritingStatus: ptr(crm.UnderwritingPending),
	})
	require.NoError(t, err)

	assert.Empty(t, listNotifications(t, st))
	assert.Len(t, listTasks(t, st), 1)
}

func TestUpdatePolicy_UnderwritingAndCancellation_BothSideEffectsNoTask(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	standardBook(t, st)

	_, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{
		Status:             ptr(crm.PolicyCancelled),
		UnderwritingStatus: ptr(crm.UnderwritingRejected),
	})
	require.NoError(t, err)

	assert.Len(t, listNotifications(t, st), 2)
	assert.Len(t, listChargebacks(t, st), 1)
	assert.Empty(t, listTasks(t, st))
}

func TestUpdatePolicy_AlreadyCancelled_NoSecondChargeback(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	standardBook(t, st)
	ctx := context.Background()

	_, err := svc.UpdatePolicy(ctx, "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	require.NoError(t, err)
	_, err = svc.UpdatePolicy(ctx, "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	require.NoError(t, err)

	assert.Len(t, listChargebacks(t, st), 1)
}

func TestUpdatePolicy_ReinstateCancelled_Rejected(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	standardBook(t, st)
	ctx := context.Background()

	_, err := svc.UpdatePolicy(ctx, "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	require.NoError(t, err)

	_, err = svc.UpdatePolicy(ctx, "p1", crm.PolicyPatch{Status: ptr(crm.PolicyActive)})
	require.ErrorIs(t, err, generic.ErrValidation)
}

func TestUpdatePolicy_UnassignedClient_SkipsSideEffects(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	seedClient(t, st, "c1", nil)
	seedPolicy(t, st, crm.Policy{
		ID:             "p1",
		ClientID:       "c1",
		PolicyNumber:   "POL-001",
		MonthlyPremium: money("100"),
		StartDate:      generic.MustParseDate("2024-01-15"),
	})

	updated, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	require.NoError(t, err)
	assert.Equal(t, crm.PolicyCancelled, updated.Status)

	assert.Empty(t, listChargebacks(t, st))
	assert.Empty(t, listNotifications(t, st))
	assert.Empty(t, listTasks(t, st))
}

func TestUpdatePolicy_MissingPolicy_NotFound(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-06-20")

	_, err := svc.UpdatePolicy(context.Background(), "nope", crm.PolicyPatch{Status: ptr(crm.PolicyCancelled)})
	assert.True(t, generic.IsNotFound(err))
}

func TestUpdatePolicy_InvalidStatus_Rejected(t *testing.T) {
	svc, st := newMemoryService(t, "2024-06-20")
	standardBook(t, st)

	_, err := svc.UpdatePolicy(context.Background(), "p1", crm.PolicyPatch{Status: ptr(crm.PolicyStatus("Lapsed"))})
	require.ErrorIs(t, err, generic.ErrValidation)

	p, err := svc.GetPolicy(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, crm.PolicyActive, p.Status)
}

// =============================================================================
// CREATE POLICY
// =============================================================================

func TestCreatePolicy_DefaultsAndFollowUp(t *testing.T) {
	svc, st := newMemoryService(t, "2024-03-01")
	seedAgent(t, st, "a1", "0.5", crm.AgentActive)
	seedClient(t, st, "c1", generic.IDPtr("a1"))

	p, err := svc.CreatePolicy(context.Background(), crm.Policy{
		ClientID:       "c1",
		PolicyNumber:   "POL-9",
		Type:           crm.PolicyAuto,
		MonthlyPremium: money("50"),
		AnnualPremium:  money("600"),
		StartDate:      generic.MustParseDate("2024-03-01"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, crm.PolicyActive, p.Status)
	assert.Equal(t, crm.UnderwritingPending, p.UnderwritingStatus)

	tasks := listTasks(t, st)
	require.Len(t, tasks, 1)
	assert.Equal(t, "2024-03-04", tasks[0].DueDate.String())
	require.NotNil(t, tasks[0].AgentID)
	assert.Equal(t, generic.ID("a1"), *tasks[0].AgentID)
}

func TestCreatePolicy_MissingFields_Rejected(t *testing.T) {
	svc, _ := newMemoryService(t, "2024-03-01")

	_, err := svc.CreatePolicy(context.Background(), crm.Policy{PolicyNumber: "POL-9"})
	require.ErrorIs(t, err, generic.ErrValidation)
}
