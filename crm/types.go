// Package crm implements the insurance agency domain: clients, policies,
// agents, commissions and chargebacks, built on the generic record engine.
package crm

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleAdmin        Role = "Admin"
	RoleManager      Role = "Manager"
	RoleUnderwriting Role = "Underwriting"
	RoleAgent        Role = "Agent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUnderwriting, RoleAgent:
		return true
	}
	return false
}

// Privileged roles see every record of the agency.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleUnderwriting
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyType string

const (
	PolicyLife       PolicyType = "Life"
	PolicyHealth     PolicyType = "Health"
	PolicyAuto       PolicyType = "Auto"
	PolicyHome       PolicyType = "Home"
	PolicyDisability PolicyType = "Disability"
	PolicyAnnuity    PolicyType = "Annuity"
)

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "Active"
	PolicyExpired   PolicyStatus = "Expired"
	PolicyCancelled PolicyStatus = "Cancelled"
)

func (s PolicyStatus) Valid() bool {
	return s == PolicyActive || s == PolicyExpired || s == PolicyCancelled
}

type UnderwritingStatus string

const (
	UnderwritingPending          UnderwritingStatus = "Pending"
	UnderwritingApproved         UnderwritingStatus = "Approved"
	UnderwritingRejected         UnderwritingStatus = "Rejected"
	UnderwritingMoreInfoRequired UnderwritingStatus = "MoreInfoRequired"
)

func (s UnderwritingStatus) Valid() bool {
	switch s {
	case UnderwritingPending, UnderwritingApproved, UnderwritingRejected, UnderwritingMoreInfoRequired:
		return true
	}
	return false
}

type Policy struct {
	ID                 generic.ID         `json:"id"`
	ClientID           generic.ID         `json:"clientId"`
	PolicyNumber       string             `json:"policyNumber"`
	Type               PolicyType         `json:"type"`
	MonthlyPremium     decimal.Decimal    `json:"monthlyPremium"`
	AnnualPremium      decimal.Decimal    `json:"annualPremium"`
	StartDate          generic.Date       `json:"startDate"`
	EndDate            generic.Date       `json:"endDate"`
	Status             PolicyStatus       `json:"status"`
	Carrier            string             `json:"carrier,omitempty"`
	UnderwritingStatus UnderwritingStatus `json:"underwritingStatus"`
}

// PolicyPatch carries the fields of an update; nil fields are left unchanged.
type PolicyPatch struct {
	ClientID           *generic.ID         `json:"clientId,omitempty"`
	PolicyNumber       *string             `json:"policyNumber,omitempty"`
	Type               *PolicyType         `json:"type,omitempty"`
	MonthlyPremium     *decimal.Decimal    `json:"monthlyPremium,omitempty"`
	AnnualPremium      *decimal.Decimal    `json:"annualPremium,omitempty"`
	StartDate          *generic.Date       `json:"startDate,omitempty"`
	EndDate            *generic.Date       `json:"endDate,omitempty"`
	Status             *PolicyStatus       `json:"status,omitempty"`
	Carrier            *string             `json:"carrier,omitempty"`
	UnderwritingStatus *UnderwritingStatus `json:"underwritingStatus,omitempty"`
}

// =============================================================================
// CLIENT / AGENT / USER
// =============================================================================

type ClientStatus string

const (
	ClientLead     ClientStatus = "Lead"
	ClientActive   ClientStatus = "Active"
	ClientInactive ClientStatus = "Inactive"
)

func (s ClientStatus) Valid() bool {
	return s == ClientLead || s == ClientActive || s == ClientInactive
}

type Client struct {
	ID        generic.ID   `json:"id"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	Email     string       `json:"email,omitempty"`
	Phone     string       `json:"phone,omitempty"`
	Status    ClientStatus `json:"status"`
	AgentID   *generic.ID  `json:"agentId"`
	Source    string       `json:"source,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (c Client) Name() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// AssignedTo reports whether the client is owned by agentID.
func (c Client) AssignedTo(agentID generic.ID) bool {
	return c.AgentID != nil && *c.AgentID == agentID
}

// UnassignClient is the transition applied to every client of a removed agent.
func UnassignClient(c Client) Client {
	c.AgentID = nil
	return c
}

type AgentStatus string

const (
	AgentPending  AgentStatus = "Pending"
	AgentActive   AgentStatus = "Active"
	AgentInactive AgentStatus = "Inactive"
)

func (s AgentStatus) Valid() bool {
	return s == AgentPending || s == AgentActive || s == AgentInactive
}

// Agent is the commission-earning profile of a user; its id equals the user's id.
type Agent struct {
	ID             generic.ID      `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone,omitempty"`
	Bio            string          `json:"bio,omitempty"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	Status         AgentStatus     `json:"status"`
	JoinedAt       time.Time       `json:"joinedAt"`
}

// AgentPatch carries the editable profile fields of an agent.
type AgentPatch struct {
	Name           *string          `json:"name,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	Bio            *string          `json:"bio,omitempty"`
	CommissionRate *decimal.Decimal `json:"commissionRate,omitempty"`
}

type User struct {
	ID                 generic.ID `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Role               Role       `json:"role"`
	Title              string     `json:"title"`
	PasswordHash       string     `json:"passwordHash,omitempty"`
	OnboardingComplete bool       `json:"onboardingComplete"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// Public strips credentials before a user leaves the service.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// =============================================================================
// DERIVED RECORDS
// =============================================================================

type ChargebackStatus string

const (
	ChargebackUnpaid   ChargebackStatus = "Unpaid"
	ChargebackPaid     ChargebackStatus = "Paid"
	ChargebackAdjusted ChargebackStatus = "Adjusted"
)

// Chargeback is created once per qualifying cancellation and never recomputed.
type Chargeback struct {
	ID               generic.ID       `json:"id"`
	AgentID          generic.ID       `json:"agentId"`
	ClientID         generic.ID       `json:"clientId"`
	PolicyID         generic.ID       `json:"policyId"`
	PolicyStartDate  generic.Date     `json:"policyStartDate"`
	CancellationDate generic.Date     `json:"cancellationDate"`
	MonthsPaid       int              `json:"monthsPaid"`
	MonthlyPremium   decimal.Decimal  `json:"monthlyPremium"`
	DebtAmount       decimal.Decimal  `json:"debtAmount"`
	Status           ChargebackStatus `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
}

type NotificationType string

const (
	NotifyUnderwritingReviewed NotificationType = "UNDERWRITING_REVIEWED"
	NotifyChargebackIssued     NotificationType = "CHARGEBACK_ISSUED"
	NotifyAgentApproved        NotificationType = "AGENT_APPROVED"
	NotifyAgentStatusChanged   NotificationType = "AGENT_STATUS_CHANGED"
	NotifyNewLead              NotificationType = "NEW_LEAD"
	NotifyTaskAssigned         NotificationType = "TASK_ASSIGNED"
	NotifyNewMessage           NotificationType = "NEW_MESSAGE"
	NotifyBroadcast            NotificationType = "BROADCAST"
)

type Notification struct {
	ID        generic.ID       `json:"id"`
	UserID    generic.ID       `json:"userId"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"isRead"`
	Link      string           `json:"link,omitempty"`
}

type Task struct {
	ID        generic.ID   `json:"id"`
	Title     string       `json:"title"`
	DueDate   generic.Date `json:"dueDate"`
	Completed bool         `json:"completed"`
	ClientID  *generic.ID  `json:"clientId,omitempty"`
	AgentID   *generic.ID  `json:"agentId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// =============================================================================
// SUPPORTING RECORDS
// =============================================================================

type Interaction struct {
	ID       generic.ID   `json:"id"`
	ClientID generic.ID   `json:"clientId"`
	AgentID  *generic.ID  `json:"agentId,omitempty"`
	Type     string       `json:"type"`
	Notes    string       `json:"notes"`
	Date     generic.Date `json:"date"`
}

type License struct {
	ID        generic.ID   `json:"id"`
	AgentID   generic.ID   `json:"agentId"`
	State     string       `json:"state"`
	Number    string       `json:"number"`
	ExpiresOn generic.Date `json:"expiresOn"`
}

type Testimonial struct {
	ID         generic.ID `json:"id"`
	AgentID    generic.ID `json:"agentId"`
	ClientName string     `json:"clientName"`
	Quote      string     `json:"quote"`
	Rating     int        `json:"rating"`
}

type CalendarNote struct {
	ID     generic.ID   `json:"id"`
	UserID generic.ID   `json:"userId"`
	Date   generic.Date `json:"date"`
	Text   string       `json:"text"`
}

type CalendarEvent struct {
	ID       generic.ID   `json:"id"`
	UserID   generic.ID   `json:"userId"`
	Title    string       `json:"title"`
	Start    generic.Date `json:"start"`
	End      generic.Date `json:"end"`
	AllDay   bool         `json:"allDay"`
	Source   string       `json:"source,omitempty"`
	DayOffID *generic.ID  `json:"dayOffId,omitempty"`
}

type DayOff struct {
	ID     generic.ID   `json:"id"`
	UserID generic.ID   `json:"userId"`
	Date   generic.Date `json:"date"`
	Reason string       `json:"reason,omitempty"`
}

// OnboardingRecord is keyed by the user's id; one per user.
type OnboardingRecord struct {
	ID            generic.ID `json:"id"`
	UserID        generic.ID `json:"userId"`
	Phone         string     `json:"phone,omitempty"`
	Bio           string     `json:"bio,omitempty"`
	LicenseState  string     `json:"licenseState,omitempty"`
	LicenseNumber string     `json:"licenseNumber,omitempty"`
	Carriers      []string   `json:"carriers,omitempty"`
	CompletedAt   time.Time  `json:"completedAt"`
}
