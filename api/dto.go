/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON bodies that exist only at the HTTP boundary. Domain records
  (crm.Client, crm.Policy, ...) are sent and received as they are; the
  types here cover what has no domain counterpart.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Done by the services the handlers call. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      crm.User  `json:"user"`
}

type ChangeRoleRequest struct {
	Role crm.Role `json:"role"`
}

// =============================================================================
// AGENTS AND CLIENTS
// =============================================================================

type AgentStatusRequest struct {
	Status crm.AgentStatus `json:"status"`
}

// AssignClientRequest assigns a client; an empty AgentID picks the
// recommended agent.
type AssignClientRequest struct {
	AgentID generic.ID `json:"agentId"`
}

// LeadRequest is a profile inquiry. Agents may omit AgentID to file it under
// themselves.
type LeadRequest struct {
	AgentID generic.ID `json:"agentId"`
	crm.LeadInput
}

// =============================================================================
// CALENDAR
// =============================================================================

type DayOffToggleRequest struct {
	Date generic.Date `json:"date"`
}

type DayOffToggleResponse struct {
	Date generic.Date `json:"date"`
	Off  bool         `json:"off"`
}

type DayOffBatchRequest struct {
	Dates []generic.Date `json:"dates"`
	Off   bool           `json:"off"`
}

// =============================================================================
// MESSAGING
// =============================================================================

type StartConversationRequest struct {
	UserID generic.ID `json:"userId"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// BroadcastRequest goes to Recipients, or to every other user when empty.
type BroadcastRequest struct {
	Text       string       `json:"text"`
	Recipients []generic.ID `json:"recipients,omitempty"`
}

// =============================================================================
// GENERIC RESPONSES
// =============================================================================

type CountResponse struct {
	Count int `json:"count"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}
