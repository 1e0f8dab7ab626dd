/*
handlers.go - HTTP API handlers for the agency CRM

PURPOSE:
  Exposes the crm and messaging services via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every rule to
  the services.

ENDPOINTS:
  Users:
    GET    /api/me                      Caller
    GET    /api/data                    Role-filtered snapshot
    GET    /api/users                   All users (Admin, Manager)
    PUT    /api/users/{id}/role         Change role (Admin)

  Agents:
    GET    /api/agents                  List agents
    GET    /api/agents/recommended      Agent with the lightest book
    GET    /api/agents/{id}             Agent details
    PUT    /api/agents/{id}             Edit profile and rate
    DELETE /api/agents/{id}             Remove agent, unassign clients
    POST   /api/agents/{id}/approve     Pending -> Active
    PUT    /api/agents/{id}/status      Set status

  Book:
    /api/clients, /api/policies, /api/tasks   CRUD plus named operations
    POST   /api/leads                   Profile inquiry
    POST   /api/onboarding              Save onboarding answers

  Calendar and inbox:
    GET    /api/dayoffs, POST /api/dayoffs/toggle, POST /api/dayoffs/batch
    GET    /api/notifications, POST /{id}/read, POST /read-all

  Reports:
    GET    /api/commissions             Agency totals, or own summary for agents
    GET    /api/commissions/{agentId}   One agent
    GET    /api/leaderboard             Active agents ranked

VISIBILITY:
  Agents only reach their own clients, and the policies and tasks that
  belong to them. Records outside that scope answer 404, the same as
  records that do not exist.

ERROR HANDLING:
  writeError maps errors with generic.StatusCode:
  - 400: Validation errors, invalid input
  - 401: Missing or bad token
  - 403: Role not allowed
  - 404: Record not found
  - 409: Conflict (duplicate email)
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - messages.go: Conversation endpoints
  - resources.go: Plain CRUD collections
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
	"github.com/warp/agency-crm/messaging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	CRM      *crm.Service
	Messages *messaging.Service
	Auth     *Authenticator
	Log      *zap.Logger
}

func NewHandler(svc *crm.Service, msgs *messaging.Service, auth *Authenticator, log *zap.Logger) *Handler {
	return &Handler{CRM: svc, Messages: msgs, Auth: auth, Log: log}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError answers with the status err maps to. Server-side failures are
// logged and their details withheld.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := generic.StatusCode(err)
	resp := ErrorResponse{Error: http.StatusText(status), Status: status}

	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads the JSON body into v, answering 400 itself when it cannot.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		err = errors.New("request body is empty")
	}
	if err != nil {
		h.writeError(w, r, &generic.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func idParam(r *http.Request, name string) generic.ID {
	return generic.ID(chi.URLParam(r, name))
}

// clientVisible returns NotFound when an agent asks about a client that is
// not theirs. Privileged roles see every client.
func (h *Handler) clientVisible(ctx context.Context, user crm.User, clientID generic.ID) error {
	if user.Role.Privileged() {
		return nil
	}
	client, err := h.CRM.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if !client.AssignedTo(user.ID) {
		return &generic.NotFoundError{Collection: generic.Clients, ID: clientID}
	}
	return nil
}

// =============================================================================
// SYSTEM
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

// GetAllData returns the caller's dashboard snapshot.
// GET /api/data
func (h *Handler) GetAllData(w http.ResponseWriter, r *http.Request) {
	snap, err := h.CRM.GetAllData(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.CRM.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// ChangeRole sets a user's role and title.
// PUT /api/users/{id}/role
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req ChangeRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.CRM.ChangeRole(r.Context(), currentUser(r), idParam(r, "id"), req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// =============================================================================
// AGENTS
// =============================================================================

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.CRM.ListAgents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.CRM.GetAgent(r.Context(), idParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// RecommendedAgent returns the active agent with the fewest clients.
// GET /api/agents/recommended
func (h *Handler) RecommendedAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.CRM.RecommendedAgent(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// UpdateAgent edits profile fields and the commission rate.
// PUT /api/agents/{id}
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var patch crm.AgentPatch
	if !h.decode(w, r, &patch) {
		return
	}
	agent, err := h.CRM.UpdateAgent(r.Context(), currentUser(r), idParam(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// DeleteAgent removes the agent and their login and unassigns their clients.
// DELETE /api/agents/{id}
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.CRM.DeleteAgent(r.Context(), currentUser(r), idParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveAgent activates a pending agent.
// POST /api/agents/{id}/approve
func (h *Handler) ApproveAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.CRM.ApproveAgent(r.Context(), currentUser(r), idParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// UpdateAgentStatus sets Pending, Active or Inactive.
// PUT /api/agents/{id}/status
func (h *Handler) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req AgentStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	agent, err := h.CRM.UpdateAgentStatus(r.Context(), currentUser(r), idParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// =============================================================================
// CLIENTS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	clients, err := h.CRM.ListClients(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.Role.Privileged() {
		own := clients[:0]
		for _, c := range clients {
			if c.AssignedTo(user.ID) {
				own = append(own, c)
			}
		}
		clients = own
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var c crm.Client
	if !h.decode(w, r, &c) {
		return
	}
	c.ID = ""
	created, err := h.CRM.CreateClient(r.Context(), currentUser(r), c)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "id")
	if err := h.clientVisible(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	client, err := h.CRM.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// UpdateClient merges the body onto the client. Agents cannot reassign.
// PUT /api/clients/{id}
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := idParam(r, "id")
	if err := h.clientVisible(r.Context(), user, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch map[string]any
	if !h.decode(w, r, &patch) {
		return
	}
	if !user.Role.Privileged() {
		delete(patch, "agentId")
	}
	client, err := h.CRM.UpdateClient(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "id")
	if err := h.clientVisible(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.CRM.DeleteClient(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignClient hands a client to an agent, or to the recommended agent
// when none is named.
// POST /api/clients/{id}/assign
func (h *Handler) AssignClient(w http.ResponseWriter, r *http.Request) {
	var req AssignClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		client crm.Client
		err    error
	)
	if req.AgentID == "" {
		client, err = h.CRM.AutoAssignClient(r.Context(), idParam(r, "id"))
	} else {
		client, err = h.CRM.AssignClient(r.Context(), idParam(r, "id"), req.AgentID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// =============================================================================
// POLICIES
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	policies, err := h.CRM.ListPolicies(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.Role.Privileged() {
		clients, err := h.CRM.ListClients(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		own := make(map[generic.ID]bool)
		for _, c := range clients {
			if c.AssignedTo(user.ID) {
				own[c.ID] = true
			}
		}
		visible := policies[:0]
		for _, p := range policies {
			if own[p.ClientID] {
				visible = append(visible, p)
			}
		}
		policies = visible
	}
	writeJSON(w, http.StatusOK, policies)
}

// CreatePolicy stores a policy and schedules its follow-up task.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p crm.Policy
	if !h.decode(w, r, &p) {
		return
	}
	p.ID = ""
	if p.ClientID != "" {
		if err := h.clientVisible(r.Context(), currentUser(r), p.ClientID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	created, err := h.CRM.CreatePolicy(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// policyVisible loads the policy and checks the caller may see it.
func (h *Handler) policyVisible(ctx context.Context, user crm.User, id generic.ID) (crm.Policy, error) {
	p, err := h.CRM.GetPolicy(ctx, id)
	if err != nil {
		return crm.Policy{}, err
	}
	if err := h.clientVisible(ctx, user, p.ClientID); err != nil {
		if generic.IsNotFound(err) {
			return crm.Policy{}, &generic.NotFoundError{Collection: generic.Policies, ID: id}
		}
		return crm.Policy{}, err
	}
	return p, nil
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policyVisible(r.Context(), currentUser(r), idParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePolicy applies a patch and runs the lifecycle side effects.
// PUT /api/policies/{id}
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := idParam(r, "id")
	if _, err := h.policyVisible(r.Context(), user, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch crm.PolicyPatch
	if !h.decode(w, r, &patch) {
		return
	}
	// Moving a policy requires access to the destination client too.
	if patch.ClientID != nil {
		if err := h.clientVisible(r.Context(), user, *patch.ClientID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	p, err := h.CRM.UpdatePolicy(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "id")
	if _, err := h.policyVisible(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.CRM.DeletePolicy(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TASKS
// =============================================================================

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	snap, err := h.CRM.GetAllData(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Tasks)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var t crm.Task
	if !h.decode(w, r, &t) {
		return
	}
	t.ID = ""
	created, err := h.CRM.CreateTask(r.Context(), currentUser(r), t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// taskVisible rejects agents touching tasks assigned to someone else.
func (h *Handler) taskVisible(ctx context.Context, user crm.User, id generic.ID) error {
	if user.Role.Privileged() {
		return nil
	}
	snap, err := h.CRM.GetAllData(ctx, user)
	if err != nil {
		return err
	}
	for _, t := range snap.Tasks {
		if t.ID == id {
			return nil
		}
	}
	return &generic.NotFoundError{Collection: generic.Tasks, ID: id}
}

// ToggleTask flips the completed flag.
// POST /api/tasks/{id}/toggle
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "id")
	if err := h.taskVisible(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	task, err := h.CRM.ToggleTask(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "id")
	if err := h.taskVisible(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.CRM.DeleteTask(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEADS AND ONBOARDING
// =============================================================================

// CreateLead files an inquiry as a Lead client of the agent.
// POST /api/leads
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req LeadRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := currentUser(r)
	if req.AgentID == "" && user.Role == crm.RoleAgent {
		req.AgentID = user.ID
	}
	if req.AgentID == "" {
		h.writeError(w, r, &generic.ValidationError{Field: "agentId", Message: "is required"})
		return
	}

	lead, err := h.CRM.CreateLeadFromProfile(r.Context(), req.AgentID, req.LeadInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// SaveOnboarding stores the caller's onboarding answers.
// POST /api/onboarding
func (h *Handler) SaveOnboarding(w http.ResponseWriter, r *http.Request) {
	var in crm.OnboardingInput
	if !h.decode(w, r, &in) {
		return
	}
	rec, err := h.CRM.SaveOnboardingData(r.Context(), currentUser(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// DAYS OFF
// =============================================================================

func (h *Handler) ListDayOffs(w http.ResponseWriter, r *http.Request) {
	days, err := h.CRM.ListDayOffs(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

// ToggleDayOff marks or unmarks one date.
// POST /api/dayoffs/toggle
func (h *Handler) ToggleDayOff(w http.ResponseWriter, r *http.Request) {
	var req DayOffToggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	off, err := h.CRM.ToggleDayOff(r.Context(), currentUser(r).ID, req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DayOffToggleResponse{Date: req.Date, Off: off})
}

// BatchDayOff sets every listed date to the same state.
// POST /api/dayoffs/batch
func (h *Handler) BatchDayOff(w http.ResponseWriter, r *http.Request) {
	var req DayOffBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.CRM.BatchDayOff(r.Context(), currentUser(r).ID, req.Dates, req.Off)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: changed})
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.CRM.ListNotifications(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead marks one of the caller's notifications read.
// POST /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.CRM.MarkNotificationRead(r.Context(), currentUser(r).ID, idParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// MarkAllNotificationsRead answers with how many were marked.
// POST /api/notifications/read-all
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.CRM.MarkAllNotificationsRead(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// =============================================================================
// REPORTS
// =============================================================================

// Commissions answers agency totals for privileged roles and the caller's own
// summary for agents.
// GET /api/commissions
func (h *Handler) Commissions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if !user.Role.Privileged() {
		h.writeAgentCommission(w, r, user.ID)
		return
	}
	totals, err := h.CRM.AgencyReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// AgentCommission answers one agent's summary. Agents only see their own.
// GET /api/commissions/{agentId}
func (h *Handler) AgentCommission(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	agentID := idParam(r, "agentId")
	if !user.Role.Privileged() && agentID != user.ID {
		h.writeError(w, r, &generic.ForbiddenError{Role: string(user.Role), Action: "view another agent's commission"})
		return
	}
	h.writeAgentCommission(w, r, agentID)
}

func (h *Handler) writeAgentCommission(w http.ResponseWriter, r *http.Request, agentID generic.ID) {
	summary, err := h.CRM.CommissionFor(r.Context(), agentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.CRM.Leaderboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
