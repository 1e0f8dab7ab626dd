/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log carrying the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the browser app

ROUTE GROUPS:
  /api/health, /api/auth/*   Public
  /api/*                     Bearer token required
  /api/users, /api/broadcast Admin and Manager only

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: authenticate and requireRoles
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/crm"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/me", h.Me)
			r.Get("/data", h.GetAllData)

			r.Route("/users", func(r chi.Router) {
				r.Use(h.requireRoles(crm.RoleAdmin, crm.RoleManager))
				r.Get("/", h.ListUsers)
				r.Put("/{id}/role", h.ChangeRole)
			})

			// Agent routes
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Get("/recommended", h.RecommendedAgent)
				r.Get("/{id}", h.GetAgent)
				r.Put("/{id}", h.UpdateAgent)
				r.Delete("/{id}", h.DeleteAgent)
				r.Post("/{id}/approve", h.ApproveAgent)
				r.Put("/{id}/status", h.UpdateAgentStatus)
			})

			// Book of business
			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.ListClients)
				r.Post("/", h.CreateClient)
				r.Get("/{id}", h.GetClient)
				r.Put("/{id}", h.UpdateClient)
				r.Delete("/{id}", h.DeleteClient)
				r.With(h.requireRoles(crm.RoleAdmin, crm.RoleManager)).Post("/{id}/assign", h.AssignClient)
			})
			r.Route("/policies", func(r chi.Router) {
				r.Get("/", h.ListPolicies)
				r.Post("/", h.CreatePolicy)
				r.Get("/{id}", h.GetPolicy)
				r.Put("/{id}", h.UpdatePolicy)
				r.Delete("/{id}", h.DeletePolicy)
			})
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", h.ListTasks)
				r.Post("/", h.CreateTask)
				r.Post("/{id}/toggle", h.ToggleTask)
				r.Delete("/{id}", h.DeleteTask)
			})
			r.Route("/interactions", h.interactions().routes)
			r.Route("/licenses", h.licenses().routes)
			r.Route("/testimonials", h.testimonials().routes)
			r.Route("/calendar-notes", h.calendarNotes().routes)

			r.Post("/leads", h.CreateLead)
			r.Post("/onboarding", h.SaveOnboarding)

			r.Route("/dayoffs", func(r chi.Router) {
				r.Get("/", h.ListDayOffs)
				r.Post("/toggle", h.ToggleDayOff)
				r.Post("/batch", h.BatchDayOff)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotifications)
				r.Post("/read-all", h.MarkAllNotificationsRead)
				r.Post("/{id}/read", h.MarkNotificationRead)
			})

			// Inbox
			r.Route("/messages", func(r chi.Router) {
				r.Get("/unread", h.UnreadMessages)
				r.Get("/conversations", h.ListConversations)
				r.Post("/conversations", h.StartConversation)
				r.Get("/conversations/{id}", h.ListMessages)
				r.Post("/conversations/{id}", h.SendMessage)
				r.Post("/conversations/{id}/read", h.MarkConversationRead)
				r.Delete("/{id}", h.DeleteMessage)
			})
			r.With(h.requireRoles(crm.RoleAdmin, crm.RoleManager)).Post("/broadcast", h.Broadcast)

			// Reports
			r.Get("/commissions", h.Commissions)
			r.Get("/commissions/{agentId}", h.AgentCommission)
			r.Get("/leaderboard", h.Leaderboard)
		})
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
