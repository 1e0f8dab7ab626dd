/*
auth.go - Bearer token authentication

PURPOSE:
  Issues HS256 JWTs at login and resolves the caller on every protected
  request. The user record is re-read per request, so role changes and
  deletions take effect without waiting for the token to expire.

FLOW:
  POST /api/auth/login   -> Authenticate -> IssueToken
  Authorization: Bearer <token> -> ParseToken -> load user -> context

SEE ALSO:
  - crm/users.go: Register / Authenticate
  - server.go: Which routes are public
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
)

// Claims is the token payload.
type Claims struct {
	UserID string   `json:"uid"`
	Role   crm.Role `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueToken signs a token for u and returns it with its expiry.
func (a *Authenticator) IssueToken(u crm.User) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		UserID: string(u.ID),
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates raw and returns its claims.
func (a *Authenticator) ParseToken(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, generic.ErrUnauthorized)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims: %w", generic.ErrUnauthorized)
	}
	return claims, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey string

const ctxUser ctxKey = "user"

// authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.writeError(w, r, fmt.Errorf("missing bearer token: %w", generic.ErrUnauthorized))
			return
		}
		claims, err := h.Auth.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		user, err := h.CRM.GetUser(r.Context(), generic.ID(claims.UserID))
		if generic.IsNotFound(err) {
			h.writeError(w, r, fmt.Errorf("user no longer exists: %w", generic.ErrUnauthorized))
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles lets only the given roles through.
func (h *Handler) requireRoles(roles ...crm.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := currentUser(r)
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			h.writeError(w, r, &generic.ForbiddenError{Role: string(user.Role), Action: "access " + r.URL.Path})
		})
	}
}

// currentUser is the authenticated caller; zero outside authenticate.
func currentUser(r *http.Request) crm.User {
	u, _ := r.Context().Value(ctxUser).(crm.User)
	return u
}

// =============================================================================
// HANDLERS
// =============================================================================

// Register creates an account and signs the user in.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req crm.RegisterInput
	if !h.decode(w, r, &req) {
		return
	}
	if req.Role != "" && req.Role != crm.RoleAgent {
		// Only an Admin may hand out other roles, through ChangeRole.
		req.Role = crm.RoleAgent
	}

	user, err := h.CRM.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, user)
}

// Login exchanges credentials for a token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.CRM.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, generic.ErrUnauthorized) {
			h.Log.Info("login failed", zap.String("email", req.Email))
			err = fmt.Errorf("invalid email or password: %w", generic.ErrUnauthorized)
		}
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, user)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, status int, user crm.User) {
	token, expires, err := h.Auth.IssueToken(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, SessionResponse{Token: token, ExpiresAt: expires.UTC(), User: user})
}

// Me returns the caller.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}
