package crm

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/agency-crm/generic"
)

const (
	defaultBcryptCost = 12
	minPasswordLength = 8
)

// DefaultCommissionRate is the share of premium a newly registered agent keeps.
var DefaultCommissionRate = decimal.RequireFromString("0.5")

// TitleFor is the display title that goes with a role.
func TitleFor(role Role) string {
	switch role {
	case RoleAdmin:
		return "Administrator"
	case RoleManager:
		return "Agency Manager"
	case RoleUnderwriting:
		return "Underwriter"
	case RoleAgent:
		return "Insurance Agent"
	default:
		return "Team Member"
	}
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Register creates a login record. Agents also get an agent profile with the
// same id, pending approval.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, &generic.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if len(in.Password) < minPasswordLength {
		return User{}, &generic.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if strings.TrimSpace(in.Name) == "" {
		return User{}, &generic.ValidationError{Field: "name", Message: "is required"}
	}
	role := in.Role
	if role == "" {
		role = RoleAgent
	}
	if !role.Valid() {
		return User{}, &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.BcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	var created User
	err = generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)

		existing, err := r.users.Filter(ctx, func(u User) bool { return u.Email == email })
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &generic.ConflictError{Collection: generic.Users, Field: "email", Value: email}
		}

		created, err = r.users.Create(ctx, User{
			Email:        email,
			Name:         strings.TrimSpace(in.Name),
			Role:         role,
			Title:        TitleFor(role),
			PasswordHash: string(hash),
			CreatedAt:    s.now(),
		})
		if err != nil {
			return err
		}
		if role != RoleAgent {
			return nil
		}
		_, err = r.agents.Create(ctx, Agent{
			ID:             created.ID,
			Name:           created.Name,
			Email:          created.Email,
			CommissionRate: DefaultCommissionRate,
			Status:         AgentPending,
			JoinedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return User{}, err
	}

	s.Log.Info("user registered",
		zap.String("user_id", string(created.ID)),
		zap.String("role", string(created.Role)))
	return created.Public(), nil
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	matches, err := recordsOf(s.Store).users.Filter(ctx, func(u User) bool { return u.Email == email })
	if err != nil {
		return User{}, err
	}
	if len(matches) == 0 {
		return User{}, fmt.Errorf("unknown email: %w", generic.ErrUnauthorized)
	}
	u := matches[0]
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, fmt.Errorf("wrong password: %w", generic.ErrUnauthorized)
	}
	return u.Public(), nil
}

func (s *Service) GetUser(ctx context.Context, id generic.ID) (User, error) {
	u, err := recordsOf(s.Store).users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	return u.Public(), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := recordsOf(s.Store).users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].Public()
	}
	return users, nil
}

// ChangeRole moves a user to another role and keeps the title in step.
// Admin only.
func (s *Service) ChangeRole(ctx context.Context, actor User, userID generic.ID, role Role) (User, error) {
	if err := requireRole(actor, "change roles", RoleAdmin); err != nil {
		return User{}, err
	}
	if !role.Valid() {
		return User{}, &generic.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	u, err := recordsOf(s.Store).users.Update(ctx, userID, map[string]any{
		"role":  role,
		"title": TitleFor(role),
	})
	if err != nil {
		return User{}, err
	}
	return u.Public(), nil
}
