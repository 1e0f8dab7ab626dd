package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// CLIENTS
// =============================================================================

// CreateClient stores a client. Agents always own the clients they create.
func (s *Service) CreateClient(ctx context.Context, actor User, c Client) (Client, error) {
	if strings.TrimSpace(c.FirstName) == "" {
		return Client{}, &generic.ValidationError{Field: "firstName", Message: "is required"}
	}
	if c.Status == "" {
		c.Status = ClientLead
	}
	if !c.Status.Valid() {
		return Client{}, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)}
	}
	if actor.Role == RoleAgent {
		c.AgentID = generic.IDPtr(actor.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	return recordsOf(s.Store).clients.Create(ctx, c)
}

func (s *Service) GetClient(ctx context.Context, id generic.ID) (Client, error) {
	return recordsOf(s.Store).clients.Get(ctx, id)
}

func (s *Service) ListClients(ctx context.Context) ([]Client, error) {
	return recordsOf(s.Store).clients.List(ctx)
}

// UpdateClient merges patch onto the client.
func (s *Service) UpdateClient(ctx context.Context, id generic.ID, patch map[string]any) (Client, error) {
	if raw, ok := patch["status"]; ok {
		status, _ := raw.(string)
		if !ClientStatus(status).Valid() {
			return Client{}, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %v", raw)}
		}
	}
	return recordsOf(s.Store).clients.Update(ctx, id, patch)
}

func (s *Service) DeleteClient(ctx context.Context, id generic.ID) error {
	return recordsOf(s.Store).clients.Delete(ctx, id)
}

// =============================================================================
// TASKS
// =============================================================================

func (s *Service) CreateTask(ctx context.Context, actor User, t Task) (Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return Task{}, &generic.ValidationError{Field: "title", Message: "is required"}
	}
	if t.AgentID == nil && actor.Role == RoleAgent {
		t.AgentID = generic.IDPtr(actor.ID)
	}
	t.Completed = false
	t.CreatedAt = s.now()

	var created Task
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		var err error
		if created, err = r.tasks.Create(ctx, t); err != nil {
			return err
		}
		if created.AgentID == nil || *created.AgentID == actor.ID {
			return nil
		}
		_, err = s.notify(ctx, r, *created.AgentID, NotifyTaskAssigned,
			fmt.Sprintf("New task assigned: %s", created.Title), "/tasks")
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return created, nil
}

// ToggleTask flips the completed flag.
func (s *Service) ToggleTask(ctx context.Context, id generic.ID) (Task, error) {
	var task Task
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		current, err := r.tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		task, err = r.tasks.Update(ctx, id, map[string]any{"completed": !current.Completed})
		return err
	})
	return task, err
}

func (s *Service) DeleteTask(ctx context.Context, id generic.ID) error {
	return recordsOf(s.Store).tasks.Delete(ctx, id)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (s *Service) ListNotifications(ctx context.Context, userID generic.ID) ([]Notification, error) {
	return recordsOf(s.Store).notifications.Filter(ctx, func(n Notification) bool { return n.UserID == userID })
}

// MarkNotificationRead marks one of userID's notifications read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id generic.ID) (Notification, error) {
	var n Notification
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		current, err := r.notifications.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return &generic.NotFoundError{Collection: generic.Notifications, ID: id}
		}
		n, err = r.notifications.Update(ctx, id, map[string]any{"isRead": true})
		return err
	})
	return n, err
}

// MarkAllNotificationsRead marks every unread notification of userID read and
// returns how many changed.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID generic.ID) (int, error) {
	marked := 0
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		unread, err := r.notifications.Filter(ctx, func(n Notification) bool {
			return n.UserID == userID && !n.IsRead
		})
		if err != nil {
			return err
		}
		for _, n := range unread {
			if _, err := r.notifications.Update(ctx, n.ID, map[string]any{"isRead": true}); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}
