/*
snapshot.go - Role-filtered view of the whole agency

PURPOSE:
  GetAllData builds what a signed-in user's dashboard loads in one call.

VISIBILITY:
  Admin, Manager, Underwriting  everything
  Agent                         own clients, and the policies and interactions
                                of those clients; own tasks, licenses,
                                testimonials, chargebacks, calendar notes,
                                days off and calendar events
  Everyone                      only their own notifications

  Agents see only themselves in the users list. Every role sees the full
  agents list so names can be displayed.
*/
package crm

import (
	"context"

	"github.com/warp/agency-crm/generic"
)

type Snapshot struct {
	User           User               `json:"user"`
	Users          []User             `json:"users"`
	Agents         []Agent            `json:"agents"`
	Clients        []Client           `json:"clients"`
	Policies       []Policy           `json:"policies"`
	Interactions   []Interaction      `json:"interactions"`
	Tasks          []Task             `json:"tasks"`
	Notifications  []Notification     `json:"notifications"`
	Chargebacks    []Chargeback       `json:"chargebacks"`
	Licenses       []License          `json:"licenses"`
	Testimonials   []Testimonial      `json:"testimonials"`
	CalendarNotes  []CalendarNote     `json:"calendarNotes"`
	CalendarEvents []CalendarEvent    `json:"calendarEvents"`
	DayOffs        []DayOff           `json:"dayOffs"`
	Commission     *CommissionSummary `json:"commission,omitempty"`
	Agency         *AgencyTotals      `json:"agency,omitempty"`
}

// GetAllData loads the snapshot visible to user.
func (s *Service) GetAllData(ctx context.Context, user User) (Snapshot, error) {
	r := recordsOf(s.Store)
	snap := Snapshot{User: user.Public()}

	book, err := loadBook(ctx, r)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Agents = book.Agents

	all := Snapshot{Agents: book.Agents, Clients: book.Clients, Policies: book.Policies, Chargebacks: book.Chargebacks}
	if all.Users, err = r.users.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.Interactions, err = r.interactions.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.Tasks, err = r.tasks.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.Notifications, err = r.notifications.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.Licenses, err = r.licenses.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.Testimonials, err = r.testimonials.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.CalendarNotes, err = r.calendarNotes.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.CalendarEvents, err = r.calendarEvents.List(ctx); err != nil {
		return Snapshot{}, err
	}
	if all.DayOffs, err = r.dayOffs.List(ctx); err != nil {
		return Snapshot{}, err
	}

	snap.Notifications = keep(all.Notifications, func(n Notification) bool { return n.UserID == user.ID })

	if user.Role.Privileged() {
		snap.Users = publicUsers(all.Users)
		snap.Clients = all.Clients
		snap.Policies = all.Policies
		snap.Interactions = all.Interactions
		snap.Tasks = all.Tasks
		snap.Chargebacks = all.Chargebacks
		snap.Licenses = all.Licenses
		snap.Testimonials = all.Testimonials
		snap.CalendarNotes = all.CalendarNotes
		snap.CalendarEvents = all.CalendarEvents
		snap.DayOffs = all.DayOffs
		agency := AgencyCommission(book)
		snap.Agency = &agency
		return snap, nil
	}

	me := user.ID
	snap.Users = publicUsers(keep(all.Users, func(u User) bool { return u.ID == me }))
	snap.Clients = keep(all.Clients, func(c Client) bool { return c.AssignedTo(me) })

	mine := make(map[generic.ID]bool, len(snap.Clients))
	for _, c := range snap.Clients {
		mine[c.ID] = true
	}
	snap.Policies = keep(all.Policies, func(p Policy) bool { return mine[p.ClientID] })
	snap.Interactions = keep(all.Interactions, func(i Interaction) bool { return mine[i.ClientID] })
	snap.Tasks = keep(all.Tasks, func(t Task) bool { return t.AgentID != nil && *t.AgentID == me })
	snap.Chargebacks = keep(all.Chargebacks, func(c Chargeback) bool { return c.AgentID == me })
	snap.Licenses = keep(all.Licenses, func(l License) bool { return l.AgentID == me })
	snap.Testimonials = keep(all.Testimonials, func(t Testimonial) bool { return t.AgentID == me })
	snap.CalendarNotes = keep(all.CalendarNotes, func(n CalendarNote) bool { return n.UserID == me })
	snap.CalendarEvents = keep(all.CalendarEvents, func(e CalendarEvent) bool { return e.UserID == me })
	snap.DayOffs = keep(all.DayOffs, func(d DayOff) bool { return d.UserID == me })

	if user.Role == RoleAgent {
		summary := AgentCommission(book, me)
		snap.Commission = &summary
	}
	return snap, nil
}

func keep[T any](items []T, pred func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, v := range items {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func publicUsers(users []User) []User {
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out
}
