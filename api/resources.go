package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/generic"
)

// resource serves plain CRUD for a collection with no lifecycle rules.
// Records belong to the user returned by owner; ownerKey is its JSON field.
type resource[T any] struct {
	h        *Handler
	coll     generic.Collection
	owner    func(T) generic.ID
	claim    func(*T, generic.ID)
	ownerKey string

	// personal collections are scoped to their owner for every role.
	personal bool
}

func (rs resource[T]) routes(r chi.Router) {
	r.Get("/", rs.list)
	r.Post("/", rs.create)
	r.Get("/{id}", rs.get)
	r.Put("/{id}", rs.update)
	r.Delete("/{id}", rs.delete)
}

func (rs resource[T]) repo() generic.Repository[T] {
	return generic.NewRepository[T](rs.h.CRM.Store, rs.coll)
}

func (rs resource[T]) scoped(user crm.User) bool {
	return rs.personal || !user.Role.Privileged()
}

// load fetches the record, hiding records the caller does not own.
func (rs resource[T]) load(r *http.Request) (T, error) {
	id := idParam(r, "id")
	v, err := rs.repo().Get(r.Context(), id)
	if err != nil {
		return v, err
	}
	user := currentUser(r)
	if rs.scoped(user) && rs.owner(v) != user.ID {
		var zero T
		return zero, &generic.NotFoundError{Collection: rs.coll, ID: id}
	}
	return v, nil
}

func (rs resource[T]) list(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var (
		items []T
		err   error
	)
	if rs.scoped(user) {
		items, err = rs.repo().Filter(r.Context(), func(v T) bool { return rs.owner(v) == user.ID })
	} else {
		items, err = rs.repo().List(r.Context())
	}
	if err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (rs resource[T]) create(w http.ResponseWriter, r *http.Request) {
	var v T
	if !rs.h.decode(w, r, &v) {
		return
	}
	user := currentUser(r)
	if rs.scoped(user) || rs.owner(v) == "" {
		rs.claim(&v, user.ID)
	}
	created, err := rs.repo().Create(r.Context(), v)
	if err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (rs resource[T]) get(w http.ResponseWriter, r *http.Request) {
	v, err := rs.load(r)
	if err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (rs resource[T]) update(w http.ResponseWriter, r *http.Request) {
	if _, err := rs.load(r); err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	var patch map[string]any
	if !rs.h.decode(w, r, &patch) {
		return
	}
	if rs.scoped(currentUser(r)) {
		delete(patch, rs.ownerKey)
	}
	updated, err := rs.repo().Update(r.Context(), idParam(r, "id"), patch)
	if err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rs resource[T]) delete(w http.ResponseWriter, r *http.Request) {
	if _, err := rs.load(r); err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	if err := rs.repo().Delete(r.Context(), idParam(r, "id")); err != nil {
		rs.h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

func (h *Handler) interactions() resource[crm.Interaction] {
	return resource[crm.Interaction]{
		h:    h,
		coll: generic.Interactions,
		owner: func(i crm.Interaction) generic.ID {
			if i.AgentID == nil {
				return ""
			}
			return *i.AgentID
		},
		claim:    func(i *crm.Interaction, id generic.ID) { i.AgentID = generic.IDPtr(id) },
		ownerKey: "agentId",
	}
}

func (h *Handler) licenses() resource[crm.License] {
	return resource[crm.License]{
		h:        h,
		coll:     generic.Licenses,
		owner:    func(l crm.License) generic.ID { return l.AgentID },
		claim:    func(l *crm.License, id generic.ID) { l.AgentID = id },
		ownerKey: "agentId",
	}
}

func (h *Handler) testimonials() resource[crm.Testimonial] {
	return resource[crm.Testimonial]{
		h:        h,
		coll:     generic.Testimonials,
		owner:    func(t crm.Testimonial) generic.ID { return t.AgentID },
		claim:    func(t *crm.Testimonial, id generic.ID) { t.AgentID = id },
		ownerKey: "agentId",
	}
}

func (h *Handler) calendarNotes() resource[crm.CalendarNote] {
	return resource[crm.CalendarNote]{
		h:        h,
		coll:     generic.CalendarNotes,
		owner:    func(n crm.CalendarNote) generic.ID { return n.UserID },
		claim:    func(n *crm.CalendarNote, id generic.ID) { n.UserID = id },
		ownerKey: "userId",
		personal: true,
	}
}
