// Package store provides Store implementations.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	collections map[generic.Collection]*collection
}

type collection struct {
	order []generic.ID
	docs  map[generic.ID]json.RawMessage
	seq   int64
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{collections: make(map[generic.Collection]*collection)}
}

func (m *Memory) Find(_ context.Context, c generic.Collection) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(c), nil
}

func (m *Memory) FindByID(_ context.Context, c generic.Collection, id generic.ID) (generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByIDLocked(c, id)
}

func (m *Memory) Create(_ context.Context, c generic.Collection, data json.RawMessage) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(c, data)
}

func (m *Memory) Update(_ context.Context, c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(c, id, patch)
}

func (m *Memory) Delete(_ context.Context, c generic.Collection, id generic.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(c, id)
}

// WithTx runs fn against the store while holding the write lock.
// On error the collections are restored to their state before fn ran.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.cloneLocked()
	if err := fn(&memoryTx{m: m}); err != nil {
		m.collections = saved
		return err
	}
	return nil
}

func (m *Memory) coll(c generic.Collection) *collection {
	col, ok := m.collections[c]
	if !ok {
		col = &collection{docs: make(map[generic.ID]json.RawMessage)}
		m.collections[c] = col
	}
	return col
}

func (m *Memory) findLocked(c generic.Collection) []generic.Record {
	col, ok := m.collections[c]
	if !ok {
		return nil
	}
	out := make([]generic.Record, 0, len(col.order))
	for _, id := range col.order {
		out = append(out, generic.Record{ID: id, Data: col.docs[id]})
	}
	return out
}

func (m *Memory) findByIDLocked(c generic.Collection, id generic.ID) (generic.Record, error) {
	if col, ok := m.collections[c]; ok {
		if data, ok := col.docs[id]; ok {
			return generic.Record{ID: id, Data: data}, nil
		}
	}
	return generic.Record{}, &generic.NotFoundError{Collection: c, ID: id}
}

func (m *Memory) createLocked(c generic.Collection, data json.RawMessage) (generic.Record, error) {
	doc, err := generic.DecodeDocument(data)
	if err != nil {
		return generic.Record{}, err
	}
	col := m.coll(c)

	id, supplied := doc.SuppliedID()
	if supplied {
		if _, exists := col.docs[id]; exists {
			return generic.Record{}, &generic.ConflictError{Collection: c, Field: "id", Value: string(id)}
		}
	} else {
		id, col.seq, _ = generic.NextFreeID(col.seq, func(candidate generic.ID) (bool, error) {
			_, taken := col.docs[candidate]
			return taken, nil
		})
	}

	encoded, err := doc.WithID(id)
	if err != nil {
		return generic.Record{}, err
	}
	col.docs[id] = encoded
	col.order = append(col.order, id)
	return generic.Record{ID: id, Data: encoded}, nil
}

func (m *Memory) updateLocked(c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	current, err := m.findByIDLocked(c, id)
	if err != nil {
		return generic.Record{}, err
	}
	merged, err := generic.MergePatch(current.Data, id, patch)
	if err != nil {
		return generic.Record{}, err
	}
	m.collections[c].docs[id] = merged
	return generic.Record{ID: id, Data: merged}, nil
}

func (m *Memory) deleteLocked(c generic.Collection, id generic.ID) error {
	col, ok := m.collections[c]
	if !ok {
		return &generic.NotFoundError{Collection: c, ID: id}
	}
	if _, ok := col.docs[id]; !ok {
		return &generic.NotFoundError{Collection: c, ID: id}
	}
	delete(col.docs, id)
	for i, existing := range col.order {
		if existing == id {
			col.order = append(col.order[:i:i], col.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) cloneLocked() map[generic.Collection]*collection {
	out := make(map[generic.Collection]*collection, len(m.collections))
	for name, col := range m.collections {
		docs := make(map[generic.ID]json.RawMessage, len(col.docs))
		for id, data := range col.docs {
			docs[id] = data
		}
		out[name] = &collection{
			order: append([]generic.ID(nil), col.order...),
			docs:  docs,
			seq:   col.seq,
		}
	}
	return out
}

// memoryTx is the Store handed to WithTx callbacks; the lock is already held.
type memoryTx struct {
	m *Memory
}

func (t *memoryTx) Find(_ context.Context, c generic.Collection) ([]generic.Record, error) {
	return t.m.findLocked(c), nil
}

func (t *memoryTx) FindByID(_ context.Context, c generic.Collection, id generic.ID) (generic.Record, error) {
	return t.m.findByIDLocked(c, id)
}

func (t *memoryTx) Create(_ context.Context, c generic.Collection, data json.RawMessage) (generic.Record, error) {
	return t.m.createLocked(c, data)
}

func (t *memoryTx) Update(_ context.Context, c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	return t.m.updateLocked(c, id, patch)
}

func (t *memoryTx) Delete(_ context.Context, c generic.Collection, id generic.ID) error {
	return t.m.deleteLocked(c, id)
}
