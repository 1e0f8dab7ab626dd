package generic

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// REPOSITORY - Typed view over one collection
// =============================================================================

// Repository reads and writes values of type T as records of one collection.
// T must serialize to a JSON object with an "id" member.
type Repository[T any] struct {
	Store      Store
	Collection Collection
}

func NewRepository[T any](store Store, c Collection) Repository[T] {
	return Repository[T]{Store: store, Collection: c}
}

// List returns every value in insertion order.
func (r Repository[T]) List(ctx context.Context) ([]T, error) {
	records, err := r.Store.Find(ctx, r.Collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Filter returns the values for which keep returns true.
func (r Repository[T]) Filter(ctx context.Context, keep func(T) bool) ([]T, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r Repository[T]) Get(ctx context.Context, id ID) (T, error) {
	rec, err := r.Store.FindByID(ctx, r.Collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decode(rec)
}

// Create stores v. An empty id lets the store generate one.
func (r Repository[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s record: %w", r.Collection, err)
	}
	rec, err := r.Store.Create(ctx, r.Collection, data)
	if err != nil {
		return zero, err
	}
	return r.decode(rec)
}

// Update merges patch (any value encoding to a JSON object) onto the record.
func (r Repository[T]) Update(ctx context.Context, id ID, patch any) (T, error) {
	var zero T
	data, err := json.Marshal(patch)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s patch: %w", r.Collection, err)
	}
	rec, err := r.Store.Update(ctx, r.Collection, id, data)
	if err != nil {
		return zero, err
	}
	return r.decode(rec)
}

func (r Repository[T]) Delete(ctx context.Context, id ID) error {
	return r.Store.Delete(ctx, r.Collection, id)
}

func (r Repository[T]) decode(rec Record) (T, error) {
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s %q: %w", r.Collection, rec.ID, err)
	}
	return v, nil
}
