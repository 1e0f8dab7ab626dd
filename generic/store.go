/*
store.go - Persistence interface for collection records

PURPOSE:
  Defines the interface between the domain logic and the database.
  Every collection supports the same five operations; domain packages never
  see SQL or in-memory maps, only this contract.

KEY INTERFACES:
  Store:   Find, FindByID, Create, Update, Delete over named collections
  TxStore: Store plus WithTx for all-or-nothing multi-record writes

ID GENERATION:
  Create uses the "id" member of the data when it is present and non-empty
  (agents reuse their user's id). Otherwise the store assigns the next value
  of a monotonic per-collection counter, skipping ids already taken.

PATCH SEMANTICS:
  Update merges the patch's top-level members onto the stored object, the
  same as {...original, ...patch}. "id" is never overwritten. A JSON null
  stores null (used to unassign a client's agent).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - repository.go: Typed access built on Store
  - errors.go: NotFoundError / ConflictError
*/
package generic

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
)

// =============================================================================
// STORE - Interface for record persistence
// =============================================================================

// Store persists records grouped by collection.
type Store interface {
	// Find returns every record of the collection in insertion order.
	Find(ctx context.Context, c Collection) ([]Record, error)

	// FindByID returns a NotFoundError if the record does not exist.
	FindByID(ctx context.Context, c Collection, id ID) (Record, error)

	// Create stores data (a JSON object) and returns it with its id set.
	Create(ctx context.Context, c Collection, data json.RawMessage) (Record, error)

	// Update merges patch onto the stored record and returns the result.
	Update(ctx context.Context, c Collection, id ID, patch json.RawMessage) (Record, error)

	// Delete removes the record or returns a NotFoundError.
	Delete(ctx context.Context, c Collection, id ID) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is discarded.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RunInTx runs fn inside a transaction when the store supports one,
// otherwise directly against the store.
func RunInTx(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}

// =============================================================================
// DOCUMENT HELPERS - Shared by Store implementations
// =============================================================================

// Document is a decoded JSON object with members kept verbatim.
type Document map[string]json.RawMessage

// DecodeDocument parses data as a JSON object.
func DecodeDocument(data json.RawMessage) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{Message: "record data must be a JSON object"}
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, &ValidationError{Message: "record data must be a JSON object: " + err.Error()}
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// SuppliedID returns the "id" member when it is a non-empty string or a number.
func (d Document) SuppliedID() (ID, bool) {
	raw, ok := d["id"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ID(s), s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return ID(n.String()), true
	}
	return "", false
}

// WithID sets the "id" member and encodes the document.
func (d Document) WithID(id ID) (json.RawMessage, error) {
	encoded, err := json.Marshal(string(id))
	if err != nil {
		return nil, err
	}
	d["id"] = encoded
	return json.Marshal(d)
}

// Merge applies patch members onto d, keeping d's id.
func (d Document) Merge(patch Document) {
	for k, v := range patch {
		if k == "id" {
			continue
		}
		d[k] = v
	}
}

// MergePatch merges patch onto the stored data of the record with the given id.
func MergePatch(current json.RawMessage, id ID, patch json.RawMessage) (json.RawMessage, error) {
	doc, err := DecodeDocument(current)
	if err != nil {
		return nil, err
	}
	p, err := DecodeDocument(patch)
	if err != nil {
		return nil, err
	}
	doc.Merge(p)
	return doc.WithID(id)
}

// NextFreeID returns the first counter value after last whose id is not taken.
func NextFreeID(last int64, taken func(ID) (bool, error)) (ID, int64, error) {
	for next := last + 1; ; next++ {
		id := ID(strconv.FormatInt(next, 10))
		used, err := taken(id)
		if err != nil {
			return "", 0, err
		}
		if !used {
			return id, next, nil
		}
	}
}
