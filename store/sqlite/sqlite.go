/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the record store (generic.Store / generic.TxStore) and the
  messaging store (messaging.Store) on one SQLite database. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:   Collection records (users, clients, policies, ...)
  generic.TxStore: WithTx for all-or-nothing policy updates and cascades
  messaging.Store: Conversations, unread counters and messages

KEY TABLES:
  records:             One row per record, JSON document in data_json
  sequences:           Last auto-generated id per collection
  conversations:       Sorted-pair conversations with last message preview
  conversation_unread: Unread counter per (conversation, participant)
  messages:            Messages, soft-deleted in place

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Unread counters are incremented with a
  single UPDATE ... SET unread = unread + 1 so concurrent senders never lose
  an increment.

LIFECYCLE:
  The process owns the store: New() opens and migrates, Close() releases it.

USAGE:
  store, err := sqlite.New("./data/crm.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Record store contract
  - messaging/messaging.go: Messaging store contract
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/agency-crm/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.TxStore = (*Store)(nil)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Collection records (JSON documents)
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection
		ON records(collection, seq);

	-- Monotonic id counters per collection
	CREATE TABLE IF NOT EXISTS sequences (
		collection TEXT PRIMARY KEY,
		last_id INTEGER NOT NULL DEFAULT 0
	);

	-- Conversations keyed by the sorted participant pair
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		last_message_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a);
	CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b);

	CREATE TABLE IF NOT EXISTS conversation_unread (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		unread INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		text TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (generic.Store interface)
// =============================================================================

// Find returns all records of a collection in insertion order.
func (s *Store) Find(ctx context.Context, c generic.Collection) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRecords(ctx, s.db, c)
}

// FindByID returns one record.
func (s *Store) FindByID(ctx context.Context, c generic.Collection, id generic.ID) (generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRecord(ctx, s.db, c, id)
}

// Create inserts a record, generating its id when none is supplied.
func (s *Store) Create(ctx context.Context, c generic.Collection, data json.RawMessage) (generic.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec generic.Record
	err := s.inTx(ctx, func(q dbtx) error {
		var err error
		rec, err = createRecord(ctx, q, c, data)
		return err
	})
	return rec, err
}

// Update merges a patch onto a record.
func (s *Store) Update(ctx context.Context, c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec generic.Record
	err := s.inTx(ctx, func(q dbtx) error {
		var err error
		rec, err = updateRecord(ctx, q, c, id, patch)
		return err
	})
	return rec, err
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, c generic.Collection, id generic.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRecord(ctx, s.db, c, id)
}

func (s *Store) inTx(ctx context.Context, fn func(dbtx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func findRecords(ctx context.Context, q dbtx, c generic.Collection) ([]generic.Record, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, data_json FROM records WHERE collection = ? ORDER BY seq ASC",
		string(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	var records []generic.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", c, err)
		}
		records = append(records, generic.Record{ID: generic.ID(id), Data: json.RawMessage(data)})
	}
	return records, rows.Err()
}

func findRecord(ctx context.Context, q dbtx, c generic.Collection, id generic.ID) (generic.Record, error) {
	var data string
	err := q.QueryRowContext(ctx,
		"SELECT data_json FROM records WHERE collection = ? AND id = ?",
		string(c), string(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Record{}, &generic.NotFoundError{Collection: c, ID: id}
	}
	if err != nil {
		return generic.Record{}, fmt.Errorf("failed to get %s %q: %w", c, id, err)
	}
	return generic.Record{ID: id, Data: json.RawMessage(data)}, nil
}

func recordExists(ctx context.Context, q dbtx, c generic.Collection, id generic.ID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE collection = ? AND id = ?",
		string(c), string(id),
	).Scan(&count)
	return count > 0, err
}

func createRecord(ctx context.Context, q dbtx, c generic.Collection, data json.RawMessage) (generic.Record, error) {
	doc, err := generic.DecodeDocument(data)
	if err != nil {
		return generic.Record{}, err
	}

	id, supplied := doc.SuppliedID()
	if !supplied {
		id, err = nextID(ctx, q, c)
		if err != nil {
			return generic.Record{}, err
		}
	}

	encoded, err := doc.WithID(id)
	if err != nil {
		return generic.Record{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.ExecContext(ctx,
		"INSERT INTO records (collection, id, data_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		string(c), string(id), string(encoded), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Record{}, &generic.ConflictError{Collection: c, Field: "id", Value: string(id)}
		}
		return generic.Record{}, fmt.Errorf("failed to insert %s record: %w", c, err)
	}
	return generic.Record{ID: id, Data: encoded}, nil
}

func nextID(ctx context.Context, q dbtx, c generic.Collection) (generic.ID, error) {
	var last int64
	err := q.QueryRowContext(ctx, "SELECT last_id FROM sequences WHERE collection = ?", string(c)).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read %s sequence: %w", c, err)
	}

	id, next, err := generic.NextFreeID(last, func(candidate generic.ID) (bool, error) {
		return recordExists(ctx, q, c, candidate)
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s id: %w", c, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO sequences (collection, last_id) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET last_id = excluded.last_id
	`, string(c), next)
	if err != nil {
		return "", fmt.Errorf("failed to advance %s sequence: %w", c, err)
	}
	return id, nil
}

func updateRecord(ctx context.Context, q dbtx, c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	current, err := findRecord(ctx, q, c, id)
	if err != nil {
		return generic.Record{}, err
	}
	merged, err := generic.MergePatch(current.Data, id, patch)
	if err != nil {
		return generic.Record{}, err
	}

	_, err = q.ExecContext(ctx,
		"UPDATE records SET data_json = ?, updated_at = ? WHERE collection = ? AND id = ?",
		string(merged), time.Now().UTC().Format(time.RFC3339), string(c), string(id),
	)
	if err != nil {
		return generic.Record{}, fmt.Errorf("failed to update %s %q: %w", c, id, err)
	}
	return generic.Record{ID: id, Data: merged}, nil
}

func deleteRecord(ctx context.Context, q dbtx, c generic.Collection, id generic.ID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM records WHERE collection = ? AND id = ?", string(c), string(id))
	if err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", c, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Collection: c, ID: id}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q dbtx) error {
		return fn(&txStore{tx: q})
	})
}

type txStore struct {
	tx dbtx
}

func (ts *txStore) Find(ctx context.Context, c generic.Collection) ([]generic.Record, error) {
	return findRecords(ctx, ts.tx, c)
}

func (ts *txStore) FindByID(ctx context.Context, c generic.Collection, id generic.ID) (generic.Record, error) {
	return findRecord(ctx, ts.tx, c, id)
}

func (ts *txStore) Create(ctx context.Context, c generic.Collection, data json.RawMessage) (generic.Record, error) {
	return createRecord(ctx, ts.tx, c, data)
}

func (ts *txStore) Update(ctx context.Context, c generic.Collection, id generic.ID, patch json.RawMessage) (generic.Record, error) {
	return updateRecord(ctx, ts.tx, c, id, patch)
}

func (ts *txStore) Delete(ctx context.Context, c generic.Collection, id generic.ID) error {
	return deleteRecord(ctx, ts.tx, c, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
