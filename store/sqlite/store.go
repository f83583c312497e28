// Package sqlite provides a SQLite implementation of the datastore backend
// using grove ORM with Go-based migrations. Entries are stored as JSON text
// in a single table keyed by collection and entry key.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store"
)

// Compile-time interface checks.
var (
	_ store.Store                 = (*Store)(nil)
	_ store.Locker                = (*Store)(nil)
	_ persister.SequenceGenerator = (*Store)(nil)
)

// Store is a SQLite implementation of the datastore backend.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB

	// seqMu serializes the upsert-then-read of NextSequence.
	seqMu sync.Mutex
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("datastore/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches the SQLite constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ──────────────────────────────────────────────────
// Entry operations
// ──────────────────────────────────────────────────

func (s *Store) InsertEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	m, err := entryToModel(collection, key, entry)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrDuplicateKey)
		}
		return fmt.Errorf("datastore/sqlite: insert entry: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	data, err := store.EncodeEntry(entry)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*entryModel)(nil)).
		Set("data = ?", string(data)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("collection = ?", collection).
		Where("entry_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore/sqlite: update entry rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, collection, key string) (mapping.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where("collection = ?", collection).
		Where("entry_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
		}
		return nil, fmt.Errorf("datastore/sqlite: get entry: %w", err)
	}
	return entryFromModel(m)
}

func (s *Store) GetEntries(ctx context.Context, collection string, keys []string) (map[string]mapping.Entry, error) {
	out := make(map[string]mapping.Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var models []entryModel
	err := s.sdb.NewSelect(&models).
		Where("collection = ?", collection).
		Where("entry_key IN (?)", keys).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore/sqlite: get entries: %w", err)
	}
	for i := range models {
		e, err := entryFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[models[i].Key] = e
	}
	return out, nil
}

func (s *Store) DeleteEntries(ctx context.Context, collection string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.sdb.NewDelete((*entryModel)(nil)).
		Where("collection = ?", collection).
		Where("entry_key IN (?)", keys).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: delete entries: %w", err)
	}
	_, err = s.sdb.NewDelete((*lockModel)(nil)).
		Where("collection = ?", collection).
		Where("entry_key IN (?)", keys).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: delete entry locks: %w", err)
	}
	return nil
}

// ListEntries loads the collection in insertion order and applies c in
// memory.
func (s *Store) ListEntries(ctx context.Context, collection string, c persister.Criteria) ([]mapping.Entry, error) {
	var models []entryModel
	err := s.sdb.NewSelect(&models).
		Where("collection = ?", collection).
		OrderExpr("created_at ASC, rowid ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore/sqlite: list entries: %w", err)
	}
	entries := make([]mapping.Entry, 0, len(models))
	for i := range models {
		e, err := entryFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return persister.ApplyCriteria(entries, c), nil
}

// ──────────────────────────────────────────────────
// Sequence operations
// ──────────────────────────────────────────────────

func (s *Store) NextSequence(ctx context.Context, collection string) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	_, err := s.sdb.NewInsert(&sequenceModel{Collection: collection, Value: 1}).
		OnConflict("(collection) DO UPDATE SET value = value + 1").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("datastore/sqlite: next sequence: %w", err)
	}
	m := new(sequenceModel)
	if err := s.sdb.NewSelect(m).Where("collection = ?", collection).Scan(ctx); err != nil {
		return 0, fmt.Errorf("datastore/sqlite: read sequence: %w", err)
	}
	return m.Value, nil
}

// ──────────────────────────────────────────────────
// Lock operations
// ──────────────────────────────────────────────────

func (s *Store) Lock(ctx context.Context, collection, key, owner string) error {
	_, err := s.sdb.NewInsert(&lockModel{
		Collection: collection,
		Key:        key,
		Owner:      owner,
		AcquiredAt: time.Now().UTC(),
	}).
		OnConflict("(collection, entry_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: lock: %w", err)
	}
	held := new(lockModel)
	err = s.sdb.NewSelect(held).
		Where("collection = ?", collection).
		Where("entry_key = ?", key).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: read lock: %w", err)
	}
	if held.Owner != owner {
		return fmt.Errorf("%s/%s: %w", collection, key, store.ErrLocked)
	}
	return nil
}

func (s *Store) Unlock(ctx context.Context, collection, key, owner string) error {
	_, err := s.sdb.NewDelete((*lockModel)(nil)).
		Where("collection = ?", collection).
		Where("entry_key = ?", key).
		Where("owner = ?", owner).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/sqlite: unlock: %w", err)
	}
	return nil
}
