// Package mongo provides a MongoDB implementation of the datastore backend
// using grove's mongo driver. Each entry is one document whose id joins the
// collection and entry key.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store"
)

// Collection name constants.
const (
	colEntries   = "datastore_entries"
	colSequences = "datastore_sequences"
	colLocks     = "datastore_locks"
)

// Compile-time interface checks.
var (
	_ store.Store                 = (*Store)(nil)
	_ store.Locker                = (*Store)(nil)
	_ persister.SequenceGenerator = (*Store)(nil)
)

// Store is a MongoDB implementation of the datastore backend.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for the datastore collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("datastore/mongo: migrate %s indexes: %w", col, err)
		}
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colEntries: {
			{
				Keys:    bson.D{{Key: "collection", Value: 1}, {Key: "entry_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colLocks: {
			{Keys: bson.D{{Key: "owner", Value: 1}}},
		},
	}
}

// ──────────────────────────────────────────────────
// Entry operations
// ──────────────────────────────────────────────────

func (s *Store) InsertEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	m, err := entryToModel(collection, key, entry)
	if err != nil {
		return err
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrDuplicateKey)
		}
		return fmt.Errorf("datastore/mongo: insert entry: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, collection, key string, entry mapping.Entry) error {
	var existing entryModel
	err := s.mdb.NewFind(&existing).
		Filter(bson.M{"_id": documentID(collection, key)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
		}
		return fmt.Errorf("datastore/mongo: load entry: %w", err)
	}
	m, err := entryToModel(collection, key, entry)
	if err != nil {
		return err
	}
	m.CreatedAt = existing.CreatedAt

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/mongo: update entry: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, collection, key string) (mapping.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": documentID(collection, key)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, persister.ErrEntryNotFound)
		}
		return nil, fmt.Errorf("datastore/mongo: get entry: %w", err)
	}
	return entryFromModel(&m)
}

func (s *Store) GetEntries(ctx context.Context, collection string, keys []string) (map[string]mapping.Entry, error) {
	out := make(map[string]mapping.Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = documentID(collection, k)
	}
	var models []entryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore/mongo: get entries: %w", err)
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
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = documentID(collection, k)
	}
	_, err := s.mdb.NewDelete((*entryModel)(nil)).
		Many().
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/mongo: delete entries: %w", err)
	}
	_, err = s.mdb.NewDelete((*lockModel)(nil)).
		Many().
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/mongo: delete entry locks: %w", err)
	}
	return nil
}

// ListEntries loads the collection in creation order and applies c in
// memory.
func (s *Store) ListEntries(ctx context.Context, collection string, c persister.Criteria) ([]mapping.Entry, error) {
	var models []entryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"collection": collection}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore/mongo: list entries: %w", err)
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

// NextSequence increments the collection counter atomically on the server.
func (s *Store) NextSequence(ctx context.Context, collection string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var m sequenceModel
	err := s.mdb.Collection(colSequences).
		FindOneAndUpdate(ctx, bson.M{"_id": collection}, bson.M{"$inc": bson.M{"value": int64(1)}}, opts).
		Decode(&m)
	if err != nil {
		return 0, fmt.Errorf("datastore/mongo: next sequence: %w", err)
	}
	return m.Value, nil
}

// ──────────────────────────────────────────────────
// Lock operations
// ──────────────────────────────────────────────────

func (s *Store) Lock(ctx context.Context, collection, key, owner string) error {
	m := &lockModel{
		ID:         documentID(collection, key),
		Collection: collection,
		Key:        key,
		Owner:      owner,
		AcquiredAt: now(),
	}
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err == nil {
		return nil
	}
	if !mongod.IsDuplicateKeyError(err) {
		return fmt.Errorf("datastore/mongo: lock: %w", err)
	}
	var held lockModel
	if err := s.mdb.NewFind(&held).Filter(bson.M{"_id": m.ID}).Scan(ctx); err != nil {
		return fmt.Errorf("datastore/mongo: read lock: %w", err)
	}
	if held.Owner != owner {
		return fmt.Errorf("%s/%s: %w", collection, key, store.ErrLocked)
	}
	return nil
}

func (s *Store) Unlock(ctx context.Context, collection, key, owner string) error {
	_, err := s.mdb.NewDelete((*lockModel)(nil)).
		Filter(bson.M{"_id": documentID(collection, key), "owner": owner}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("datastore/mongo: unlock: %w", err)
	}
	return nil
}
