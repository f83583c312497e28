package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/store"
)

// ──────────────────────────────────────────────────
// Entry model
// ──────────────────────────────────────────────────

// entryModel stores one entry per document. The document id joins the
// collection and key so lookups stay on the primary index.
type entryModel struct {
	grove.BaseModel `grove:"table:datastore_entries"`
	ID              string    `grove:"id,pk"        bson:"_id"`
	Collection      string    `grove:"collection"   bson:"collection"`
	Key             string    `grove:"entry_key"    bson:"entry_key"`
	Data            string    `grove:"data"         bson:"data"`
	CreatedAt       time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"   bson:"updated_at"`
}

func documentID(collection, key string) string {
	return collection + ":" + key
}

func entryToModel(collection, key string, e mapping.Entry) (*entryModel, error) {
	data, err := store.EncodeEntry(e)
	if err != nil {
		return nil, err
	}
	t := now()
	return &entryModel{
		ID:         documentID(collection, key),
		Collection: collection,
		Key:        key,
		Data:       string(data),
		CreatedAt:  t,
		UpdatedAt:  t,
	}, nil
}

func entryFromModel(m *entryModel) (mapping.Entry, error) {
	return store.DecodeEntry([]byte(m.Data))
}

// ──────────────────────────────────────────────────
// Sequence model
// ──────────────────────────────────────────────────

type sequenceModel struct {
	grove.BaseModel `grove:"table:datastore_sequences"`
	Collection      string `grove:"id,pk"   bson:"_id"`
	Value           int64  `grove:"value"   bson:"value"`
}

// ──────────────────────────────────────────────────
// Lock model
// ──────────────────────────────────────────────────

type lockModel struct {
	grove.BaseModel `grove:"table:datastore_locks"`
	ID              string    `grove:"id,pk"         bson:"_id"`
	Collection      string    `grove:"collection"    bson:"collection"`
	Key             string    `grove:"entry_key"     bson:"entry_key"`
	Owner           string    `grove:"owner"         bson:"owner"`
	AcquiredAt      time.Time `grove:"acquired_at"   bson:"acquired_at"`
}
