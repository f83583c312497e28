package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/store"
)

// ──────────────────────────────────────────────────
// Entry model
// ──────────────────────────────────────────────────

type entryModel struct {
	grove.BaseModel `grove:"table:datastore_entries"`
	Collection      string    `grove:"collection,pk"`
	Key             string    `grove:"entry_key,pk"`
	Data            string    `grove:"data,notnull"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func entryToModel(collection, key string, e mapping.Entry) (*entryModel, error) {
	data, err := store.EncodeEntry(e)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &entryModel{
		Collection: collection,
		Key:        key,
		Data:       string(data),
		CreatedAt:  now,
		UpdatedAt:  now,
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
	Collection      string `grove:"collection,pk"`
	Value           int64  `grove:"value,notnull"`
}

// ──────────────────────────────────────────────────
// Lock model
// ──────────────────────────────────────────────────

type lockModel struct {
	grove.BaseModel `grove:"table:datastore_locks"`
	Collection      string    `grove:"collection,pk"`
	Key             string    `grove:"entry_key,pk"`
	Owner           string    `grove:"owner,notnull"`
	AcquiredAt      time.Time `grove:"acquired_at,notnull"`
}
