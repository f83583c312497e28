package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the datastore (SQLite).
var Migrations = migrate.NewGroup("datastore")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entries",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS datastore_entries (
    collection      TEXT NOT NULL,
    entry_key       TEXT NOT NULL,
    data            TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (collection, entry_key)
);

CREATE INDEX IF NOT EXISTS idx_datastore_entries_created ON datastore_entries (collection, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS datastore_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_sequences",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS datastore_sequences (
    collection      TEXT PRIMARY KEY,
    value           INTEGER NOT NULL DEFAULT 0
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS datastore_sequences`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_locks",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS datastore_locks (
    collection      TEXT NOT NULL,
    entry_key       TEXT NOT NULL,
    owner           TEXT NOT NULL,
    acquired_at     TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (collection, entry_key)
);

CREATE INDEX IF NOT EXISTS idx_datastore_locks_owner ON datastore_locks (owner);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS datastore_locks`)
				return err
			},
		},
	)
}
