package datastore

import "github.com/xraph/datastore/pending"

// FlushMode controls when a session flushes on its own.
type FlushMode int

const (
	// FlushAuto flushes pending work before queries run.
	FlushAuto FlushMode = iota
	// FlushCommit flushes only on explicit Flush or transaction commit.
	FlushCommit
)

// String implements fmt.Stringer.
func (m FlushMode) String() string {
	if m == FlushCommit {
		return "commit"
	}
	return "auto"
}

// ParseFlushMode maps "auto" and "commit" to a FlushMode. Anything else is
// FlushAuto.
func ParseFlushMode(s string) FlushMode {
	if s == "commit" {
		return FlushCommit
	}
	return FlushAuto
}

// Config holds configuration for the Datastore.
type Config struct {
	// QueueCapacity is the number of distinct entity types a session can
	// hold pending inserts or updates for. Defaults to 5000.
	QueueCapacity int `json:"queue_capacity,omitempty"`

	// MaxOperationsPerType caps pending inserts or updates per entity type.
	// Zero means no per-type cap.
	MaxOperationsPerType int `json:"max_operations_per_type,omitempty"`

	// FlushMode is the initial flush mode of new sessions.
	FlushMode FlushMode `json:"flush_mode,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: pending.DefaultCapacity,
		FlushMode:     FlushAuto,
	}
}

func (c Config) queueOptions() []pending.Option {
	return []pending.Option{
		pending.WithCapacity(c.QueueCapacity),
		pending.WithMaxOperationsPerType(c.MaxOperationsPerType),
	}
}
