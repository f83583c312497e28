package extension

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/store/s3"
)

// Config keys searched by LoadConfig, in order.
var configKeys = []string{"extensions.datastore", "datastore"}

// Backend drivers the extension can construct on its own.
const (
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// Config holds the datastore extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.datastore" or "datastore" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// FlushMode is "auto" or "commit".
	FlushMode string `json:"flush_mode" mapstructure:"flush_mode" yaml:"flush_mode"`

	// QueueCapacity bounds the entity types a session can hold pending
	// inserts or updates for.
	QueueCapacity int `json:"queue_capacity" mapstructure:"queue_capacity" yaml:"queue_capacity"`

	// MaxOperationsPerType caps pending inserts or updates per entity type.
	MaxOperationsPerType int `json:"max_operations_per_type" mapstructure:"max_operations_per_type" yaml:"max_operations_per_type"`

	// Cache configures the second-level entry cache.
	Cache CacheConfig `json:"cache" mapstructure:"cache" yaml:"cache"`

	// Metrics registers the Prometheus plugin with the default registerer.
	Metrics bool `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// Driver selects the backend built when no store.Store is provided by
	// option or found in the DI container. Defaults to "memory".
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// S3 configures the "s3" driver.
	S3 s3.Config `json:"s3" mapstructure:"s3" yaml:"s3"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// CacheConfig configures the in-memory second-level cache.
type CacheConfig struct {
	Enabled bool          `json:"enabled"  mapstructure:"enabled"  yaml:"enabled"`
	TTL     time.Duration `json:"ttl"      mapstructure:"ttl"      yaml:"ttl"`
	MaxSize int           `json:"max_size" mapstructure:"max_size" yaml:"max_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dc := datastore.DefaultConfig()
	return Config{
		FlushMode:     dc.FlushMode.String(),
		QueueCapacity: dc.QueueCapacity,
		Driver:        DriverMemory,
		Cache: CacheConfig{
			TTL:     5 * time.Minute,
			MaxSize: 10000,
		},
	}
}

// datastoreConfig converts to the core configuration.
func (c Config) datastoreConfig() datastore.Config {
	dc := datastore.DefaultConfig()
	dc.FlushMode = datastore.ParseFlushMode(c.FlushMode)
	if c.QueueCapacity > 0 {
		dc.QueueCapacity = c.QueueCapacity
	}
	dc.MaxOperationsPerType = c.MaxOperationsPerType
	return dc
}

// LoadConfig reads the extension configuration from v, starting from
// DefaultConfig. The bool reports whether any configuration key was found.
func LoadConfig(v *viper.Viper) (Config, bool, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, false, nil
	}
	for _, key := range configKeys {
		if !v.IsSet(key) {
			continue
		}
		hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		))
		if err := v.UnmarshalKey(key, &cfg, hook); err != nil {
			return cfg, true, fmt.Errorf("datastore: decode %q config: %w", key, err)
		}
		return cfg, true, nil
	}
	return cfg, false, nil
}
