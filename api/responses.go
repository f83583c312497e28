package api

import (
	"github.com/xraph/datastore/mapping"
)

// EntityInfo describes a registered persistent entity.
type EntityInfo struct {
	Name       string   `json:"name" description:"Entity name"`
	Collection string   `json:"collection" description:"Backend collection"`
	Identity   string   `json:"identity" description:"Identifier property"`
	Properties []string `json:"properties" description:"Persistent properties"`
	Versioned  bool     `json:"versioned" description:"Whether optimistic locking is enabled"`
	Stateless  bool     `json:"stateless" description:"Whether sessions bypass the first-level cache"`
	Parent     string   `json:"parent,omitempty" description:"Parent entity name"`
}

// ListResponse wraps a list of items with pagination metadata.
type ListResponse[T any] struct {
	Items  []T `json:"items" description:"List of items"`
	Limit  int `json:"limit" description:"Page size"`
	Offset int `json:"offset" description:"Page offset"`
}

// StatsResponse reports datastore activity.
type StatsResponse struct {
	OpenSessions int         `json:"open_sessions" description:"Connected sessions"`
	Entities     int         `json:"entities" description:"Registered entities"`
	Cache        *CacheStats `json:"cache,omitempty" description:"Second-level cache counters"`
}

// CacheStats mirrors the second-level cache counters.
type CacheStats struct {
	Hits   int64 `json:"hits" description:"Lookups served from the cache"`
	Misses int64 `json:"misses" description:"Lookups that missed"`
	Size   int   `json:"size" description:"Cached entries"`
}

// EntryResponse is a stored entry keyed by property name.
type EntryResponse = mapping.Entry
