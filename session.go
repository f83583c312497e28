package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/pending"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/plugin"
	"github.com/xraph/datastore/store"
)

// Compile-time interface check.
var _ persister.Session = (*Session)(nil)

// State is the lifecycle state of a session.
type State int

const (
	// StateConnected is the normal working state.
	StateConnected State = iota
	// StateFlushing is held while pending operations execute.
	StateFlushing
	// StateDisconnected is terminal.
	StateDisconnected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateFlushing:
		return "flushing"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PostFlushOperation runs after a successful flush. Operations are
// deduplicated by identity when their dynamic type is comparable.
type PostFlushOperation interface {
	Run(ctx context.Context) error
}

// PostFlushFunc adapts a function to PostFlushOperation. Functions are never
// deduplicated.
type PostFlushFunc func(ctx context.Context) error

// Run implements PostFlushOperation.
func (f PostFlushFunc) Run(ctx context.Context) error { return f(ctx) }

// Session is a unit of work over a Datastore. It owns a first-level cache,
// the pending operation queue and per-instance attributes.
//
// A session is meant to be used by one goroutine at a time. Its caches
// tolerate concurrent reads.
type Session struct {
	id        id.SessionID
	datastore *Datastore
	mapping   *mapping.Context
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	stateless bool

	mu                sync.RWMutex
	state             State
	flushMode         FlushMode
	exceptionOccurred bool
	persisters        map[string]persister.Persister
	postFlush         []PostFlushOperation
	transaction       *Transaction
	locked            map[lockRef]struct{}

	cache      *entityCache
	queue      *pending.Queue
	attributes *attributeStore
}

type lockRef struct {
	collection string
	key        string
}

func newSession(d *Datastore, stateless bool) *Session {
	return &Session{
		id:         id.NewSessionID(),
		datastore:  d,
		mapping:    d.mapping,
		store:      d.store,
		plugins:    d.plugins,
		logger:     d.logger,
		stateless:  stateless,
		state:      StateConnected,
		flushMode:  d.config.FlushMode,
		persisters: make(map[string]persister.Persister),
		locked:     make(map[lockRef]struct{}),
		cache:      newEntityCache(),
		queue:      pending.New(d.config.queueOptions()...),
		attributes: newAttributeStore(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Datastore returns the datastore that opened the session.
func (s *Session) Datastore() *Datastore { return s.datastore }

// MappingContext returns the shared mapping context.
func (s *Session) MappingContext() *mapping.Context { return s.mapping }

// Store returns the backend store.
func (s *Session) Store() store.Store { return s.store }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the session has not been disconnected.
func (s *Session) IsConnected() bool { return s.State() != StateDisconnected }

// Stateless reports whether the whole session bypasses the first-level cache.
func (s *Session) Stateless() bool { return s.stateless }

// IsStateless reports whether caching is disabled for e, either for the
// whole session or by the entity mapping.
func (s *Session) IsStateless(e *mapping.PersistentEntity) bool {
	return s.stateless || e.IsStateless()
}

// FlushMode returns the current flush mode.
func (s *Session) FlushMode() FlushMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushMode
}

// SetFlushMode changes the flush mode.
func (s *Session) SetFlushMode(m FlushMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushMode = m
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateDisconnected {
		return ErrSessionClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Persister resolution
// ──────────────────────────────────────────────────

// Persister returns the persister for e, creating and memoizing it on first
// use.
func (s *Session) Persister(e *mapping.PersistentEntity) (persister.Persister, error) {
	if e == nil {
		return nil, ErrNonPersistentType
	}
	s.mu.RLock()
	p, ok := s.persisters[e.Name]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.persisters[e.Name]; ok {
		return p, nil
	}
	p = s.datastore.createPersister(e, s)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNonPersistentType, e.Name)
	}
	if !s.IsStateless(e) {
		s.cache.ensureSlot(e.Name)
	}
	s.persisters[e.Name] = p
	return p, nil
}

// resolveEntity accepts an entity name, entity metadata, a reflect.Type or
// an instance.
func (s *Session) resolveEntity(typ any) *mapping.PersistentEntity {
	switch t := typ.(type) {
	case nil:
		return nil
	case string:
		return s.mapping.PersistentEntity(t)
	case *mapping.PersistentEntity:
		return t
	case reflect.Type:
		return s.mapping.EntityForType(t)
	default:
		return s.mapping.EntityFor(t)
	}
}

func (s *Session) persisterForType(typ any) (persister.Persister, error) {
	e := s.resolveEntity(typ)
	if e == nil {
		return nil, fmt.Errorf("%w: %v", ErrNonPersistentType, typeName(typ))
	}
	return s.Persister(e)
}

func (s *Session) persisterFor(instance any) (persister.Persister, error) {
	e := s.mapping.EntityFor(instance)
	if e == nil {
		return nil, fmt.Errorf("%w: %T", ErrNonPersistentType, instance)
	}
	return s.Persister(e)
}

func typeName(typ any) string {
	switch t := typ.(type) {
	case string:
		return t
	case reflect.Type:
		return t.String()
	default:
		return fmt.Sprintf("%T", typ)
	}
}

// EntityAccess wraps instance for reading and writing its mapped state and
// assigns the instance its attribute handle.
func (s *Session) EntityAccess(instance any) (*mapping.EntityAccess, error) {
	e := s.mapping.EntityFor(instance)
	if e == nil {
		return nil, fmt.Errorf("%w: %T", ErrNonPersistentType, instance)
	}
	acc, err := s.mapping.CreateEntityAccess(e, instance)
	if err != nil {
		return nil, err
	}
	s.attributes.handle(instance, true)
	return acc, nil
}

// Handle returns the attribute handle assigned to instance, if any.
func (s *Session) Handle(instance any) (id.ID, bool) {
	return s.attributes.handle(instance, false)
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

// Persist saves instance, assigning an identifier to new instances, and
// returns the identifier. The write is queued until Flush.
func (s *Session) Persist(ctx context.Context, instance any) (any, error) {
	p, err := s.writePersister(instance)
	if err != nil {
		return nil, err
	}
	key, err := p.Persist(ctx, instance)
	if err != nil {
		return nil, err
	}
	s.CacheInstance(p.Entity(), key, instance)
	return key, nil
}

// Insert queues an insert of instance even if it already has an identifier.
func (s *Session) Insert(ctx context.Context, instance any) (any, error) {
	p, err := s.writePersister(instance)
	if err != nil {
		return nil, err
	}
	key, err := p.Insert(ctx, instance)
	if err != nil {
		return nil, err
	}
	s.CacheInstance(p.Entity(), key, instance)
	return key, nil
}

func (s *Session) writePersister(instance any) (persister.Persister, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, ErrNilInstance
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return nil, err
	}
	s.attributes.handle(instance, true)
	return p, nil
}

// PersistAll persists a batch through the persister of its first element.
// Batches mixing entity types are not supported: the persister rejects
// instances of other types.
func (s *Session) PersistAll(ctx context.Context, instances []any) ([]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return []any{}, nil
	}
	p, err := s.writePersister(instances[0])
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		s.attributes.handle(inst, true)
	}
	return p.PersistAll(ctx, instances)
}

// Delete queues a delete of instance. Nil instances are ignored.
func (s *Session) Delete(ctx context.Context, instance any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if instance == nil {
		return nil
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return err
	}
	return p.Delete(ctx, instance)
}

// DeleteAll groups instances by persister and queues one batched delete per
// group. Groups are queued in the order their first instance appears.
func (s *Session) DeleteAll(ctx context.Context, instances []any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var (
		order  []persister.Persister
		groups = make(map[string][]any)
	)
	for _, inst := range instances {
		if inst == nil {
			continue
		}
		p, err := s.persisterFor(inst)
		if err != nil {
			return err
		}
		name := p.Entity().Name
		if _, ok := groups[name]; !ok {
			order = append(order, p)
		}
		groups[name] = append(groups[name], inst)
	}
	for _, p := range order {
		if err := p.DeleteAll(ctx, groups[p.Entity().Name]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllMatching lists q and deletes every result. It returns the number
// of instances queued for deletion.
func (s *Session) DeleteAllMatching(ctx context.Context, q *persister.Query) (int, error) {
	list, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.DeleteAll(ctx, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// UpdateAllMatching lists q, sets props on every result and persists them.
// It returns the number of instances updated.
func (s *Session) UpdateAllMatching(ctx context.Context, q *persister.Query, props map[string]any) (int, error) {
	list, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, inst := range list {
		acc, err := s.EntityAccess(inst)
		if err != nil {
			return 0, err
		}
		for name, v := range props {
			if err := acc.SetProperty(name, v); err != nil {
				return 0, err
			}
		}
	}
	if _, err := s.PersistAll(ctx, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func isNullKey(key any) bool {
	if key == nil {
		return true
	}
	str, ok := key.(string)
	return ok && str == "null"
}

// convertKey converts key to the identity type, keeping the original key
// when conversion fails.
func (s *Session) convertKey(e *mapping.PersistentEntity, key any) any {
	v, err := s.mapping.ConversionService().Convert(key, e.Identity.Type)
	if err != nil || v == nil {
		return key
	}
	return v
}

// Retrieve returns the instance of typ with key, or nil when none exists.
// typ is an entity name, *mapping.PersistentEntity, reflect.Type or a sample
// instance. Instances already in the session are returned without I/O.
func (s *Session) Retrieve(ctx context.Context, typ any, key any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if isNullKey(key) || typ == nil {
		return nil, nil
	}
	p, err := s.persisterForType(typ)
	if err != nil {
		return nil, err
	}
	e := p.Entity()
	key = s.convertKey(e, key)

	if cached := s.CachedInstance(e, key); cached != nil {
		return cached, nil
	}
	inst, err := p.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		s.CacheInstance(e, key, inst)
	}
	return inst, nil
}

// RetrieveAll returns one result per key, in key order, with nil where no
// instance exists. Cached instances are reused and the rest are fetched in
// one batch.
func (s *Session) RetrieveAll(ctx context.Context, typ any, keys []any) ([]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.persisterForType(typ)
	if err != nil {
		return nil, err
	}
	e := p.Entity()

	out := make([]any, len(keys))
	var (
		missIdx  []int
		missKeys []any
	)
	for i, k := range keys {
		if isNullKey(k) {
			continue
		}
		ck := s.convertKey(e, k)
		if cached := s.CachedInstance(e, ck); cached != nil {
			out[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, ck)
	}
	if len(missKeys) == 0 {
		return out, nil
	}

	found, err := p.RetrieveAll(ctx, missKeys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]any, len(found))
	for _, inst := range found {
		if inst == nil {
			continue
		}
		byKey[s.keyString(p.ObjectIdentifier(inst))] = inst
	}
	for j, i := range missIdx {
		inst, ok := byKey[s.keyString(missKeys[j])]
		if !ok {
			continue
		}
		out[i] = inst
		s.CacheInstance(e, missKeys[j], inst)
	}
	return out, nil
}

func (s *Session) keyString(key any) string {
	str, err := s.mapping.ConversionService().ToString(key)
	if err != nil {
		return fmt.Sprint(key)
	}
	return str
}

// Refresh reloads instance state from the backend.
func (s *Session) Refresh(ctx context.Context, instance any) error {
	p, err := s.writePersister(instance)
	if err != nil {
		return err
	}
	if _, err := p.Refresh(ctx, instance); err != nil {
		return err
	}
	s.CacheInstance(p.Entity(), p.ObjectIdentifier(instance), instance)
	return nil
}

// Attach associates a detached instance that has an identifier with the
// session.
func (s *Session) Attach(instance any) error {
	p, err := s.writePersister(instance)
	if err != nil {
		return err
	}
	if key := p.ObjectIdentifier(instance); key != nil {
		s.CacheInstance(p.Entity(), key, instance)
	}
	return nil
}

// ObjectIdentifier returns the identifier of instance, or nil.
func (s *Session) ObjectIdentifier(instance any) any {
	if instance == nil {
		return nil
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return nil
	}
	return p.ObjectIdentifier(instance)
}

// CreateQuery starts a query over typ. In FlushAuto mode pending work is
// flushed before the query runs.
func (s *Session) CreateQuery(typ any) (*persister.Query, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.persisterForType(typ)
	if err != nil {
		return nil, err
	}
	return p.CreateQuery().BeforeList(func(ctx context.Context) error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		if s.FlushMode() == FlushAuto && !s.queue.Empty() {
			return s.Flush(ctx)
		}
		return nil
	}), nil
}

// Contains reports whether instance is held by the first-level cache.
func (s *Session) Contains(instance any) bool {
	if instance == nil || s.stateless || s.checkOpen() != nil {
		return false
	}
	p, err := s.persisterFor(instance)
	if err != nil || s.IsStateless(p.Entity()) {
		return false
	}
	name := p.Entity().Name
	if key := p.ObjectIdentifier(instance); key != nil {
		return sameInstance(s.cache.getInstance(name, key), instance)
	}
	return s.cache.containsInstance(name, instance)
}

// IsCached reports whether an instance of typ with key is cached.
func (s *Session) IsCached(typ any, key any) bool {
	e := s.resolveEntity(typ)
	if e == nil || key == nil || s.IsStateless(e) {
		return false
	}
	return s.cache.hasInstance(e.Name, s.convertKey(e, key))
}

// ──────────────────────────────────────────────────
// First-level cache (persister.Session)
// ──────────────────────────────────────────────────

// CachedInstance returns the cached instance for e and key, or nil.
func (s *Session) CachedInstance(e *mapping.PersistentEntity, key any) any {
	if e == nil || key == nil || s.IsStateless(e) {
		return nil
	}
	return s.cache.getInstance(e.Name, key)
}

// CacheInstance caches instance under e and key.
func (s *Session) CacheInstance(e *mapping.PersistentEntity, key, instance any) {
	if e == nil || s.IsStateless(e) {
		return
	}
	s.cache.putInstance(e.Name, key, instance)
}

// CachedEntry returns the live entry, or the dirty-check baseline when
// forDirtyCheck is set.
func (s *Session) CachedEntry(e *mapping.PersistentEntity, key any, forDirtyCheck bool) mapping.Entry {
	if e == nil || key == nil || s.IsStateless(e) {
		return nil
	}
	return s.cache.getEntry(e.Name, key, forDirtyCheck)
}

// CacheEntry caches entry and an independent dirty-check baseline copy.
func (s *Session) CacheEntry(e *mapping.PersistentEntity, key any, entry mapping.Entry) {
	if e == nil || s.IsStateless(e) {
		return
	}
	s.cache.putEntry(e.Name, key, entry)
}

// CachedCollection returns a cached association collection.
func (s *Session) CachedCollection(e *mapping.PersistentEntity, key any, name string) any {
	if e == nil || key == nil || s.IsStateless(e) {
		return nil
	}
	return s.cache.getCollection(e.Name, key, name)
}

// CacheCollection caches an association collection of the instance with key.
func (s *Session) CacheCollection(e *mapping.PersistentEntity, key any, name string, coll any) {
	if e == nil || s.IsStateless(e) {
		return
	}
	s.cache.putCollection(e.Name, key, name, coll)
}

// Forget drops the instance and entries cached for e and key.
func (s *Session) Forget(e *mapping.PersistentEntity, key any) {
	if e == nil || key == nil {
		return
	}
	s.cache.evict(e.Name, key)
	s.cache.removeEntries(e.Name, key)
}

// EnqueueInsert implements persister.Session.
func (s *Session) EnqueueInsert(op *pending.Operation) error { return s.queue.EnqueueInsert(op) }

// EnqueueUpdate implements persister.Session.
func (s *Session) EnqueueUpdate(op *pending.Operation) error { return s.queue.EnqueueUpdate(op) }

// EnqueueDelete implements persister.Session.
func (s *Session) EnqueueDelete(op *pending.Operation) error { return s.queue.EnqueueDelete(op) }

// IsPendingAlready implements persister.Session.
func (s *Session) IsPendingAlready(instance any) bool { return s.queue.IsPendingAlready(instance) }

// PendingInserts returns the queued inserts in execution order.
func (s *Session) PendingInserts() []*pending.Operation { return s.queue.Inserts() }

// PendingUpdates returns the queued updates in execution order.
func (s *Session) PendingUpdates() []*pending.Operation { return s.queue.Updates() }

// PendingDeletes returns the queued deletes in execution order.
func (s *Session) PendingDeletes() []*pending.Operation { return s.queue.Deletes() }

// ──────────────────────────────────────────────────
// Flush
// ──────────────────────────────────────────────────

// AddPostFlushOperation registers op to run after the next successful flush.
func (s *Session) AddPostFlushOperation(op PostFlushOperation) {
	if op == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.TypeOf(op).Comparable() {
		for _, existing := range s.postFlush {
			if reflect.TypeOf(existing).Comparable() && existing == op {
				return
			}
		}
	}
	s.postFlush = append(s.postFlush, op)
}

// Flush executes every pending insert, then update, then delete. It is a
// no-op while a flush is already running and fails with
// ErrFlushAfterException once a previous flush failed. Pending state is
// cleared whether or not the flush succeeds.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateDisconnected:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state == StateFlushing:
		s.mu.Unlock()
		return nil
	case s.exceptionOccurred:
		s.mu.Unlock()
		return ErrFlushAfterException
	}
	if s.queue.Empty() {
		s.mu.Unlock()
		return nil
	}
	s.state = StateFlushing
	s.mu.Unlock()

	queued := s.queue.Len()
	if s.plugins != nil {
		s.plugins.EmitBeforeFlush(ctx, s.id, queued)
	}
	start := time.Now()
	stats, err := s.flushPending(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.state == StateFlushing {
		s.state = StateConnected
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("datastore: flush failed",
			slog.String("session", s.id.String()),
			slog.String("error", err.Error()),
		)
		if s.plugins != nil {
			s.plugins.EmitFlushFailed(ctx, s.id, err)
		}
		return err
	}
	s.postFlushHook(ctx, stats, elapsed)
	return nil
}

func (s *Session) flushPending(ctx context.Context) (stats pending.Stats, err error) {
	defer func() {
		s.queue.Clear()
		s.mu.Lock()
		s.postFlush = nil
		s.mu.Unlock()
	}()

	stats, err = s.queue.Flush(ctx, s.markFailed)
	if err != nil {
		return stats, err
	}
	s.handleDirtyCollections()
	s.cache.clearCollections()

	s.mu.RLock()
	ops := append([]PostFlushOperation(nil), s.postFlush...)
	s.mu.RUnlock()
	for _, op := range ops {
		if err := op.Run(ctx); err != nil {
			s.markFailed(err)
			return stats, fmt.Errorf("datastore: post-flush operation: %w", err)
		}
	}
	return stats, nil
}

// markFailed moves the session into commit-only mode and blocks further
// flushes until Clear.
func (s *Session) markFailed(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushMode = FlushCommit
	s.exceptionOccurred = true
}

// ExceptionOccurred reports whether a flush failed since the last Clear.
func (s *Session) ExceptionOccurred() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exceptionOccurred
}

func (s *Session) postFlushHook(ctx context.Context, stats pending.Stats, elapsed time.Duration) {
	s.logger.Debug("datastore: flushed",
		slog.String("session", s.id.String()),
		slog.Int("inserts", stats.Inserts),
		slog.Int("updates", stats.Updates),
		slog.Int("deletes", stats.Deletes),
		slog.Duration("elapsed", elapsed),
	)
	if s.plugins != nil {
		s.plugins.EmitAfterFlush(ctx, s.id, stats, elapsed)
	}
}

// ──────────────────────────────────────────────────
// Clear and eviction
// ──────────────────────────────────────────────────

// Clear resets the session: every cache, the pending queue, instance
// attributes and the failed-flush flag.
func (s *Session) Clear() {
	s.cache.clear()
	s.queue.Clear()
	s.attributes.clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptionOccurred = false
	s.postFlush = nil
}

// ClearInstance evicts one instance and its attributes. Cached entries are
// kept.
func (s *Session) ClearInstance(instance any) {
	if instance == nil {
		return
	}
	s.attributes.remove(instance)
	if s.stateless {
		return
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return
	}
	if key := p.ObjectIdentifier(instance); key != nil {
		s.cache.evict(p.Entity().Name, key)
	}
}

// ──────────────────────────────────────────────────
// Attributes
// ──────────────────────────────────────────────────

// SetAttribute stores a transient attribute for instance. A nil value
// removes it.
func (s *Session) SetAttribute(instance any, name string, value any) {
	s.attributes.set(instance, name, value)
}

// Attribute returns a transient attribute of instance.
func (s *Session) Attribute(instance any, name string) any {
	return s.attributes.get(instance, name)
}

// SetSessionProperty stores a session-scoped property.
func (s *Session) SetSessionProperty(name string, value any) {
	s.attributes.setSessionProperty(name, value)
}

// SessionProperty returns a session-scoped property.
func (s *Session) SessionProperty(name string) any {
	return s.attributes.sessionProperty(name)
}

// ClearSessionProperty removes a session-scoped property and returns its
// previous value.
func (s *Session) ClearSessionProperty(name string) any {
	return s.attributes.clearSessionProperty(name)
}

// ──────────────────────────────────────────────────
// Locking
// ──────────────────────────────────────────────────

func (s *Session) locker() (store.Locker, error) {
	lk, ok := s.store.(store.Locker)
	if !ok {
		return nil, ErrLockingUnsupported
	}
	return lk, nil
}

// Lock acquires a pessimistic lock on instance. Backends without locking
// return ErrLockingUnsupported.
func (s *Session) Lock(ctx context.Context, instance any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	lk, err := s.locker()
	if err != nil {
		return err
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return err
	}
	key := p.ObjectIdentifier(instance)
	if key == nil {
		return fmt.Errorf("datastore: cannot lock an unsaved %s", p.Entity().Name)
	}
	ref := lockRef{collection: p.Entity().CollectionName(), key: s.keyString(key)}
	if err := lk.Lock(ctx, ref.collection, ref.key, s.id.String()); err != nil {
		return err
	}
	s.mu.Lock()
	s.locked[ref] = struct{}{}
	s.mu.Unlock()
	return nil
}

// LockKey locks the entry of typ with key and returns the instance.
func (s *Session) LockKey(ctx context.Context, typ any, key any) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	lk, err := s.locker()
	if err != nil {
		return nil, err
	}
	p, err := s.persisterForType(typ)
	if err != nil {
		return nil, err
	}
	e := p.Entity()
	key = s.convertKey(e, key)
	ref := lockRef{collection: e.CollectionName(), key: s.keyString(key)}
	if err := lk.Lock(ctx, ref.collection, ref.key, s.id.String()); err != nil {
		return nil, err
	}
	inst, err := s.Retrieve(ctx, e, key)
	if err != nil || inst == nil {
		_ = lk.Unlock(ctx, ref.collection, ref.key, s.id.String())
		return nil, err
	}
	s.mu.Lock()
	s.locked[ref] = struct{}{}
	s.mu.Unlock()
	return inst, nil
}

// Unlock releases a lock taken by this session on instance.
func (s *Session) Unlock(ctx context.Context, instance any) error {
	if instance == nil {
		return nil
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return err
	}
	key := p.ObjectIdentifier(instance)
	if key == nil {
		return nil
	}
	ref := lockRef{collection: p.Entity().CollectionName(), key: s.keyString(key)}
	s.mu.Lock()
	_, ok := s.locked[ref]
	delete(s.locked, ref)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	lk, err := s.locker()
	if err != nil {
		return err
	}
	return lk.Unlock(ctx, ref.collection, ref.key, s.id.String())
}

// ──────────────────────────────────────────────────
// Disconnect
// ──────────────────────────────────────────────────

// Disconnect releases locks, clears all session state and unbinds the
// session. Further operations fail with ErrSessionClosed.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	locked := s.locked
	s.locked = make(map[lockRef]struct{})
	s.transaction = nil
	s.mu.Unlock()

	var errs []error
	if lk, ok := s.store.(store.Locker); ok {
		for ref := range locked {
			if err := lk.Unlock(ctx, ref.collection, ref.key, s.id.String()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.cache.clear()
	s.queue.Clear()
	s.attributes.reset()
	s.mu.Lock()
	s.exceptionOccurred = false
	s.postFlush = nil
	s.mu.Unlock()

	s.datastore.sessionClosed(ctx, s)
	return errors.Join(errs...)
}
