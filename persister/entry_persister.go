package persister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/pending"
)

// Compile-time interface check.
var _ NativeEntryPersister = (*EntryPersister)(nil)

// Option configures an EntryPersister.
type Option func(*EntryPersister)

// WithCache attaches a second-level entry cache.
func WithCache(c CacheAdapter) Option {
	return func(p *EntryPersister) { p.cache = c }
}

// WithListener registers a listener for completed writes.
func WithListener(l Listener) Option {
	return func(p *EntryPersister) { p.listener = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *EntryPersister) { p.logger = l }
}

// EntryPersister persists one entity type as native entries in a Backend.
type EntryPersister struct {
	entity   *mapping.PersistentEntity
	session  Session
	backend  Backend
	cache    CacheAdapter
	listener Listener
	logger   *slog.Logger
}

// NewEntryPersister creates a persister for entity bound to session.
func NewEntryPersister(entity *mapping.PersistentEntity, session Session, backend Backend, opts ...Option) *EntryPersister {
	p := &EntryPersister{
		entity:  entity,
		session: session,
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Entity implements Persister.
func (p *EntryPersister) Entity() *mapping.PersistentEntity { return p.entity }

func (p *EntryPersister) collection() string { return p.entity.CollectionName() }

func (p *EntryPersister) access(instance any) (*mapping.EntityAccess, error) {
	return p.session.MappingContext().CreateEntityAccess(p.entity, instance)
}

func (p *EntryPersister) keyString(key any) (string, error) {
	return p.session.MappingContext().ConversionService().ToString(key)
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

// Persist implements Persister. New instances get an identifier and an
// insert; known instances get an update only when they differ from the
// entry they were loaded from.
func (p *EntryPersister) Persist(ctx context.Context, instance any) (any, error) {
	acc, err := p.access(instance)
	if err != nil {
		return nil, err
	}
	key := acc.Identifier()
	if key == nil {
		if key, err = p.assignIdentifier(ctx, acc); err != nil {
			return nil, err
		}
		return key, p.enqueueInsert(acc, key)
	}

	if p.session.IsPendingAlready(instance) {
		return key, nil
	}

	baseline := p.session.CachedEntry(p.entity, key, true)
	if baseline == nil {
		exists, err := p.exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return key, p.enqueueInsert(acc, key)
		}
	} else if !p.IsDirty(instance, baseline) {
		p.session.CacheInstance(p.entity, key, instance)
		return key, nil
	}
	return key, p.enqueueUpdate(acc, key, baseline)
}

// PersistAll implements Persister.
func (p *EntryPersister) PersistAll(ctx context.Context, instances []any) ([]any, error) {
	keys := make([]any, 0, len(instances))
	for _, inst := range instances {
		key, err := p.Persist(ctx, inst)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Insert implements Persister.
func (p *EntryPersister) Insert(ctx context.Context, instance any) (any, error) {
	acc, err := p.access(instance)
	if err != nil {
		return nil, err
	}
	key := acc.Identifier()
	if key == nil {
		if key, err = p.assignIdentifier(ctx, acc); err != nil {
			return nil, err
		}
	}
	return key, p.enqueueInsert(acc, key)
}

func (p *EntryPersister) exists(ctx context.Context, key any) (bool, error) {
	skey, err := p.keyString(key)
	if err != nil {
		return false, err
	}
	if p.cache != nil {
		if _, ok := p.cache.Get(ctx, p.collection(), skey); ok {
			return true, nil
		}
	}
	_, err = p.backend.GetEntry(ctx, p.collection(), skey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrEntryNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("persister: check %s %v: %w", p.entity, key, err)
	}
}

var idType = reflect.TypeFor[id.ID]()

// assignIdentifier generates an identifier suited to the identity type and
// writes it onto the instance.
func (p *EntryPersister) assignIdentifier(ctx context.Context, acc *mapping.EntityAccess) (any, error) {
	var generated any
	t := p.entity.Identity.Type
	switch {
	case t == idType:
		generated = id.New(id.EntityPrefix(p.entity.Name))
	case t.Kind() == reflect.String:
		generated = id.New(id.EntityPrefix(p.entity.Name)).String()
	case isIntegerKind(t.Kind()):
		seq, ok := p.backend.(SequenceGenerator)
		if !ok {
			return nil, fmt.Errorf("%w: %s has a numeric identity and the backend has no sequences", ErrIdentityRequired, p.entity)
		}
		n, err := seq.NextSequence(ctx, p.collection())
		if err != nil {
			return nil, fmt.Errorf("persister: next sequence for %s: %w", p.entity, err)
		}
		generated = n
	default:
		return nil, fmt.Errorf("%w: %s identity type %s", ErrIdentityRequired, p.entity, t)
	}
	if err := acc.SetIdentifier(generated); err != nil {
		return nil, err
	}
	return acc.Identifier(), nil
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func (p *EntryPersister) enqueueInsert(acc *mapping.EntityAccess, key any) error {
	instance := acc.Instance()
	op := pending.NewOperation(pending.Insert, p.entity, key, instance, acc, func(ctx context.Context) error {
		skey, err := p.keyString(key)
		if err != nil {
			return err
		}
		entry, err := acc.ToEntry()
		if err != nil {
			return err
		}
		if err := p.backend.InsertEntry(ctx, p.collection(), skey, entry); err != nil {
			return fmt.Errorf("insert %s %s: %w", p.entity, skey, err)
		}
		p.written(ctx, skey, key, instance, entry)
		return nil
	})
	if err := p.session.EnqueueInsert(op); err != nil {
		return err
	}
	p.session.CacheInstance(p.entity, key, instance)
	return nil
}

func (p *EntryPersister) enqueueUpdate(acc *mapping.EntityAccess, key any, baseline mapping.Entry) error {
	instance := acc.Instance()
	op := pending.NewOperation(pending.Update, p.entity, key, instance, acc, func(ctx context.Context) error {
		skey, err := p.keyString(key)
		if err != nil {
			return err
		}
		if err := p.checkVersion(ctx, skey, baseline); err != nil {
			return err
		}
		if err := acc.IncrementVersion(); err != nil {
			return err
		}
		entry, err := acc.ToEntry()
		if err != nil {
			return err
		}
		if err := p.backend.UpdateEntry(ctx, p.collection(), skey, entry); err != nil {
			return fmt.Errorf("update %s %s: %w", p.entity, skey, err)
		}
		p.written(ctx, skey, key, instance, entry)
		return nil
	})
	if err := p.session.EnqueueUpdate(op); err != nil {
		return err
	}
	p.session.CacheInstance(p.entity, key, instance)
	return nil
}

// checkVersion compares the stored version with the version the instance
// was loaded at.
func (p *EntryPersister) checkVersion(ctx context.Context, skey string, baseline mapping.Entry) error {
	if !p.entity.IsVersioned() || baseline == nil {
		return nil
	}
	name := p.entity.Version.Name
	current, err := p.backend.GetEntry(ctx, p.collection(), skey)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", p.entity, skey, err)
	}
	if Compare(current[name], baseline[name]) != 0 {
		return fmt.Errorf("%w: %s %s is at version %v, loaded at %v", ErrOptimisticLock, p.entity, skey, current[name], baseline[name])
	}
	return nil
}

func (p *EntryPersister) written(ctx context.Context, skey string, key, instance any, entry mapping.Entry) {
	p.session.CacheEntry(p.entity, key, entry)
	if p.cache != nil {
		p.cache.Set(ctx, p.collection(), skey, entry)
	}
	if p.listener != nil {
		p.listener.EntityPersisted(ctx, p.entity, key, instance)
	}
	p.logger.Debug("datastore: entry written", "entity", p.entity.Name, "key", skey)
}

// Delete implements Persister. Instances without an identifier are ignored.
func (p *EntryPersister) Delete(ctx context.Context, instance any) error {
	return p.DeleteAll(ctx, []any{instance})
}

// DeleteAll implements Persister. The whole batch is one pending operation.
func (p *EntryPersister) DeleteAll(_ context.Context, instances []any) error {
	var keys []any
	for _, inst := range instances {
		acc, err := p.access(inst)
		if err != nil {
			return err
		}
		if key := acc.Identifier(); key != nil {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	var identifier any = keys
	var instance any = instances
	if len(keys) == 1 {
		identifier, instance = keys[0], instances[0]
	}
	op := pending.NewOperation(pending.Delete, p.entity, identifier, instance, nil, func(ctx context.Context) error {
		skeys := make([]string, 0, len(keys))
		for _, k := range keys {
			s, err := p.keyString(k)
			if err != nil {
				return err
			}
			skeys = append(skeys, s)
		}
		if err := p.backend.DeleteEntries(ctx, p.collection(), skeys); err != nil {
			return fmt.Errorf("delete %s %v: %w", p.entity, skeys, err)
		}
		for i, k := range keys {
			p.session.Forget(p.entity, k)
			if p.cache != nil {
				p.cache.Invalidate(ctx, p.collection(), skeys[i])
			}
			if p.listener != nil {
				p.listener.EntityDeleted(ctx, p.entity, k)
			}
		}
		return nil
	})
	return p.session.EnqueueDelete(op)
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Retrieve implements Persister.
func (p *EntryPersister) Retrieve(ctx context.Context, key any) (any, error) {
	if key == nil {
		return nil, nil
	}
	skey, err := p.keyString(key)
	if err != nil {
		return nil, err
	}
	entry, err := p.load(ctx, skey)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persister: retrieve %s %s: %w", p.entity, skey, err)
	}
	return p.materialize(entry)
}

func (p *EntryPersister) load(ctx context.Context, skey string) (mapping.Entry, error) {
	fetch := func(ctx context.Context) (mapping.Entry, error) {
		return p.backend.GetEntry(ctx, p.collection(), skey)
	}
	switch c := p.cache.(type) {
	case nil:
		return fetch(ctx)
	case LoadingCache:
		return c.GetOrLoad(ctx, p.collection(), skey, fetch)
	default:
		if e, ok := c.Get(ctx, p.collection(), skey); ok {
			return e, nil
		}
		e, err := fetch(ctx)
		if err == nil {
			c.Set(ctx, p.collection(), skey, e)
		}
		return e, err
	}
}

// RetrieveAll implements Persister.
func (p *EntryPersister) RetrieveAll(ctx context.Context, keys []any) ([]any, error) {
	skeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == nil {
			continue
		}
		s, err := p.keyString(k)
		if err != nil {
			return nil, err
		}
		skeys = append(skeys, s)
	}
	if len(skeys) == 0 {
		return nil, nil
	}
	found, err := p.backend.GetEntries(ctx, p.collection(), skeys)
	if err != nil {
		return nil, fmt.Errorf("persister: retrieve %s: %w", p.entity, err)
	}
	out := make([]any, 0, len(found))
	for _, s := range skeys {
		entry, ok := found[s]
		if !ok {
			continue
		}
		inst, err := p.materialize(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// materialize turns an entry into an instance, reusing the instance the
// session already holds for the same identifier.
func (p *EntryPersister) materialize(entry mapping.Entry) (any, error) {
	instance := p.entity.NewInstance()
	acc, err := p.access(instance)
	if err != nil {
		return nil, err
	}
	if err := acc.FromEntry(entry); err != nil {
		return nil, err
	}
	key := acc.Identifier()
	if cached := p.session.CachedInstance(p.entity, key); cached != nil {
		return cached, nil
	}
	normalized, err := acc.ToEntry()
	if err != nil {
		return nil, err
	}
	p.session.CacheEntry(p.entity, key, normalized)
	p.session.CacheInstance(p.entity, key, instance)
	return instance, nil
}

// Refresh implements Persister. The second-level cache is bypassed.
func (p *EntryPersister) Refresh(ctx context.Context, instance any) (any, error) {
	acc, err := p.access(instance)
	if err != nil {
		return nil, err
	}
	key := acc.Identifier()
	if key == nil {
		return instance, nil
	}
	skey, err := p.keyString(key)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Invalidate(ctx, p.collection(), skey)
	}
	entry, err := p.backend.GetEntry(ctx, p.collection(), skey)
	if err != nil {
		return nil, fmt.Errorf("persister: refresh %s %s: %w", p.entity, skey, err)
	}
	if err := acc.FromEntry(entry); err != nil {
		return nil, err
	}
	normalized, err := acc.ToEntry()
	if err != nil {
		return nil, err
	}
	p.session.CacheEntry(p.entity, key, normalized)
	p.session.CacheInstance(p.entity, key, instance)
	return instance, nil
}

// ObjectIdentifier implements Persister.
func (p *EntryPersister) ObjectIdentifier(instance any) any {
	acc, err := p.access(instance)
	if err != nil {
		return nil
	}
	return acc.Identifier()
}

// IsDirty implements NativeEntryPersister.
func (p *EntryPersister) IsDirty(instance any, entry mapping.Entry) bool {
	if entry == nil {
		return false
	}
	acc, err := p.access(instance)
	if err != nil {
		return false
	}
	current, err := acc.ToEntry()
	if err != nil {
		return false
	}
	return !reflect.DeepEqual(current, entry)
}

// CreateQuery implements Persister.
func (p *EntryPersister) CreateQuery() *Query {
	return NewQuery(p.entity, func(ctx context.Context, c Criteria) ([]any, error) {
		entries, err := p.backend.ListEntries(ctx, p.collection(), c)
		if err != nil {
			return nil, fmt.Errorf("persister: query %s: %w", p.entity, err)
		}
		out := make([]any, 0, len(entries))
		for _, e := range entries {
			inst, err := p.materialize(e)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
		}
		return out, nil
	})
}
