package datastore

import (
	"reflect"
	"sync"

	"github.com/xraph/datastore/id"
)

// attributeStore keeps transient attributes for entity instances in a side
// table keyed by a handle assigned the first time the session sees the
// instance. Only pointer instances get handles.
type attributeStore struct {
	mu      sync.RWMutex
	handles map[any]id.ID
	attrs   map[string]map[string]any
	session map[string]any
}

func newAttributeStore() *attributeStore {
	return &attributeStore{
		handles: make(map[any]id.ID),
		attrs:   make(map[string]map[string]any),
		session: make(map[string]any),
	}
}

func trackable(instance any) bool {
	if instance == nil {
		return false
	}
	v := reflect.ValueOf(instance)
	return v.Kind() == reflect.Pointer && !v.IsNil()
}

// handle returns the instance's handle, assigning one when create is set.
func (a *attributeStore) handle(instance any, create bool) (id.ID, bool) {
	if !trackable(instance) {
		return id.Nil, false
	}
	a.mu.RLock()
	h, ok := a.handles[instance]
	a.mu.RUnlock()
	if ok || !create {
		return h, ok
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok = a.handles[instance]; ok {
		return h, true
	}
	h = id.NewHandleID()
	a.handles[instance] = h
	return h, true
}

func (a *attributeStore) set(instance any, name string, value any) {
	h, ok := a.handle(instance, value != nil)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := h.String()
	if value == nil {
		delete(a.attrs[key], name)
		return
	}
	m, ok := a.attrs[key]
	if !ok {
		m = make(map[string]any)
		a.attrs[key] = m
	}
	m[name] = value
}

func (a *attributeStore) get(instance any, name string) any {
	h, ok := a.handle(instance, false)
	if !ok {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.attrs[h.String()][name]
}

func (a *attributeStore) remove(instance any) {
	if !trackable(instance) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.handles[instance]; ok {
		delete(a.attrs, h.String())
		delete(a.handles, instance)
	}
}

// clear drops every instance handle and attribute. Session properties are
// kept.
func (a *attributeStore) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handles = make(map[any]id.ID)
	a.attrs = make(map[string]map[string]any)
}

func (a *attributeStore) setSessionProperty(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.session, name)
		return
	}
	a.session[name] = value
}

func (a *attributeStore) sessionProperty(name string) any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session[name]
}

func (a *attributeStore) clearSessionProperty(name string) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.session[name]
	delete(a.session, name)
	return prev
}

func (a *attributeStore) reset() {
	a.clear()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = make(map[string]any)
}
