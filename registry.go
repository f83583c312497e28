package datastore

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry binds sessions to scopes so code deep in a call chain can find
// the session of its unit of work. Keys must be comparable.
type Registry struct {
	mu       sync.RWMutex
	sessions map[any]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[any]*Session)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

func checkKey(key any) error {
	if key == nil || !reflect.TypeOf(key).Comparable() {
		return fmt.Errorf("datastore: binding key %T is not comparable", key)
	}
	return nil
}

// Bind associates s with key. It fails with ErrSessionAlreadyBound when
// another session holds the key.
func (r *Registry) Bind(key any, s *Session) error {
	if err := checkKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; ok && cur != s {
		return ErrSessionAlreadyBound
	}
	r.sessions[key] = s
	return nil
}

// Lookup returns the session bound to key.
func (r *Registry) Lookup(key any) (*Session, bool) {
	if checkKey(key) != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Unbind removes the binding for key and returns the session it held.
func (r *Registry) Unbind(key any) *Session {
	if checkKey(key) != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[key]
	delete(r.sessions, key)
	return s
}

// unbindSession removes every binding that points at s.
func (r *Registry) unbindSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.sessions {
		if v == s {
			delete(r.sessions, k)
		}
	}
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
