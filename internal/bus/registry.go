package bus

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry binds each stream name to the single event type allowed on it.
// It is owned by the bus instance; nothing here is process-global.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]reflect.Type
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]reflect.Type)}
}

// Register binds name to the concrete type of prototype. Registration is
// idempotent for an identical (name, type) pair; binding a different type to
// an existing name returns *SchemaConflictError.
func (r *Registry) Register(name string, prototype any) error {
	if name == "" {
		return fmt.Errorf("stream name is required")
	}
	t := baseType(prototype)
	if t == nil {
		return fmt.Errorf("stream %q: prototype must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.streams[name]; ok {
		if existing == t {
			return nil
		}
		return &SchemaConflictError{
			Stream:     name,
			Registered: existing.String(),
			Proposed:   t.String(),
		}
	}
	r.streams[name] = t
	return nil
}

// Validate checks that event's runtime type matches the type registered for
// name. Returns ErrNotRegistered for unknown streams and
// *SchemaMismatchError on a type mismatch.
func (r *Registry) Validate(name string, event any) error {
	r.mu.RLock()
	expected, ok := r.streams[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("stream %q: %w", name, ErrNotRegistered)
	}

	actual := baseType(event)
	if actual != expected {
		return &SchemaMismatchError{
			Stream:   name,
			Expected: expected.String(),
			Actual:   typeName(actual),
		}
	}
	return nil
}

// Registered reports whether name is a known stream.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[name]
	return ok
}

// Streams returns the sorted names of all registered streams.
func (r *Registry) Streams() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// baseType dereferences pointers so values and pointers to the same struct
// compare equal.
func baseType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
