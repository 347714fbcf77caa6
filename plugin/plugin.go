// Package plugin implements the compiled-in plugin registries that busflow
// resolves backends from. A registry belongs to one plugin group (broker,
// database, ...) and maps plugin names to factory functions of that group's
// type. Plugin packages register themselves from init() or an explicit
// Register call; discovery is a plain map lookup.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Plugin group namespaces shared by the drblury resource layers. Only the
// broker group has a contract in this module; the other constants keep the
// naming scheme in one place for sibling layers.
const (
	GroupBroker    = "broker"
	GroupDatabase  = "database"
	GroupStorage   = "storage"
	GroupScheduler = "scheduler"
)

var (
	// ErrNotFound matches resolution failures for names with no registration.
	ErrNotFound = errors.New("busflow: plugin not found")

	// ErrLoadFailed matches failures of a registered plugin's factory.
	ErrLoadFailed = errors.New("busflow: plugin load failed")
)

// NotFoundError reports a name with no registration in a group. The message
// enumerates the registered names so a typo is visible immediately.
type NotFoundError struct {
	Group string
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("busflow: unknown %s plugin: %q (registered: %v)", e.Group, e.Name, e.Known)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LoadError reports a registered plugin whose factory returned an error.
// The cause is available through Unwrap.
type LoadError struct {
	Group string
	Name  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("busflow: %s plugin %q failed to load: %v", e.Group, e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }

// Registry maintains the name to factory mapping for one plugin group.
// F is the group's factory function type, so each group's registry stays
// fully typed.
type Registry[F any] struct {
	group     string
	mu        sync.RWMutex
	factories map[string]F
}

// NewRegistry creates an empty registry for the given group.
func NewRegistry[F any](group string) *Registry[F] {
	return &Registry[F]{
		group:     group,
		factories: make(map[string]F),
	}
}

// Group returns the group namespace this registry serves.
func (r *Registry[F]) Group() string { return r.group }

// Register adds a factory under the given name. Registering a name twice
// replaces the earlier factory.
func (r *Registry[F]) Register(name string, factory F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve returns the factory registered under name. Unknown names fail with
// a *NotFoundError listing the group's registered plugins; the registry never
// invokes the factory itself.
func (r *Registry[F]) Resolve(name string) (F, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		var zero F
		return zero, &NotFoundError{Group: r.group, Name: name, Known: r.Names()}
	}
	return factory, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry[F]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a plugin is registered with the given name.
func (r *Registry[F]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}
