package component

import (
	"fmt"
	"sort"
	"sync"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// Registry maps component class names to their descriptions. It is built up
// before a manager is constructed; the manager only reads it afterwards.
// Registration and lookup are thread-safe.
type Registry struct {
	classes map[string]*Class
	mu      sync.RWMutex
}

// NewRegistry creates a new empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]*Class),
	}
}

// Register adds a class to the registry. Returns an error if the class is
// invalid or a class with the same name is already registered.
func (r *Registry) Register(class *Class) error {
	if err := class.Validate(); err != nil {
		return errors.Wrap(err, "Registry", "Register", "class validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[class.Name]; exists {
		msg := fmt.Errorf("class %q is already registered", class.Name)
		return errors.WrapInvalid(msg, "Registry", "Register", "duplicate class check")
	}

	r.classes[class.Name] = class
	return nil
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	class, exists := r.classes[name]
	return class, exists
}

// Names returns all registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}
