package schema

import (
	"errors"
	"fmt"
)

// Registry holds the entity types of one configuration. It is constructed
// once, initialized with Init and read-only afterwards. Independent
// registries can coexist in one process.
type Registry struct {
	types    []*EntityType
	byName   map[string]*EntityType
	byPlural map[string]*EntityType
	ready    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*EntityType),
		byPlural: make(map[string]*EntityType),
	}
}

// Register adds entity types to the registry.
func (r *Registry) Register(types ...*EntityType) error {
	if r.ready {
		return errors.New("schema: registry already initialized")
	}
	for _, t := range types {
		if _, ok := r.byName[t.name]; ok {
			return fmt.Errorf("schema: duplicate entity type %s", t.name)
		}
		if _, ok := r.byPlural[t.plural]; ok {
			return fmt.Errorf("schema: duplicate entity set name %s", t.plural)
		}
		r.byName[t.name] = t
		r.byPlural[t.plural] = t
		r.types = append(r.types, t)
	}
	return nil
}

// MustRegister is like Register but panics if an error occurs.
func (r *Registry) MustRegister(types ...*EntityType) *Registry {
	if err := r.Register(types...); err != nil {
		panic(err)
	}
	return r
}

// Init resolves navigation targets and inverses, validates every type and
// freezes the registry.
func (r *Registry) Init() error {
	if r.ready {
		return nil
	}
	var errs []error
	for _, t := range r.types {
		if err := t.err(); err != nil {
			errs = append(errs, err)
		}
		for _, np := range t.NavigationProperties() {
			target, ok := r.byName[np.targetName]
			if !ok {
				errs = append(errs, fmt.Errorf("schema: %s.%s: unknown target type %s", t.name, np.name, np.targetName))
				continue
			}
			np.target = target
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, t := range r.types {
		for _, np := range t.NavigationProperties() {
			if np.inverseName == "" {
				continue
			}
			inv, ok := np.target.NavigationProperty(np.inverseName)
			if !ok {
				errs = append(errs, fmt.Errorf("schema: %s.%s: unknown inverse %s.%s", t.name, np.name, np.target.name, np.inverseName))
				continue
			}
			if inv.targetName != t.name {
				errs = append(errs, fmt.Errorf("schema: %s.%s: inverse %s.%s points to %s", t.name, np.name, np.target.name, inv.name, inv.targetName))
				continue
			}
			np.inverse = inv
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, t := range r.types {
		t.frozen = true
	}
	r.ready = true
	return nil
}

// Initialized reports whether Init completed successfully.
func (r *Registry) Initialized() bool { return r.ready }

// Type returns the entity type with the given name.
func (r *Registry) Type(name string) (*EntityType, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// TypeByPlural returns the entity type with the given entity set name.
func (r *Registry) TypeByPlural(plural string) (*EntityType, bool) {
	t, ok := r.byPlural[plural]
	return t, ok
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []*EntityType {
	return r.types
}
