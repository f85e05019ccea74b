package schema

import (
	"errors"
	"fmt"

	"github.com/go-openapi/inflect"
)

// PrimaryKey is the ordered list of key properties of an entity type.
type PrimaryKey []*EntityProperty

// Arity returns the number of key properties.
func (pk PrimaryKey) Arity() int { return len(pk) }

// Single returns the key property of a single-column key.
func (pk PrimaryKey) Single() (*EntityProperty, bool) {
	if len(pk) != 1 {
		return nil, false
	}
	return pk[0], true
}

// EntityType is an immutable descriptor of an entity type. It is built once
// at startup, registered in a Registry and never mutated after Registry.Init.
type EntityType struct {
	name   string
	plural string
	props  []Property
	byName map[string]Property
	pk     PrimaryKey
	frozen bool
	errs   []error
}

// TypeOption configures an EntityType.
type TypeOption func(*EntityType)

// WithPlural sets the entity set name of the type. By default the name is
// pluralized with inflect.
func WithPlural(plural string) TypeOption {
	return func(t *EntityType) {
		t.plural = plural
	}
}

// NewEntityType returns a new entity type with the given name.
func NewEntityType(name string, opts ...TypeOption) *EntityType {
	t := &EntityType{
		name:   name,
		byName: make(map[string]Property),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.plural == "" {
		t.plural = inflect.Pluralize(name)
	}
	return t
}

// Add adds properties to the type. Properties marked as Key become the
// primary key, in the order they are added.
func (t *EntityType) Add(props ...Property) *EntityType {
	if t.frozen {
		t.errs = append(t.errs, fmt.Errorf("schema: type %s is frozen", t.name))
		return t
	}
	for _, p := range props {
		if _, ok := t.byName[p.Name()]; ok {
			t.errs = append(t.errs, fmt.Errorf("schema: duplicate property %s.%s", t.name, p.Name()))
			continue
		}
		t.byName[p.Name()] = p
		t.props = append(t.props, p)
		if ep, ok := p.(*EntityProperty); ok && ep.key {
			t.pk = append(t.pk, ep)
		}
		if np, ok := p.(*NavigationProperty); ok {
			np.source = t
		}
	}
	return t
}

// Name returns the type name, e.g. "Thing".
func (t *EntityType) Name() string { return t.name }

// Plural returns the entity set name, e.g. "Things".
func (t *EntityType) Plural() string { return t.plural }

// String implements fmt.Stringer.
func (t *EntityType) String() string { return t.name }

// PrimaryKey returns the key properties.
func (t *EntityType) PrimaryKey() PrimaryKey { return t.pk }

// Properties returns all properties in declaration order.
func (t *EntityType) Properties() []Property { return t.props }

// Property returns the property with the given name.
func (t *EntityType) Property(name string) (Property, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// EntityProperty returns the entity property with the given name.
func (t *EntityType) EntityProperty(name string) (*EntityProperty, bool) {
	p, ok := t.byName[name].(*EntityProperty)
	return p, ok
}

// NavigationProperty returns the navigation property with the given name.
func (t *EntityType) NavigationProperty(name string) (*NavigationProperty, bool) {
	p, ok := t.byName[name].(*NavigationProperty)
	return p, ok
}

// EntityProperties returns the entity properties in declaration order.
func (t *EntityType) EntityProperties() []*EntityProperty {
	var ps []*EntityProperty
	for _, p := range t.props {
		if ep, ok := p.(*EntityProperty); ok {
			ps = append(ps, ep)
		}
	}
	return ps
}

// NavigationProperties returns the navigation properties in declaration order.
func (t *EntityType) NavigationProperties() []*NavigationProperty {
	var ps []*NavigationProperty
	for _, p := range t.props {
		if np, ok := p.(*NavigationProperty); ok {
			ps = append(ps, np)
		}
	}
	return ps
}

// RequiredProperties returns the properties that must be set on create.
func (t *EntityType) RequiredProperties() []Property {
	var ps []Property
	for _, p := range t.props {
		if p.IsRequired() {
			ps = append(ps, p)
		}
	}
	return ps
}

func (t *EntityType) err() error {
	if len(t.pk) == 0 {
		t.errs = append(t.errs, fmt.Errorf("schema: type %s has no primary key", t.name))
	}
	return errors.Join(t.errs...)
}
