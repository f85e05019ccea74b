// Package entity holds the per-request data objects of the engine: entities,
// entity sets and change messages.
package entity

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/sensorthings/schema"
)

// PkValue is the ordered value of a primary key.
type PkValue []any

// Single returns the value of a single-column key, or nil.
func (pk PkValue) Single() any {
	if len(pk) != 1 {
		return nil
	}
	return pk[0]
}

// IsZero reports whether the key holds no value.
func (pk PkValue) IsZero() bool {
	for _, v := range pk {
		if v != nil {
			return false
		}
	}
	return true
}

// String formats the key the way it appears in resource paths.
func (pk PkValue) String() string {
	parts := make([]string, len(pk))
	for i, v := range pk {
		if s, ok := v.(string); ok {
			parts[i] = "'" + strings.ReplaceAll(s, "'", "''") + "'"
		} else {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ",")
}

// Entity is a mutable bag of property values of one entity type. Only
// explicitly set properties are carried; an unset property and a property
// set to nil are different things.
//
// To-one navigation values are held as entities. An entity that carries only
// its key is a reference: it was either loaded lazily from a foreign key or
// supplied by a client to link an existing entity.
type Entity struct {
	typ      *schema.EntityType
	id       PkValue
	values   map[string]any
	navs     map[string]*Entity
	sets     map[string]*EntitySet
	selected []string
	loaded   bool
}

// New returns a new empty entity of the given type.
func New(t *schema.EntityType) *Entity {
	return &Entity{
		typ:    t,
		values: make(map[string]any),
		navs:   make(map[string]*Entity),
		sets:   make(map[string]*EntitySet),
	}
}

// Ref returns a reference to the entity of the given type with the given key.
func Ref(t *schema.EntityType, id ...any) *Entity {
	e := New(t)
	e.id = PkValue(id)
	return e
}

// Type returns the entity type.
func (e *Entity) Type() *schema.EntityType { return e.typ }

// ID returns the primary key value, or nil if the entity has none yet.
func (e *Entity) ID() PkValue { return e.id }

// HasID reports whether the entity carries a key.
func (e *Entity) HasID() bool { return len(e.id) > 0 && !e.id.IsZero() }

// SetID sets the primary key value.
func (e *Entity) SetID(id ...any) *Entity {
	e.id = PkValue(id)
	return e
}

// Loaded reports whether the entity was read from the store, as opposed to
// being a key-only reference or a client payload.
func (e *Entity) Loaded() bool { return e.loaded }

// MarkLoaded marks the entity as read from the store.
func (e *Entity) MarkLoaded() { e.loaded = true }

// IsRef reports whether the entity carries a key and nothing else.
func (e *Entity) IsRef() bool {
	return e.HasID() && !e.loaded && len(e.values) == 0 && len(e.navs) == 0 && len(e.sets) == 0
}

// Set sets the value of an entity property.
func (e *Entity) Set(name string, v any) *Entity {
	e.values[name] = v
	return e
}

// Get returns the value of an entity property.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Unset removes an entity property value.
func (e *Entity) Unset(name string) { delete(e.values, name) }

// IsSet reports whether the property, entity-valued or navigation, was
// explicitly set.
func (e *Entity) IsSet(name string) bool {
	if _, ok := e.values[name]; ok {
		return true
	}
	if n, ok := e.navs[name]; ok && n != nil {
		return true
	}
	s, ok := e.sets[name]
	return ok && s.Len() > 0
}

// SetNav sets the value of a to-one navigation property. A nil value
// clears the link.
func (e *Entity) SetNav(name string, target *Entity) *Entity {
	e.navs[name] = target
	return e
}

// Nav returns the value of a to-one navigation property. The second result
// reports whether the property was set at all, including to nil.
func (e *Entity) Nav(name string) (*Entity, bool) {
	n, ok := e.navs[name]
	return n, ok
}

// AddLinks appends entities to a set-valued navigation property.
func (e *Entity) AddLinks(name string, targets ...*Entity) *Entity {
	s, ok := e.sets[name]
	if !ok {
		var t *schema.EntityType
		if np, ok := e.typ.NavigationProperty(name); ok {
			t = np.Target()
		}
		s = NewSet(t)
		e.sets[name] = s
	}
	s.Entities = append(s.Entities, targets...)
	return e
}

// SetLinks replaces the value of a set-valued navigation property.
func (e *Entity) SetLinks(name string, s *EntitySet) *Entity {
	e.sets[name] = s
	return e
}

// Links returns the value of a set-valued navigation property.
func (e *Entity) Links(name string) (*EntitySet, bool) {
	s, ok := e.sets[name]
	return s, ok
}

// Select sets the properties selected for projection. An empty selection
// selects all entity properties.
func (e *Entity) Select(names ...string) *Entity {
	e.selected = names
	return e
}

// Selected reports whether the property is part of the projection.
func (e *Entity) Selected(name string) bool {
	if len(e.selected) == 0 {
		_, ok := e.typ.EntityProperty(name)
		return ok
	}
	return slices.Contains(e.selected, name)
}

// SetNames returns the names of all explicitly set properties, in
// declaration order.
func (e *Entity) SetNames() []string {
	var names []string
	for _, p := range e.typ.Properties() {
		if e.IsSet(p.Name()) {
			names = append(names, p.Name())
		}
	}
	return names
}

// Complete returns the first required property that is not explicitly set.
// A required property set to nil counts as missing.
func (e *Entity) Complete() (string, bool) {
	for _, p := range e.typ.RequiredProperties() {
		switch p := p.(type) {
		case *schema.EntityProperty:
			if v, ok := e.values[p.Name()]; !ok || v == nil {
				return p.Name(), false
			}
		case *schema.NavigationProperty:
			if !e.IsSet(p.Name()) {
				return p.Name(), false
			}
		}
	}
	return "", true
}

// Validate checks every set entity property value against its declared type.
func (e *Entity) Validate() error {
	for name, v := range e.values {
		p, ok := e.typ.EntityProperty(name)
		if !ok {
			return fmt.Errorf("entity: unknown property %s.%s", e.typ.Name(), name)
		}
		if err := p.Check(v); err != nil {
			return err
		}
	}
	for name := range e.navs {
		if _, ok := e.typ.NavigationProperty(name); !ok {
			return fmt.Errorf("entity: unknown navigation property %s.%s", e.typ.Name(), name)
		}
	}
	for name := range e.sets {
		if _, ok := e.typ.NavigationProperty(name); !ok {
			return fmt.Errorf("entity: unknown navigation property %s.%s", e.typ.Name(), name)
		}
	}
	return nil
}

// Merge copies the key, the property values, the navigation values and the
// projection of src into e. Values set on both are taken from src.
func (e *Entity) Merge(src *Entity) *Entity {
	if src.HasID() {
		e.id = src.id
	}
	for k, v := range src.values {
		e.values[k] = v
	}
	for k, v := range src.navs {
		e.navs[k] = v
	}
	for k, v := range src.sets {
		e.sets[k] = v
	}
	if src.selected != nil {
		e.selected = src.selected
	}
	e.loaded = e.loaded || src.loaded
	return e
}

// String implements fmt.Stringer.
func (e *Entity) String() string {
	if !e.HasID() {
		return e.typ.Name() + "(new)"
	}
	return e.typ.Name() + "(" + e.id.String() + ")"
}
