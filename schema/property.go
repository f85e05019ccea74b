package schema

import (
	"fmt"

	"github.com/syssam/sensorthings/schema/field"
)

// Property is either an *EntityProperty (a scalar or complex value) or a
// *NavigationProperty (a link to another entity type).
type Property interface {
	// Name returns the property name as exposed to clients.
	Name() string
	// IsRequired reports whether the property must be set on create.
	IsRequired() bool
	property()
}

// EntityProperty describes a value-carrying property of an entity type.
type EntityProperty struct {
	name     string
	typ      field.Type
	required bool
	nullable bool
	key      bool
}

// Prop returns a new entity property with the given name and value type.
func Prop(name string, t field.Type) *EntityProperty {
	return &EntityProperty{name: name, typ: t, nullable: true}
}

// Required marks the property as required on create. Required properties
// are not nullable.
func (p *EntityProperty) Required() *EntityProperty {
	p.required = true
	p.nullable = false
	return p
}

// NotNull marks an optional property as not nullable.
func (p *EntityProperty) NotNull() *EntityProperty {
	p.nullable = false
	return p
}

// Key marks the property as (part of) the primary key. Key properties are
// generated by the store when not provided, so they are never required.
func (p *EntityProperty) Key() *EntityProperty {
	p.key = true
	p.nullable = false
	p.required = false
	return p
}

// Name returns the property name.
func (p *EntityProperty) Name() string { return p.name }

// Type returns the value type of the property.
func (p *EntityProperty) Type() field.Type { return p.typ }

// IsRequired reports whether the property must be set on create.
func (p *EntityProperty) IsRequired() bool { return p.required }

// IsNullable reports whether the property accepts null values.
func (p *EntityProperty) IsNullable() bool { return p.nullable }

// IsKey reports whether the property is part of the primary key.
func (p *EntityProperty) IsKey() bool { return p.key }

// Check validates a value for the property.
func (p *EntityProperty) Check(v any) error {
	if v == nil {
		if !p.nullable {
			return fmt.Errorf("schema: property %q is not nullable", p.name)
		}
		return nil
	}
	if err := p.typ.Check(v); err != nil {
		return fmt.Errorf("schema: property %q: %w", p.name, err)
	}
	return nil
}

func (*EntityProperty) property() {}

// NavigationProperty describes a link from one entity type to another.
// Set-valued navigation properties (ToMany) hold an entity set; the others
// hold a single entity.
type NavigationProperty struct {
	name        string
	targetName  string
	toMany      bool
	required    bool
	inverseName string

	source  *EntityType
	target  *EntityType
	inverse *NavigationProperty
}

// Nav returns a new entity-valued navigation property pointing to the
// entity type with the given name.
func Nav(name, target string) *NavigationProperty {
	return &NavigationProperty{name: name, targetName: target}
}

// ToMany marks the navigation property as set-valued.
func (np *NavigationProperty) ToMany() *NavigationProperty {
	np.toMany = true
	return np
}

// Required marks the navigation property as required on create.
func (np *NavigationProperty) Required() *NavigationProperty {
	np.required = true
	return np
}

// Inverse names the navigation property of the target type that points back.
func (np *NavigationProperty) Inverse(name string) *NavigationProperty {
	np.inverseName = name
	return np
}

// Name returns the property name.
func (np *NavigationProperty) Name() string { return np.name }

// IsRequired reports whether the navigation property must be set on create.
func (np *NavigationProperty) IsRequired() bool { return np.required }

// IsToMany reports whether the navigation property is set-valued.
func (np *NavigationProperty) IsToMany() bool { return np.toMany }

// TargetName returns the name of the target entity type.
func (np *NavigationProperty) TargetName() string { return np.targetName }

// InverseName returns the name of the inverse navigation property.
func (np *NavigationProperty) InverseName() string { return np.inverseName }

// Source returns the entity type owning the property. It is set by
// Registry.Init.
func (np *NavigationProperty) Source() *EntityType { return np.source }

// Target returns the target entity type. It is set by Registry.Init.
func (np *NavigationProperty) Target() *EntityType { return np.target }

// InverseProperty returns the inverse navigation property, or nil if none was
// declared. It is set by Registry.Init.
func (np *NavigationProperty) InverseProperty() *NavigationProperty { return np.inverse }

// Mandatory reports whether removing a link of this navigation property
// would leave either side without a required navigation value.
func (np *NavigationProperty) Mandatory() bool {
	return np.required || (np.inverse != nil && np.inverse.required)
}

func (*NavigationProperty) property() {}
