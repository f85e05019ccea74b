// Package model defines the OGC SensorThings core data model and its
// relational mapping.
package model

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

// Entity type names.
const (
	Thing              = "Thing"
	Location           = "Location"
	HistoricalLocation = "HistoricalLocation"
	Datastream         = "Datastream"
	Sensor             = "Sensor"
	ObservedProperty   = "ObservedProperty"
	Observation        = "Observation"
	FeatureOfInterest  = "FeatureOfInterest"
)

// Link tables and the order column of Thing.Locations.
const (
	ThingsLocations              = "things_locations"
	HistoricalLocationsLocations = "historical_locations_locations"
	RankColumn                   = "rank"
)

// Option configures the model.
type Option func(*options)

type options struct {
	keyType field.Type
}

// WithUUIDKeys switches the keys of all types from generated integers to
// UUID strings.
func WithUUIDKeys() Option {
	return func(o *options) { o.keyType = field.TypeUUID }
}

// Types returns the entity types of the data model, unregistered.
func Types(opts ...Option) []*schema.EntityType {
	o := &options{keyType: field.TypeInt64}
	for _, opt := range opts {
		opt(o)
	}
	id := func() *schema.EntityProperty { return schema.Prop("id", o.keyType).Key() }
	return []*schema.EntityType{
		schema.NewEntityType(Thing).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Locations", Location).ToMany().Inverse("Things"),
			schema.Nav("HistoricalLocations", HistoricalLocation).ToMany().Inverse("Thing"),
			schema.Nav("Datastreams", Datastream).ToMany().Inverse("Thing"),
		),
		schema.NewEntityType(Location).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("encodingType", field.TypeString).Required(),
			schema.Prop("location", field.TypeGeometry).Required(),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Things", Thing).ToMany().Inverse("Locations"),
			schema.Nav("HistoricalLocations", HistoricalLocation).ToMany().Inverse("Locations"),
		),
		schema.NewEntityType(HistoricalLocation).Add(
			id(),
			schema.Prop("time", field.TypeTime).Required(),
			schema.Nav("Thing", Thing).Required().Inverse("HistoricalLocations"),
			schema.Nav("Locations", Location).ToMany().Inverse("HistoricalLocations"),
		),
		schema.NewEntityType(Datastream).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("unitOfMeasurement", field.TypeJSON).Required(),
			schema.Prop("observationType", field.TypeString).Required(),
			schema.Prop("observedArea", field.TypeGeometry),
			schema.Prop("phenomenonTime", field.TypeString),
			schema.Prop("resultTime", field.TypeString),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Thing", Thing).Required().Inverse("Datastreams"),
			schema.Nav("Sensor", Sensor).Required().Inverse("Datastreams"),
			schema.Nav("ObservedProperty", ObservedProperty).Required().Inverse("Datastreams"),
			schema.Nav("Observations", Observation).ToMany().Inverse("Datastream"),
		),
		schema.NewEntityType(Sensor).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("encodingType", field.TypeString).Required(),
			schema.Prop("metadata", field.TypeString).Required(),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Datastreams", Datastream).ToMany().Inverse("Sensor"),
		),
		schema.NewEntityType(ObservedProperty, schema.WithPlural("ObservedProperties")).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("definition", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Datastreams", Datastream).ToMany().Inverse("ObservedProperty"),
		),
		schema.NewEntityType(Observation).Add(
			id(),
			schema.Prop("phenomenonTime", field.TypeTime).Required(),
			schema.Prop("result", field.TypeJSON).Required(),
			schema.Prop("resultTime", field.TypeTime),
			schema.Prop("resultQuality", field.TypeJSON),
			schema.Prop("validTime", field.TypeString),
			schema.Prop("parameters", field.TypeJSON),
			schema.Nav("Datastream", Datastream).Required().Inverse("Observations"),
			schema.Nav("FeatureOfInterest", FeatureOfInterest).Inverse("Observations"),
		),
		schema.NewEntityType(FeatureOfInterest, schema.WithPlural("FeaturesOfInterest")).Add(
			id(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("description", field.TypeString).Required(),
			schema.Prop("encodingType", field.TypeString).Required(),
			schema.Prop("feature", field.TypeGeometry).Required(),
			schema.Prop("properties", field.TypeJSON),
			schema.Nav("Observations", Observation).ToMany().Inverse("FeatureOfInterest"),
		),
	}
}

// New returns the initialized registry of the data model and its mapping.
func New(opts ...Option) (*schema.Registry, *sqlgraph.Schema, error) {
	reg := schema.NewRegistry()
	if err := reg.Register(Types(opts...)...); err != nil {
		return nil, nil, err
	}
	if err := reg.Init(); err != nil {
		return nil, nil, err
	}
	g, err := Map(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, g, nil
}

// Map maps the types of an initialized registry onto tables: one table per
// entity set, snake_case columns, a "<type>_id" foreign key on the side of
// every entity-valued navigation property, and link tables for the
// many-to-many relations.
func Map(reg *schema.Registry) (*sqlgraph.Schema, error) {
	g := sqlgraph.NewSchema(reg)
	for _, t := range reg.Types() {
		n := &sqlgraph.Node{
			Type:     t.Name(),
			NodeSpec: sqlgraph.NodeSpec{Table: Table(t), ID: &sqlgraph.FieldSpec{Column: "id"}},
			Fields:   make(map[string]*sqlgraph.FieldSpec),
		}
		for _, p := range t.EntityProperties() {
			if !p.IsKey() {
				n.Fields[p.Name()] = &sqlgraph.FieldSpec{Column: inflect.Underscore(p.Name())}
			}
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, t := range reg.Types() {
		for _, np := range t.NavigationProperties() {
			spec, err := edgeSpec(np)
			if err != nil {
				return nil, err
			}
			if err := g.AddE(np.Name(), spec, t.Name(), np.TargetName()); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Table returns the table name of an entity type.
func Table(t *schema.EntityType) string {
	return inflect.Underscore(t.Plural())
}

// ForeignKey returns the foreign key column referencing an entity type.
func ForeignKey(t *schema.EntityType) string {
	return inflect.Underscore(t.Name()) + "_id"
}

func edgeSpec(np *schema.NavigationProperty) (*sqlgraph.EdgeSpec, error) {
	var (
		src, dst = np.Source(), np.Target()
		inv      = np.InverseProperty()
	)
	switch {
	case src.Name() == Thing && np.Name() == "Locations", src.Name() == Location && np.Name() == "Things":
		return &sqlgraph.EdgeSpec{
			Rel:         sqlgraph.M2MOrdered,
			Inverse:     src.Name() == Location,
			Table:       ThingsLocations,
			Columns:     []string{ForeignKey(thingOf(src, dst)), ForeignKey(locationOf(src, dst))},
			OrderColumn: RankColumn,
		}, nil
	case np.IsToMany() && inv != nil && inv.IsToMany():
		owner, other := src, dst
		inverse := false
		if src.Name() > dst.Name() {
			owner, other, inverse = dst, src, true
		}
		return &sqlgraph.EdgeSpec{
			Rel:     sqlgraph.M2M,
			Inverse: inverse,
			Table:   inflect.Underscore(owner.Plural()) + "_" + inflect.Underscore(other.Plural()),
			Columns: []string{ForeignKey(owner), ForeignKey(other)},
		}, nil
	case np.IsToMany():
		return &sqlgraph.EdgeSpec{Rel: sqlgraph.O2M, Table: Table(dst), Columns: []string{ForeignKey(src)}}, nil
	case inv == nil || inv.IsToMany():
		return &sqlgraph.EdgeSpec{Rel: sqlgraph.M2O, Inverse: true, Table: Table(src), Columns: []string{ForeignKey(dst)}}, nil
	default:
		return nil, fmt.Errorf("model: one-to-one navigation %s.%s is not mapped", src.Name(), np.Name())
	}
}

func thingOf(a, b *schema.EntityType) *schema.EntityType {
	if a.Name() == Thing {
		return a
	}
	return b
}

func locationOf(a, b *schema.EntityType) *schema.EntityType {
	if a.Name() == Location {
		return a
	}
	return b
}
