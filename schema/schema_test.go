package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

func thingAndDatastream() (*schema.EntityType, *schema.EntityType) {
	thing := schema.NewEntityType("Thing").Add(
		schema.Prop("id", field.TypeInt64).Key(),
		schema.Prop("name", field.TypeString).Required(),
		schema.Prop("description", field.TypeString).Required(),
		schema.Prop("properties", field.TypeJSON),
		schema.Nav("Datastreams", "Datastream").ToMany().Inverse("Thing"),
	)
	ds := schema.NewEntityType("Datastream").Add(
		schema.Prop("id", field.TypeInt64).Key(),
		schema.Prop("name", field.TypeString).Required(),
		schema.Nav("Thing", "Thing").Required().Inverse("Datastreams"),
	)
	return thing, ds
}

func TestRegistry(t *testing.T) {
	thing, ds := thingAndDatastream()
	r := schema.NewRegistry()
	require.NoError(t, r.Register(thing, ds))
	require.NoError(t, r.Init())
	require.True(t, r.Initialized())

	typ, ok := r.Type("Thing")
	require.True(t, ok)
	assert.Same(t, thing, typ)
	typ, ok = r.TypeByPlural("Datastreams")
	require.True(t, ok)
	assert.Same(t, ds, typ)
	_, ok = r.TypeByPlural("Sensors")
	assert.False(t, ok)
	assert.Equal(t, []*schema.EntityType{thing, ds}, r.Types())

	t.Run("Navigation", func(t *testing.T) {
		np, ok := thing.NavigationProperty("Datastreams")
		require.True(t, ok)
		assert.True(t, np.IsToMany())
		assert.Same(t, thing, np.Source())
		assert.Same(t, ds, np.Target())
		inv := np.InverseProperty()
		require.NotNil(t, inv)
		assert.Equal(t, "Thing", inv.Name())
		assert.Same(t, np, inv.InverseProperty())
		assert.True(t, np.Mandatory(), "inverse is required")
	})

	t.Run("Properties", func(t *testing.T) {
		pk, ok := thing.PrimaryKey().Single()
		require.True(t, ok)
		assert.Equal(t, "id", pk.Name())
		assert.False(t, pk.IsRequired())
		var names []string
		for _, p := range thing.RequiredProperties() {
			names = append(names, p.Name())
		}
		assert.Equal(t, []string{"name", "description"}, names)
		assert.Len(t, thing.EntityProperties(), 4)
		assert.Len(t, thing.NavigationProperties(), 1)
		_, ok = thing.EntityProperty("Datastreams")
		assert.False(t, ok)
	})

	t.Run("Frozen", func(t *testing.T) {
		require.Error(t, r.Register(schema.NewEntityType("Sensor")))
	})
}

func TestRegistryInitErrors(t *testing.T) {
	tests := []struct {
		name  string
		types func() []*schema.EntityType
		err   string
	}{
		{
			name: "UnknownTarget",
			types: func() []*schema.EntityType {
				return []*schema.EntityType{
					schema.NewEntityType("Thing").Add(
						schema.Prop("id", field.TypeInt64).Key(),
						schema.Nav("Locations", "Location").ToMany(),
					),
				}
			},
			err: "unknown target type Location",
		},
		{
			name: "UnknownInverse",
			types: func() []*schema.EntityType {
				thing, _ := thingAndDatastream()
				return []*schema.EntityType{
					thing,
					schema.NewEntityType("Datastream").Add(schema.Prop("id", field.TypeInt64).Key()),
				}
			},
			err: "unknown inverse Datastream.Thing",
		},
		{
			name: "NoPrimaryKey",
			types: func() []*schema.EntityType {
				return []*schema.EntityType{schema.NewEntityType("Sensor").Add(schema.Prop("name", field.TypeString))}
			},
			err: "type Sensor has no primary key",
		},
		{
			name: "DuplicateProperty",
			types: func() []*schema.EntityType {
				return []*schema.EntityType{schema.NewEntityType("Sensor").Add(
					schema.Prop("id", field.TypeInt64).Key(),
					schema.Prop("id", field.TypeString),
				)}
			},
			err: "duplicate property Sensor.id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := schema.NewRegistry()
			require.NoError(t, r.Register(tt.types()...))
			err := r.Init()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
			assert.False(t, r.Initialized())
		})
	}
}

func TestRegistryDuplicates(t *testing.T) {
	r := schema.NewRegistry()
	require.NoError(t, r.Register(schema.NewEntityType("Thing")))
	require.Error(t, r.Register(schema.NewEntityType("Thing", schema.WithPlural("Thingies"))))
	require.Error(t, r.Register(schema.NewEntityType("Thingy", schema.WithPlural("Things"))))
}

func TestEntityPropertyCheck(t *testing.T) {
	name := schema.Prop("name", field.TypeString).Required()
	require.NoError(t, name.Check("Weather station"))
	require.Error(t, name.Check(nil))
	require.Error(t, name.Check(1))

	props := schema.Prop("properties", field.TypeJSON)
	require.NoError(t, props.Check(nil))
	require.NoError(t, props.Check(map[string]any{"a": 1}))
	assert.True(t, props.IsNullable())
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "Things", schema.NewEntityType("Thing").Plural())
	assert.Equal(t, "FeaturesOfInterest", schema.NewEntityType("FeatureOfInterest", schema.WithPlural("FeaturesOfInterest")).Plural())
}
