package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

func registry(t *testing.T) (*schema.EntityType, *schema.EntityType) {
	t.Helper()
	thing := schema.NewEntityType("Thing").Add(
		schema.Prop("id", field.TypeInt64).Key(),
		schema.Prop("name", field.TypeString).Required(),
		schema.Prop("properties", field.TypeJSON),
		schema.Nav("Datastreams", "Datastream").ToMany().Inverse("Thing"),
	)
	ds := schema.NewEntityType("Datastream").Add(
		schema.Prop("id", field.TypeInt64).Key(),
		schema.Prop("name", field.TypeString).Required(),
		schema.Nav("Thing", "Thing").Required().Inverse("Datastreams"),
	)
	r := schema.NewRegistry()
	require.NoError(t, r.Register(thing, ds))
	require.NoError(t, r.Init())
	return thing, ds
}

func TestComplete(t *testing.T) {
	thing, ds := registry(t)

	e := entity.New(ds).Set("name", "Temperature")
	missing, ok := e.Complete()
	require.False(t, ok)
	assert.Equal(t, "Thing", missing)

	e.SetNav("Thing", entity.Ref(thing, int64(1)))
	_, ok = e.Complete()
	require.True(t, ok)

	e.Set("name", nil)
	missing, ok = e.Complete()
	require.False(t, ok)
	assert.Equal(t, "name", missing, "explicit nil is not a value")
}

func TestValidate(t *testing.T) {
	thing, _ := registry(t)
	require.NoError(t, entity.New(thing).Set("name", "T1").Validate())
	require.Error(t, entity.New(thing).Set("name", 1).Validate())
	require.Error(t, entity.New(thing).Set("color", "red").Validate())
	require.Error(t, entity.New(thing).SetNav("Owner", nil).Validate())
}

func TestRefAndSelection(t *testing.T) {
	thing, ds := registry(t)
	ref := entity.Ref(thing, int64(7))
	assert.True(t, ref.IsRef())
	assert.Equal(t, "Thing(7)", ref.String())
	assert.Equal(t, "Thing(new)", entity.New(thing).String())
	assert.Equal(t, "'a''b'", entity.PkValue{"a'b"}.String())

	e := entity.New(thing).Set("name", "T1").AddLinks("Datastreams", entity.Ref(ds, int64(1)), entity.Ref(ds, int64(2)))
	assert.False(t, e.IsRef())
	links, ok := e.Links("Datastreams")
	require.True(t, ok)
	assert.Same(t, ds, links.Type)
	assert.Equal(t, []entity.PkValue{{int64(1)}, {int64(2)}}, links.IDs())
	assert.Equal(t, []string{"name", "Datastreams"}, e.SetNames())

	assert.True(t, e.Selected("properties"))
	e.Select("name")
	assert.False(t, e.Selected("properties"))
	assert.True(t, e.Selected("name"))
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "CREATE", entity.EventCreate.String())
	assert.Equal(t, "UPDATE", entity.EventUpdate.String())
	assert.Equal(t, "DELETE", entity.EventDelete.String())
	assert.Equal(t, "UNKNOWN", entity.EventType(0).String())
}

func TestMerge(t *testing.T) {
	thing, ds := registry(t)
	ref := entity.Ref(ds, int64(3))
	src := entity.New(ds).SetID(int64(3)).Set("name", "temp").SetNav("Thing", entity.Ref(thing, int64(1)))
	src.MarkLoaded()

	ref.Merge(src)
	assert.False(t, ref.IsRef())
	assert.True(t, ref.Loaded())
	v, _ := ref.Get("name")
	assert.Equal(t, "temp", v)
	nav, ok := ref.Nav("Thing")
	require.True(t, ok)
	assert.Equal(t, entity.PkValue{int64(1)}, nav.ID())

	e := entity.New(thing).Set("name", "old").Set("properties", map[string]any{"a": 1})
	e.Merge(entity.New(thing).Set("name", "new"))
	v, _ = e.Get("name")
	assert.Equal(t, "new", v)
	assert.True(t, e.IsSet("properties"))
	assert.False(t, e.HasID())
}
