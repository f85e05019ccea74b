package sqlgraph

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

// testRegistry returns users with pets, groups and an ordered list of
// cards.
func testRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry().MustRegister(
		schema.NewEntityType("User").Add(
			schema.Prop("id", field.TypeInt64).Key(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Prop("age", field.TypeInt64),
			schema.Nav("Pets", "Pet").ToMany().Inverse("Owner"),
			schema.Nav("Groups", "Group").ToMany().Inverse("Users"),
			schema.Nav("Cards", "Card").ToMany().Inverse("Holders"),
		),
		schema.NewEntityType("Pet").Add(
			schema.Prop("id", field.TypeInt64).Key(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Nav("Owner", "User").Inverse("Pets"),
		),
		schema.NewEntityType("Group").Add(
			schema.Prop("id", field.TypeInt64).Key(),
			schema.Prop("name", field.TypeString).Required(),
			schema.Nav("Users", "User").ToMany().Inverse("Groups"),
		),
		schema.NewEntityType("Card").Add(
			schema.Prop("id", field.TypeInt64).Key(),
			schema.Prop("number", field.TypeString).Required(),
			schema.Nav("Holders", "User").ToMany().Inverse("Cards"),
		),
	)
	require.NoError(t, reg.Init())
	return reg
}

func testSchema(t testing.TB) *Schema {
	t.Helper()
	g := NewSchema(testRegistry(t))
	g.MustAddNode(&Node{
		Type:     "User",
		NodeSpec: NodeSpec{Table: "users", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"name": {Column: "name"}, "age": {Column: "age"}},
	})
	g.MustAddNode(&Node{
		Type:     "Pet",
		NodeSpec: NodeSpec{Table: "pets", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"name": {Column: "name"}},
	})
	g.MustAddNode(&Node{
		Type:     "Group",
		NodeSpec: NodeSpec{Table: "groups", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"name": {Column: "name"}},
	})
	g.MustAddNode(&Node{
		Type:     "Card",
		NodeSpec: NodeSpec{Table: "cards", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"number": {Column: "number"}},
	})
	g.MustAddE("Pets", &EdgeSpec{Rel: O2M, Table: "pets", Columns: []string{"owner_id"}}, "User", "Pet")
	g.MustAddE("Owner", &EdgeSpec{Rel: M2O, Inverse: true, Table: "pets", Columns: []string{"owner_id"}}, "Pet", "User")
	g.MustAddE("Groups", &EdgeSpec{Rel: M2M, Table: "user_groups", Columns: []string{"user_id", "group_id"}}, "User", "Group")
	g.MustAddE("Users", &EdgeSpec{Rel: M2M, Inverse: true, Table: "user_groups", Columns: []string{"user_id", "group_id"}}, "Group", "User")
	g.MustAddE("Cards", &EdgeSpec{Rel: M2MOrdered, Table: "user_cards", Columns: []string{"user_id", "card_id"}, OrderColumn: "position"}, "User", "Card")
	g.MustAddE("Holders", &EdgeSpec{Rel: M2MOrdered, Inverse: true, Table: "user_cards", Columns: []string{"user_id", "card_id"}, OrderColumn: "position"}, "Card", "User")
	require.NoError(t, g.Validate())
	return g
}

func TestSchema_AddNode(t *testing.T) {
	reg := testRegistry(t)
	g := NewSchema(reg)
	err := g.AddNode(&Node{Type: "Unknown", NodeSpec: NodeSpec{Table: "unknown", ID: &FieldSpec{Column: "id"}}})
	assert.Error(t, err)
	err = g.AddNode(&Node{Type: "Pet", NodeSpec: NodeSpec{Table: "pets"}})
	assert.Error(t, err, "missing key column")
	err = g.AddNode(&Node{Type: "Pet", NodeSpec: NodeSpec{Table: "pets", ID: &FieldSpec{Column: "id"}}})
	assert.Error(t, err, "missing column of name")
	err = g.AddNode(&Node{
		Type:     "Pet",
		NodeSpec: NodeSpec{Table: "pets", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"name": {Column: "name"}, "color": {Column: "color"}},
	})
	assert.Error(t, err, "unknown property")

	n := &Node{
		Type:     "Pet",
		NodeSpec: NodeSpec{Table: "pets", ID: &FieldSpec{Column: "id"}},
		Fields:   map[string]*FieldSpec{"name": {Column: "name"}},
	}
	require.NoError(t, g.AddNode(n))
	assert.Equal(t, field.TypeInt64, n.ID.Type)
	assert.Equal(t, field.TypeString, n.Fields["name"].Type)
	got, ok := g.NodeBySet("Pets")
	require.True(t, ok)
	assert.Same(t, n, got)
	assert.Error(t, g.AddNode(n), "duplicate node")
}

func TestSchema_AddNode_CompositeKey(t *testing.T) {
	reg := schema.NewRegistry().MustRegister(
		schema.NewEntityType("Reading").Add(
			schema.Prop("sensor", field.TypeInt64).Key(),
			schema.Prop("seq", field.TypeInt64).Key(),
		),
	)
	require.NoError(t, reg.Init())
	err := NewSchema(reg).AddNode(&Node{Type: "Reading", NodeSpec: NodeSpec{Table: "readings", ID: &FieldSpec{Column: "sensor"}}})
	require.Error(t, err)
	assert.True(t, sensorthings.IsUnsupportedRelation(err))
}

func TestSchema_AddE(t *testing.T) {
	g := NewSchema(testRegistry(t))
	for _, n := range []*Node{
		{Type: "User", NodeSpec: NodeSpec{Table: "users", ID: &FieldSpec{Column: "id"}}, Fields: map[string]*FieldSpec{"name": {Column: "name"}, "age": {Column: "age"}}},
		{Type: "Pet", NodeSpec: NodeSpec{Table: "pets", ID: &FieldSpec{Column: "id"}}, Fields: map[string]*FieldSpec{"name": {Column: "name"}}},
		{Type: "Group", NodeSpec: NodeSpec{Table: "groups", ID: &FieldSpec{Column: "id"}}, Fields: map[string]*FieldSpec{"name": {Column: "name"}}},
	} {
		require.NoError(t, g.AddNode(n))
	}
	tests := []struct {
		name     string
		nav      string
		spec     *EdgeSpec
		from, to string
		wantErr  bool
	}{
		{"o2m", "Pets", &EdgeSpec{Rel: O2M, Table: "pets", Columns: []string{"owner_id"}}, "User", "Pet", false},
		{"duplicate", "Pets", &EdgeSpec{Rel: O2M, Table: "pets", Columns: []string{"owner_id"}}, "User", "Pet", true},
		{"unknown node", "Groups", &EdgeSpec{Rel: M2M, Table: "user_groups", Columns: []string{"user_id", "group_id"}}, "User", "groups", true},
		{"unknown nav", "Friends", &EdgeSpec{Rel: M2M, Table: "friends", Columns: []string{"user_id", "friend_id"}}, "User", "User", true},
		{"wrong target", "Owner", &EdgeSpec{Rel: M2O, Table: "pets", Columns: []string{"owner_id"}}, "Pet", "Group", true},
		{"no table", "Owner", &EdgeSpec{Rel: M2O, Columns: []string{"owner_id"}}, "Pet", "User", true},
		{"m2m columns", "Groups", &EdgeSpec{Rel: M2M, Table: "user_groups", Columns: []string{"user_id"}}, "User", "Group", true},
		{"o2m columns", "Owner", &EdgeSpec{Rel: M2O, Table: "pets", Columns: []string{"owner_id", "x"}}, "Pet", "User", true},
		{"unknown rel", "Groups", &EdgeSpec{Table: "user_groups", Columns: []string{"user_id", "group_id"}}, "User", "Group", true},
		{"m2m", "Groups", &EdgeSpec{Rel: M2M, Table: "user_groups", Columns: []string{"user_id", "group_id"}}, "User", "Group", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddE(tt.nav, tt.spec, tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
	n, _ := g.Node("User")
	require.IsType(t, &OneToMany{}, n.Edges["Pets"].Relation)
	require.IsType(t, &ManyToMany{}, n.Edges["Groups"].Relation)
	assert.Error(t, g.Validate(), "Owner, Users and Card are not mapped")
}

func TestSchema_AddE_OrderColumn(t *testing.T) {
	g := NewSchema(testRegistry(t))
	g.MustAddNode(&Node{Type: "User", NodeSpec: NodeSpec{Table: "users", ID: &FieldSpec{Column: "id"}}, Fields: map[string]*FieldSpec{"name": {Column: "name"}, "age": {Column: "age"}}})
	g.MustAddNode(&Node{Type: "Card", NodeSpec: NodeSpec{Table: "cards", ID: &FieldSpec{Column: "id"}}, Fields: map[string]*FieldSpec{"number": {Column: "number"}}})
	err := g.AddE("Cards", &EdgeSpec{Rel: M2MOrdered, Table: "user_cards", Columns: []string{"user_id", "card_id"}}, "User", "Card")
	assert.Error(t, err)
	err = g.AddE("Cards", &EdgeSpec{Rel: M2MOrdered, Table: "user_cards", Columns: []string{"user_id", "card_id"}, OrderColumn: "position"}, "User", "Card")
	require.NoError(t, err)
	n, _ := g.Node("User")
	assert.IsType(t, &ManyToManyOrdered{}, n.Edges["Cards"].Relation)
	assert.True(t, n.Edges["Cards"].Relation.Distinct())
}

func TestSchema_Validate(t *testing.T) {
	g := testSchema(t)
	n, _ := g.Node("User")
	inv, ok := n.Edges["Groups"].Inverse()
	require.True(t, ok)
	assert.Equal(t, "Users", inv.Name)
	src, dst := inv.OwnColumns()
	assert.Equal(t, "group_id", src)
	assert.Equal(t, "user_id", dst)

	pet, _ := g.Node("Pet")
	pet.Edges["Owner"].Spec = &EdgeSpec{Rel: M2O, Inverse: true, Table: "pets", Columns: []string{"user_id"}}
	assert.Error(t, g.Validate())
	pet.Edges["Owner"].Spec = &EdgeSpec{Rel: O2M, Table: "pets", Columns: []string{"owner_id"}}
	assert.Error(t, g.Validate())
}

func TestNode_Values(t *testing.T) {
	g := testSchema(t)
	pet, _ := g.Node("Pet")
	user, _ := g.Node("User")
	assert.Equal(t, []*Edge{pet.Edges["Owner"]}, pet.ForeignKeys())
	assert.Empty(t, user.ForeignKeys())

	e := entity.New(pet.EntityType()).SetID(3).Set("name", "pedro").SetNav("Owner", entity.Ref(user.EntityType(), 1))
	cols, vals, err := pet.Values(e, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "owner_id"}, cols)
	assert.Equal(t, []any{int64(3), "pedro", int64(1)}, vals)

	cols, vals, err = pet.Values(entity.New(pet.EntityType()).SetNav("Owner", nil), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner_id"}, cols)
	assert.Equal(t, []any{nil}, vals)

	_, _, err = pet.Values(entity.New(pet.EntityType()).SetNav("Owner", entity.New(user.EntityType())), false)
	assert.Error(t, err)
}

func TestFieldSpec_Value(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	id := uuid.New()
	tests := []struct {
		typ  field.Type
		in   any
		want any
	}{
		{field.TypeInt64, 7, int64(7)},
		{field.TypeInt64, int64(7), int64(7)},
		{field.TypeInt64, float64(7), int64(7)},
		{field.TypeFloat64, 2, float64(2)},
		{field.TypeTime, ts, ts.UTC()},
		{field.TypeTime, "2024-05-01T10:30:00Z", ts.UTC()},
		{field.TypeUUID, id, id.String()},
		{field.TypeJSON, map[string]any{"a": 1}, `{"a":1}`},
		{field.TypeJSON, json.RawMessage(`[1,2]`), `[1,2]`},
		{field.TypeGeometry, map[string]any{"type": "Point"}, `{"type":"Point"}`},
		{field.TypeString, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := (&FieldSpec{Type: tt.typ}).Value(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := (&FieldSpec{Type: field.TypeTime}).Value("yesterday")
	assert.Error(t, err)
}

func TestFieldSpec_Scan(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		typ  field.Type
		in   any
		want any
	}{
		{field.TypeBool, int64(1), true},
		{field.TypeBool, "false", false},
		{field.TypeInt64, []byte("42"), int64(42)},
		{field.TypeFloat64, int64(2), float64(2)},
		{field.TypeString, []byte("x"), "x"},
		{field.TypeTime, "2024-05-01 10:30:00+00:00", ts},
		{field.TypeTime, "2024-05-01 10:30:00 +0000 UTC", ts},
		{field.TypeTime, ts.In(time.FixedZone("X", 3600)), ts},
		{field.TypeJSON, []byte(`{"a":1}`), json.RawMessage(`{"a":1}`)},
		{field.TypeInt64, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := (&FieldSpec{Type: tt.typ}).Scan(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsConstraintError(t *testing.T) {
	fk := errors.New("constraint failed: FOREIGN KEY constraint failed (787)")
	assert.True(t, IsForeignKeyConstraintError(fk))
	assert.True(t, IsConstraintError(fk))
	assert.False(t, IsUniqueConstraintError(fk))
	assert.True(t, IsUniqueConstraintError(errors.New(`pq: duplicate key value violates unique constraint "users_pkey"`)))
	assert.True(t, IsCheckConstraintError(errors.New("Error 3819: Check constraint 'c' is violated.")))
	assert.False(t, IsConstraintError(errors.New("connection refused")))
	assert.False(t, IsConstraintError(nil))

	wrapped := wrapConstraint(fk)
	var ce *ConstraintError
	require.ErrorAs(t, wrapped, &ce)
	assert.ErrorIs(t, wrapped, fk)
	assert.Same(t, wrapped, wrapConstraint(wrapped))
}
