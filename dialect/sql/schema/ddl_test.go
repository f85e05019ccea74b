package schema

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"testing"

	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/sqlite"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/model"
	"github.com/syssam/sensorthings/schema/field"
)

func modelTables(t *testing.T, opts ...model.Option) []*Table {
	t.Helper()
	_, g, err := model.New(opts...)
	require.NoError(t, err)
	tables, err := Tables(g)
	require.NoError(t, err)
	return tables
}

func tableNames(tables []*Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

func columnNames(cs []*Column) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

func TestTables(t *testing.T) {
	tables := modelTables(t)
	order := tableNames(tables)
	require.Len(t, tables, 10)
	before := func(a, b string) {
		t.Helper()
		assert.Less(t, slices.Index(order, a), slices.Index(order, b), "%s before %s", a, b)
	}
	before("things", "datastreams")
	before("sensors", "datastreams")
	before("observed_properties", "datastreams")
	before("datastreams", "observations")
	before("features_of_interest", "observations")
	before("things", "historical_locations")
	assert.Equal(t, []string{model.ThingsLocations, model.HistoricalLocationsLocations}, order[8:])

	byName := make(map[string]*Table)
	for _, t := range tables {
		byName[t.Name] = t
	}
	ds := byName["datastreams"]
	id, ok := ds.Column("id")
	require.True(t, ok)
	assert.True(t, id.Increment)
	assert.Equal(t, []*Column{id}, ds.PrimaryKey)
	thingID, ok := ds.Column("thing_id")
	require.True(t, ok)
	assert.False(t, thingID.Nullable, "the Thing of a Datastream is mandatory")
	require.NotEmpty(t, ds.ForeignKeys)
	assert.Equal(t, Cascade, ds.ForeignKeys[0].OnDelete)
	_, ok = ds.Index("datastreams_thing_id")
	assert.True(t, ok)
	unit, ok := ds.Column("unit_of_measurement")
	require.True(t, ok)
	assert.Equal(t, field.TypeJSON, unit.Type)
	assert.False(t, unit.Nullable)

	obs := byName["observations"]
	foi, ok := obs.Column("feature_of_interest_id")
	require.True(t, ok)
	assert.True(t, foi.Nullable)
	for _, fk := range obs.ForeignKeys {
		if fk.Columns[0] == foi {
			assert.Equal(t, SetNull, fk.OnDelete)
		}
	}

	tl := byName[model.ThingsLocations]
	assert.True(t, tl.Link)
	assert.Empty(t, tl.PrimaryKey)
	assert.Equal(t, []string{"thing_id", "location_id", model.RankColumn}, columnNames(tl.Columns))
	rank, ok := tl.Index("things_locations_thing_id_rank")
	require.True(t, ok, "the order column is indexed per thing")
	assert.True(t, rank.Unique)
	assert.Len(t, tl.ForeignKeys, 2)

	res := ValidateSchema(tables)
	assert.False(t, res.HasErrors(), res.String())
	assert.False(t, res.HasWarnings(), res.String())
}

func TestTables_UUIDKeys(t *testing.T) {
	for _, tbl := range modelTables(t, model.WithUUIDKeys()) {
		for _, c := range tbl.Columns {
			if c.Name == "id" || strings.HasSuffix(c.Name, "_id") {
				assert.Equal(t, field.TypeUUID, c.Type, "%s.%s", tbl.Name, c.Name)
				assert.False(t, c.Increment)
			}
		}
	}
}

func TestStatements(t *testing.T) {
	things := NewTable("things").
		AddPrimary(&Column{Name: "id", Type: field.TypeInt64, Increment: true}).
		AddColumn(&Column{Name: "name", Type: field.TypeString}).
		AddColumn(&Column{Name: "properties", Type: field.TypeJSON, Nullable: true})
	ds := NewTable("datastreams").
		AddPrimary(&Column{Name: "id", Type: field.TypeInt64, Increment: true}).
		AddColumn(&Column{Name: "thing_id", Type: field.TypeInt64})
	ds.AddForeignKey(&ForeignKey{
		Symbol:     "datastreams_things_thing_id",
		Columns:    ds.Columns[1:],
		RefTable:   things,
		RefColumns: things.PrimaryKey,
		OnDelete:   Cascade,
	}).AddIndex("datastreams_thing_id", false, []string{"thing_id"})

	tests := []struct {
		dialect string
		tables  []*Table
		fks     bool
		want    []string
		not     []string
	}{
		{
			dialect: dialect.Postgres,
			tables:  []*Table{things},
			want: []string{
				`CREATE TABLE "things" (`,
				`"id" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY`,
				`"name" text NOT NULL`,
				`"properties" jsonb NULL`,
				`PRIMARY KEY ("id")`,
			},
		},
		{
			dialect: dialect.SQLite,
			tables:  []*Table{things},
			want: []string{
				"CREATE TABLE `things` (",
				"`id` integer NOT NULL PRIMARY KEY AUTOINCREMENT",
				"`name` text NOT NULL",
				"`properties` json NULL",
			},
		},
		{
			dialect: dialect.Postgres,
			tables:  []*Table{things, ds},
			fks:     true,
			want: []string{
				`CREATE TABLE "datastreams" (`,
				`CONSTRAINT "datastreams_things_thing_id" FOREIGN KEY ("thing_id") REFERENCES "things" ("id") ON DELETE CASCADE`,
				`CREATE INDEX "datastreams_thing_id" ON "datastreams" ("thing_id")`,
			},
		},
		{
			dialect: dialect.Postgres,
			tables:  []*Table{ds},
			want:    []string{`CREATE INDEX "datastreams_thing_id" ON "datastreams" ("thing_id")`},
			not:     []string{"FOREIGN KEY"},
		},
		{
			dialect: dialect.MySQL,
			tables:  []*Table{ds},
			fks:     true,
			want: []string{
				"CREATE TABLE `datastreams` (",
				"`id` bigint NOT NULL AUTO_INCREMENT",
				"INDEX `datastreams_thing_id` (`thing_id`)",
				"CONSTRAINT `datastreams_things_thing_id` FOREIGN KEY (`thing_id`) REFERENCES `things` (`id`) ON DELETE CASCADE",
			},
			not: []string{"CREATE INDEX"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.tables[len(tt.tables)-1].Name, func(t *testing.T) {
			stmts, err := Statements(context.Background(), tt.dialect, tt.tables, tt.fks)
			require.NoError(t, err)
			all := strings.Join(stmts, ";\n")
			for _, w := range tt.want {
				assert.Contains(t, all, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, all, n)
			}
		})
	}

	_, err := Statements(context.Background(), "oracle", []*Table{things}, false)
	require.Error(t, err)
}

func TestStatements_ModelOrder(t *testing.T) {
	stmts, err := Statements(context.Background(), dialect.Postgres, modelTables(t), true)
	require.NoError(t, err)
	created := func(table string) int {
		t.Helper()
		i := slices.IndexFunc(stmts, func(s string) bool { return strings.HasPrefix(s, `CREATE TABLE "`+table+`" (`) })
		require.NotEqual(t, -1, i, table)
		return i
	}
	assert.Less(t, created("things"), created("datastreams"))
	assert.Less(t, created("datastreams"), created("observations"))
	assert.Less(t, created("locations"), created(model.ThingsLocations))
	assert.Contains(t, stmts, `CREATE UNIQUE INDEX "things_locations_thing_id_rank" ON "things_locations" ("thing_id", "rank")`)
}

func TestAtlasType(t *testing.T) {
	format := func(d string, c *Column, bounded bool) string {
		t.Helper()
		var (
			f   string
			err error
		)
		switch typ := c.atlasType(d, bounded); d {
		case dialect.MySQL:
			f, err = mysql.FormatType(typ)
		case dialect.SQLite:
			f, err = sqlite.FormatType(typ)
		default:
			f, err = postgres.FormatType(typ)
		}
		require.NoError(t, err)
		return f
	}
	c := &Column{Name: "name", Type: field.TypeString}
	assert.Equal(t, "longtext", format(dialect.MySQL, c, false))
	assert.Equal(t, "varchar(191)", format(dialect.MySQL, c, true))
	c.Size = 64
	assert.Equal(t, "varchar(64)", format(dialect.MySQL, c, true))
	assert.Equal(t, "uuid", format(dialect.Postgres, &Column{Type: field.TypeUUID}, true))
	assert.Equal(t, "char(36)", format(dialect.MySQL, &Column{Type: field.TypeUUID}, true))
	assert.Equal(t, "datetime(6)", format(dialect.MySQL, &Column{Type: field.TypeTime}, false))
	assert.Equal(t, "timestamptz", format(dialect.Postgres, &Column{Type: field.TypeTime}, false))
	assert.Equal(t, "json", format(dialect.SQLite, &Column{Type: field.TypeGeometry}, false))
}

func TestSortTables_Cycle(t *testing.T) {
	a := NewTable("a").AddPrimary(&Column{Name: "id", Type: field.TypeInt64})
	b := NewTable("b").AddPrimary(&Column{Name: "id", Type: field.TypeInt64})
	a.AddForeignKey(&ForeignKey{Symbol: "a_b", Columns: a.PrimaryKey, RefTable: b, RefColumns: b.PrimaryKey})
	b.AddForeignKey(&ForeignKey{Symbol: "b_a", Columns: b.PrimaryKey, RefTable: a, RefColumns: a.PrimaryKey})
	_, err := sortTables([]*Table{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCreate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	const list = "SELECT table_name FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA()"
	things := NewTable("things").
		AddPrimary(&Column{Name: "id", Type: field.TypeInt64, Increment: true}).
		AddColumn(&Column{Name: "name", Type: field.TypeString}).
		AddIndex("things_name", true, []string{"name"})
	stmts, err := Statements(context.Background(), dialect.Postgres, []*Table{things}, true)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	mock.ExpectQuery(list).WillReturnRows(sqlmock.NewRows([]string{"table_name"}))
	for _, stmt := range stmts {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	drv := sql.OpenDB(dialect.Postgres, db)
	require.NoError(t, Create(context.Background(), drv, dialect.Postgres, []*Table{things}))

	mock.ExpectQuery(list).WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("things"))
	require.NoError(t, Create(context.Background(), drv, dialect.Postgres, []*Table{things}), "existing tables are skipped")
	require.NoError(t, mock.ExpectationsWereMet())

	invalid := NewTable("things").AddColumn(&Column{Name: "name"}).AddColumn(&Column{Name: "name"})
	err = Create(context.Background(), drv, dialect.Postgres, []*Table{invalid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column")
}

func TestCreate_SQLite(t *testing.T) {
	drv, err := sql.Open(dialect.SQLite, "file:ddl?mode=memory&cache=shared&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	defer drv.Close()
	ctx := context.Background()
	tables := modelTables(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for range 2 {
		require.NoError(t, Create(ctx, drv, dialect.SQLite, tables, WithLogger(logger)))
	}
	require.NoError(t, drv.Exec(ctx, "INSERT INTO `things` (`name`, `description`) VALUES (?, ?)", []any{"T1", "roof"}, nil))
	require.NoError(t, drv.Exec(ctx,
		"INSERT INTO `locations` (`name`, `description`, `encoding_type`, `location`) VALUES (?, ?, ?, ?)",
		[]any{"L1", "here", "application/geo+json", `{"type":"Point","coordinates":[1,2]}`}, nil))
	require.NoError(t, drv.Exec(ctx, "INSERT INTO `things_locations` (`thing_id`, `location_id`, `rank`) VALUES (1, 1, 0)", []any{}, nil))
	err = drv.Exec(ctx, "INSERT INTO `things_locations` (`thing_id`, `location_id`, `rank`) VALUES (7, 1, 1)", []any{}, nil)
	require.Error(t, err, "foreign keys are enforced")
	assert.True(t, regexp.MustCompile(`(?i)foreign key`).MatchString(err.Error()))
	err = drv.Exec(ctx, "INSERT INTO `things_locations` (`thing_id`, `location_id`, `rank`) VALUES (1, 1, 0)", []any{}, nil)
	require.Error(t, err, "a rank is taken once per thing")
}
