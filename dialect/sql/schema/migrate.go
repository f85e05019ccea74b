package schema

import (
	"context"
	"fmt"
	"log/slog"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	atlas "ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/schema/field"
)

// MigrateOption configures Create.
type MigrateOption func(*migrateConfig)

type migrateConfig struct {
	foreignKeys bool
	logger      *slog.Logger
}

// WithForeignKeys enables or disables the creation of foreign key
// constraints. Enabled by default.
func WithForeignKeys(b bool) MigrateOption {
	return func(m *migrateConfig) { m.foreignKeys = b }
}

// WithLogger sets the logger of the executed statements.
func WithLogger(l *slog.Logger) MigrateOption {
	return func(m *migrateConfig) { m.logger = l }
}

// Create validates the tables and creates the missing ones with their
// indexes. Tables that exist are left untouched.
func Create(ctx context.Context, drv dialect.ExecQuerier, d string, tables []*Table, opts ...MigrateOption) error {
	m := &migrateConfig{foreignKeys: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if res := ValidateSchema(tables); res.HasErrors() {
		return fmt.Errorf("schema: invalid tables:\n%s", res)
	}
	exist, err := existingTables(ctx, drv, d)
	if err != nil {
		return err
	}
	var missing []*Table
	for _, t := range tables {
		if !exist[t.Name] {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		m.logger.DebugContext(ctx, "schema: no missing tables")
		return nil
	}
	plan, err := Plan(ctx, d, missing, m.foreignKeys)
	if err != nil {
		return err
	}
	for _, c := range plan.Changes {
		m.logger.DebugContext(ctx, "schema: exec", "change", c.Comment, "statement", c.Cmd)
		if err := drv.Exec(ctx, c.Cmd, []any{}, nil); err != nil {
			return fmt.Errorf("schema: %s: %w", c.Comment, err)
		}
	}
	return nil
}

// Statements returns the statements creating the tables and their indexes,
// in creation order.
func Statements(ctx context.Context, d string, tables []*Table, foreignKeys bool) ([]string, error) {
	plan, err := Plan(ctx, d, tables, foreignKeys)
	if err != nil {
		return nil, err
	}
	stmts := make([]string, len(plan.Changes))
	for i, c := range plan.Changes {
		stmts[i] = c.Cmd
	}
	return stmts, nil
}

// Plan returns the migration plan creating the tables in the dialect.
func Plan(ctx context.Context, d string, tables []*Table, foreignKeys bool) (*migrate.Plan, error) {
	planner, err := planApplier(d)
	if err != nil {
		return nil, err
	}
	c := &converter{dialect: d, foreignKeys: foreignKeys, tables: make(map[*Table]*atlas.Table)}
	changes := make([]atlas.Change, 0, len(tables))
	for _, t := range tables {
		at, err := c.table(t)
		if err != nil {
			return nil, err
		}
		changes = append(changes, &atlas.AddTable{T: at})
	}
	plan, err := planner.PlanChanges(ctx, "create", changes)
	if err != nil {
		return nil, fmt.Errorf("schema: plan tables: %w", err)
	}
	return plan, nil
}

func planApplier(d string) (migrate.PlanApplier, error) {
	switch d {
	case dialect.SQLite:
		return sqlite.DefaultPlan, nil
	case dialect.MySQL:
		return mysql.DefaultPlan, nil
	case dialect.Postgres:
		return postgres.DefaultPlan, nil
	default:
		return nil, fmt.Errorf("schema: unsupported dialect %q", d)
	}
}

// existingTables returns the names of the tables of the current schema.
func existingTables(ctx context.Context, drv dialect.ExecQuerier, d string) (map[string]bool, error) {
	var query string
	switch d {
	case dialect.SQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table'"
	case dialect.MySQL:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()"
	case dialect.Postgres:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA()"
	default:
		return nil, fmt.Errorf("schema: unsupported dialect %q", d)
	}
	var rows sql.Rows
	if err := drv.Query(ctx, query, []any{}, &rows); err != nil {
		return nil, fmt.Errorf("schema: list tables: %w", err)
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// converter maps tables to their atlas description. Referenced tables are
// converted on demand.
type converter struct {
	dialect     string
	foreignKeys bool
	tables      map[*Table]*atlas.Table
	columns     map[*Column]*atlas.Column
}

func (c *converter) table(t *Table) (*atlas.Table, error) {
	if at, ok := c.tables[t]; ok {
		return at, nil
	}
	if c.columns == nil {
		c.columns = make(map[*Column]*atlas.Column)
	}
	at := atlas.NewTable(t.Name)
	c.tables[t] = at
	for _, col := range t.Columns {
		ac := atlas.NewColumn(col.Name).
			SetType(col.atlasType(c.dialect, t.isKey(col) || t.isIndexed(col))).
			SetNull(col.Nullable)
		if t.isKey(col) && col.Increment {
			switch c.dialect {
			case dialect.SQLite:
				ac.Attrs = append(ac.Attrs, &sqlite.AutoIncrement{})
			case dialect.MySQL:
				ac.Attrs = append(ac.Attrs, &mysql.AutoIncrement{})
			default:
				ac.Attrs = append(ac.Attrs, &postgres.Identity{Generation: "BY DEFAULT"})
			}
		}
		if col.Unique {
			at.AddIndexes(atlas.NewUniqueIndex(fmt.Sprintf("%s_%s_key", t.Name, col.Name)).AddColumns(ac))
		}
		at.AddColumns(ac)
		c.columns[col] = ac
	}
	if len(t.PrimaryKey) > 0 {
		at.SetPrimaryKey(atlas.NewPrimaryKey(c.lookup(t.PrimaryKey)...))
	}
	for _, idx := range t.Indexes {
		ai := atlas.NewIndex(idx.Name).SetUnique(idx.Unique)
		at.AddIndexes(ai.AddColumns(c.lookup(idx.Columns)...))
	}
	if !c.foreignKeys {
		return at, nil
	}
	for _, fk := range t.ForeignKeys {
		ref, err := c.table(fk.RefTable)
		if err != nil {
			return nil, err
		}
		afk := atlas.NewForeignKey(fk.Symbol).
			AddColumns(c.lookup(fk.Columns)...).
			SetRefTable(ref).
			AddRefColumns(c.lookup(fk.RefColumns)...)
		if fk.OnDelete != "" {
			afk.SetOnDelete(atlas.ReferenceOption(fk.OnDelete))
		}
		at.AddForeignKeys(afk)
	}
	return at, nil
}

func (c *converter) lookup(cols []*Column) []*atlas.Column {
	acs := make([]*atlas.Column, len(cols))
	for i, col := range cols {
		ac, ok := c.columns[col]
		if !ok {
			ac = atlas.NewColumn(col.Name)
		}
		acs[i] = ac
	}
	return acs
}

// atlasType returns the column type in the dialect. Key and indexed string
// columns get a bounded type in MySQL.
func (c *Column) atlasType(d string, bounded bool) atlas.Type {
	switch d {
	case dialect.SQLite:
		switch c.Type {
		case field.TypeBool:
			return &atlas.BoolType{T: "boolean"}
		case field.TypeInt64:
			return &atlas.IntegerType{T: "integer"}
		case field.TypeFloat64:
			return &atlas.FloatType{T: "real"}
		case field.TypeTime:
			return &atlas.TimeType{T: "datetime"}
		case field.TypeJSON, field.TypeGeometry:
			return &atlas.JSONType{T: "json"}
		default:
			return &atlas.StringType{T: "text"}
		}
	case dialect.MySQL:
		switch c.Type {
		case field.TypeBool:
			return &atlas.BoolType{T: "boolean"}
		case field.TypeInt64:
			return &atlas.IntegerType{T: "bigint"}
		case field.TypeFloat64:
			return &atlas.FloatType{T: "double"}
		case field.TypeTime:
			precision := 6
			return &atlas.TimeType{T: "datetime", Precision: &precision}
		case field.TypeUUID:
			return &atlas.StringType{T: "char", Size: 36}
		case field.TypeJSON, field.TypeGeometry:
			return &atlas.JSONType{T: "json"}
		default:
			if bounded {
				size := c.Size
				if size <= 0 {
					size = 191
				}
				return &atlas.StringType{T: "varchar", Size: int(size)}
			}
			return &atlas.StringType{T: "longtext"}
		}
	default:
		switch c.Type {
		case field.TypeBool:
			return &atlas.BoolType{T: "boolean"}
		case field.TypeInt64:
			return &atlas.IntegerType{T: "bigint"}
		case field.TypeFloat64:
			return &atlas.FloatType{T: "double precision"}
		case field.TypeTime:
			return &atlas.TimeType{T: "timestamp with time zone"}
		case field.TypeUUID:
			return &atlas.UUIDType{T: "uuid"}
		case field.TypeJSON, field.TypeGeometry:
			return &atlas.JSONType{T: "jsonb"}
		default:
			return &atlas.StringType{T: "text"}
		}
	}
}

func (t *Table) isKey(c *Column) bool {
	for _, pk := range t.PrimaryKey {
		if pk == c {
			return true
		}
	}
	return false
}

func (t *Table) isIndexed(c *Column) bool {
	for _, fk := range t.ForeignKeys {
		for _, fc := range fk.Columns {
			if fc == c {
				return true
			}
		}
	}
	for _, idx := range t.Indexes {
		for _, ic := range idx.Columns {
			if ic == c {
				return true
			}
		}
	}
	return false
}
