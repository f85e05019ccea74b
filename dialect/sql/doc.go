// Package sql provides the SQL statement builders and the database/sql
// driver of the store.
//
// Statements render with the identifier quoting and placeholders of their
// dialect (PostgreSQL, MySQL, SQLite):
//
//	import "github.com/syssam/sensorthings/dialect"
//
//	query, args := sql.Dialect(dialect.Postgres).
//	    Select("id", "name").
//	    From(sql.Table("things")).
//	    Where(sql.EQ("name", "T1")).
//	    OrderBy("id", false).
//	    Limit(10).
//	    Query()
//	// SELECT "id", "name" FROM "things" WHERE "name" = $1 ORDER BY "id" LIMIT 10
//
// # Builders
//
//   - Builder: low-level string builder with identifier quoting and arguments
//   - Selector: SELECT with joins, predicates, ordering, paging and locking
//   - InsertBuilder: INSERT, with RETURNING where the dialect supports it
//   - UpdateBuilder: UPDATE with SET, SET NULL and increments
//   - DeleteBuilder: DELETE, with a row limit rewritten per dialect
//
// # Predicates
//
//	sql.EQ("name", "T1")                    // name = $1
//	sql.NEQ("observation_type", "x")        // observation_type <> $1
//	sql.GT("rank", 2)                       // rank > $1
//	sql.In("id", 1, 2, 3)                   // id IN ($1, $2, $3)
//	sql.IsNull("thing_id")                  // thing_id IS NULL
//	sql.HasPrefix("name", "temp")           // name LIKE $1
//	sql.And(sql.NotNull("a"), sql.EQ("b", 1))
//
// # Joins
//
//	t := sql.Table("things").As("t0")
//	d := sql.Table("datastreams").As("t1")
//	sql.Select(t.C("id")).
//	    From(t).
//	    Join(d).On(d.C("thing_id"), t.C("id")).
//	    Where(sql.EQ(d.C("name"), "temp"))
//
// # Drivers
//
// Open returns a Driver for a database/sql driver registered under the
// dialect name; OpenDriver takes the driver name separately, e.g. "pgx" for
// PostgreSQL. StatsDriver and DebugDriver wrap a Driver to record statement
// statistics and slow statements, or to log every statement.
package sql
